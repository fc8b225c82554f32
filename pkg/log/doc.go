/*
Package log provides structured logging for burrow using zerolog.

Init configures the global Logger once at process start; until then Logger is a
no-op so packages and tests can log freely without setup. Components derive child
loggers that carry a fixed field:

	logger := log.WithComponent("registry")
	logger.Info().Str("namespace", name).Msg("Namespace created")

	nsLog := log.WithNamespace("foo")
	nsLog.Warn().Err(err).Msg("Teardown failed")

Console output is meant for humans at a terminal; JSON output (log.json=true) is
meant for log shippers.
*/
package log
