package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - namespace control plane for a multi-tenant database server",
	Long: `Burrow manages the namespaces (logical databases) hosted by one server
process. It serves an authenticated admin HTTP API to create, list and delete
namespaces, and a gRPC endpoint on which replicas attach to a namespace.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("admin-addr", "", "Admin API address (default from config)")
	rootCmd.PersistentFlags().String("auth-key", "", "Admin API auth key (default from config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig merges the config file, BURROW_* variables and any flags bound
// by the caller onto v
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	bindings := map[string]string{
		"admin.addr":     "admin-addr",
		"admin.auth_key": "auth-key",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(v, configFile)
}

// newAdminClient builds a client from the same config sources as the server
func newAdminClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd, config.NewViper())
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.Admin.Addr, cfg.Admin.AuthKey), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Burrow version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the burrow server",
	Long: `Run the burrow server in the foreground.

Configuration is read from --config, BURROW_* environment variables
(e.g. BURROW_ADMIN_AUTH_KEY) and the flags below, in increasing precedence.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("data-dir", "", "Data directory for metadata and namespace storage")
	f.String("backend", "", "Metadata backend: memory, bolt or raft")
	f.String("node-id", "", "Raft node ID (raft backend)")
	f.String("raft-addr", "", "Raft bind address (raft backend)")
	f.String("rpc-addr", "", "Replication endpoint address")
	f.String("log-level", "", "Log level: debug, info, warn or error")
	f.Bool("log-json", false, "Log in JSON instead of console format")
	f.Bool("disable-namespaces", false, "Run single-tenant with only the default namespace")
}

func runServe(cmd *cobra.Command, args []string) error {
	v := config.NewViper()
	for key, flag := range map[string]string{
		"data_dir":                      "data-dir",
		"metadata.backend":              "backend",
		"metadata.raft.node_id":         "node-id",
		"metadata.raft.bind_addr":       "raft-addr",
		"rpc.addr":                      "rpc-addr",
		"log.level":                     "log-level",
		"log.json":                      "log-json",
		"namespaces.disable_namespaces": "disable-namespaces",
	} {
		if f := cmd.Flags().Lookup(flag); f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	log.Logger.Info().Str("version", Version).Msg("Starting burrow")

	srv, err := server.New(cfg, server.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
