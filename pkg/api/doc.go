/*
Package api implements the Burrow admin HTTP API.

The API is a thin adapter over the namespace registry built on gin. Every
request passes through the same middleware chain:

	recovery → access log → metrics → auth gate → rate limit (optional) → route

Routes:

	GET    /v1/namespaces[?include_pending=true]   list
	GET    /v1/namespaces/:name                    describe
	POST   /v1/namespaces/:name/create             create (JSON body, empty = {})
	POST   /v1/namespaces/:name/delete             delete
	DELETE /v1/namespaces/:name                    delete
	GET    /health /ready /live                    component health
	GET    /metrics                                Prometheus exposition

When an auth key is configured, every route except the health and metrics
endpoints requires an Authorization header of exactly two fields,
"<scheme> <token>". The scheme is not interpreted. Failures return 401
before routing, so unknown paths also answer 401.

Errors always have the body {"error": kind, "message": text} where kind is
one of the registry kinds, "unauthorized" or "rate_limited".
*/
package api
