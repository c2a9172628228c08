// Package main (cmd/noded) implements the node control daemon.
//
// The daemon owns the node's login and lifecycle sequence: it discovers the
// locations stored under the data directory, waits for an operator to select
// one, collects the credentials the unlock needs (interactively through the
// control API, or from a fixed credential source) and reports progress
// through a polled status endpoint. Once running it keeps serving status,
// identity management and shutdown until asked to exit.
//
// The control API is served over plain HTTP on --listen-addr and is expected
// to be reached through a local or otherwise trusted channel. Prometheus
// metrics are served on a separate listener (--metrics-addr), with optional
// pprof profiling under /debug.
//
// A fixed credential source (--password-source) suppresses interactive
// password prompts entirely. Supported URI schemes:
//
//	static:<password>                           - literal value
//	env:<VAR>                                   - environment variable
//	file:<path>                                 - first line of a file
//	vault://<host:port>/<mount>/<path>#<field>  - Vault KV v2 secret
//
// The daemon exits when shutdown is requested, either by SIGINT/SIGTERM or
// through the control API. Both paths converge on the control machine's
// shutdown flag, which the main loop polls every 250ms; the HTTP server is
// then drained and shut down gracefully.
//
// Example usage:
//
//	noded --data-dir=/var/lib/noded \
//	    --listen-addr=127.0.0.1:9092 \
//	    --password-source=vault://vault.internal:8200/secret/nodes/login#password \
//	    --log-json
package main
