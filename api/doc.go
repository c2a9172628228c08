/*
Package api defines the wire types and service interfaces for the node
control HTTP API.

This package is organized into two parts:

1. Wire types and interfaces (this package) shared by handler and client
2. controlapi - the chi handler and the typed client for the control routes

# System Components

The control API mediates between:

- Control machine: the login/startup state machine driving the node
- Account engine: on-disk locations and the PGP keyring
- Admin clients: the nodeadmin CLI and any UI polling the status endpoint

# Polling Model

The API exposes no push channel. Every observable mutation increments the
change token reported by the status route; clients remember the last token
they saw and poll until it moves. Answers to credential requests are
accepted once: the first password or signature wins and later answers are
rejected with a conflict.

# Route Summary

	GET  /api/v1/status            current state, token and pending request
	GET  /api/v1/identities        PGP identities in the node keyring
	GET  /api/v1/locations         discovered and created locations
	POST /api/v1/login             select a location for unlock
	POST /api/v1/password          answer a password request
	POST /api/v1/signature         answer a deferred-signature request
	POST /api/v1/shutdown          request node shutdown
	POST /api/v1/import_pgp        import armored PGP key material
	POST /api/v1/create_location   mint a location and unlock it

See the controlapi subpackage for handler and client details.
*/
package api
