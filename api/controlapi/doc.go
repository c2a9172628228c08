// Package controlapi implements the HTTP handler and client for the node
// control API.
//
// This package exposes the login and account-lifecycle state machine over
// plain JSON routes. The handler maps every route onto one non-blocking
// machine or keyring operation, so no request ever waits for the init
// worker; clients follow progress by polling the status route and watching
// the change token.
//
// Key components:
//   - Handler: chi routes decoding wire requests into typed machine calls
//   - Client: typed client mirroring every route, used by the admin CLI
//
// Error mapping is uniform across routes:
//   - malformed input never reaches the machine and returns 400
//   - state violations, unknown locations and answers without a matching
//     pending request return 409
//   - engine failures return 500
package controlapi
