// Package control implements the login and account lifecycle state machine
// of the secure node.
//
// The StateMachine owns every piece of externally observable control state:
// the run state, the change token, the pending credential request, the
// account selection, the fixed credential, the unlock attempt counter and
// the exit flag. A single mutex guards all of it and a single condition
// variable carries all wake-ups, so a status snapshot is always internally
// consistent and no wake-up can be lost.
//
// # Run states
//
// The machine starts in StateWaitingInit and advances through account
// discovery (StateWaitingAccountSelect), selection and unlock
// (StateWaitingStartup) to StateRunningFull or StateRunningPartial.
// Unrecoverable startup failures land in StateFatalError, where the process
// keeps serving status and shutdown. Shutdown is reachable from every state.
//
// # Division of labor
//
// API-facing methods (Status, SelectAccount, SupplyPassword,
// ConfirmSignature, RequestShutdown, ImportPgpKey, CreateLocation,
// ProcessShouldExit) never block on credentials: they update fields under
// the lock, bump the change token exactly once per observable mutation and
// broadcast. The init worker started by Start is the only goroutine that
// blocks; it performs discovery, waits for selection, runs the unlock loop
// and parks inside the credential broker while a request is outstanding.
//
// # Change token
//
// Every externally observable mutation advances the token by one while the
// lock is held, so pollers comparing snapshot tokens never miss a change and
// never observe a phantom one. Rejected operations leave both state and
// token untouched.
//
// # Fixed credential
//
// A fixed credential, configured at construction or captured by
// CreateLocation, makes AskForPassword return immediately without creating
// a pending request or bumping the token. This keeps the thread that created
// a location from being prompted for the password it just supplied.
package control
