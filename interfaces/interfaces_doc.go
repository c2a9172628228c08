// Package interfaces defines the core interfaces and types for the secure node control plane.
//
// This package provides the contracts between different components of the system
// without including implementation details. It separates the interface definitions
// from their implementations, allowing for:
//
//   - Clear separation of concerns
//   - Multiple implementations of the same interface
//   - Better testability through mock implementations
//   - Reduced coupling between components
//
// The package contains several key interfaces:
//
// # Control Interfaces
//
//   - AccountEngine: Performs discovery, unlocking, location creation and identity management
//   - CredentialPrompter: Bridges blocking engine code to operator-supplied credentials
//   - PasswordSource: Resolves a fixed unlock password from configuration
//
// # Backup Interfaces
//
//   - ExportBackend: Represents any system that can store and retrieve named backup objects
//   - ExportBackendFactory: Creates backup backends from location URIs
//
// # Type Definitions
//
// The package defines various types used throughout the system:
//
//   - RunState: Enum of the startup/login/shutdown lifecycle phases
//   - ChangeToken: Strictly increasing counter bumped on every observable mutation
//   - LocationID: A 16-byte identifier of an unlockable node location
//   - PgpFingerprint: A 20-byte PGP identity fingerprint
//   - PendingKind/PendingRequestView: Outstanding credential request descriptions
//   - StatusSnapshot: Consistent copy of the externally observable control state
//
// # Error Types
//
// Standard errors returned by control operations:
//
//   - ErrInvalidStateTransition: Operation not allowed in the current run state
//   - ErrNoPendingRequest: No matching pending credential request
//   - ErrUnknownAccount: Location ID does not match any discovered account
//   - ErrBadCredential: Unlock attempt failed because the credential is wrong
//   - ErrFatalInit: Startup sequence aborted for good
//   - ErrCanceled: Credential request canceled by the operator or shutdown
//
// # Usage Patterns
//
// Components should depend on interfaces rather than concrete implementations:
//
//	func New(cfg Config) (*StateMachine, error) {
//	    // cfg.Engine is an interfaces.AccountEngine
//	    // ...
//	}
//
// This allows for better testability and flexibility in changing implementations.
package interfaces
