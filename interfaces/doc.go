// Package interfaces defines core interfaces and types for the secure node
// control plane, separating interface definitions from implementations.
//
// The package provides interfaces for the key components of the system:
//
// # Control Interfaces
//
// AccountEngine: Performs the account work the control plane orchestrates,
// including discovery, unlocking with password or deferred signature, location
// creation and PGP identity management.
//
// CredentialPrompter: Lets blocking engine code ask the operator for a password
// or a detached signature. The control plane implements it by parking the
// calling goroutine until an answer arrives through the admin API.
//
// PasswordSource: Resolves a fixed unlock password from configuration so that
// interactive prompts are suppressed entirely.
//
// # Backup Interfaces
//
// ExportBackend: Stores and retrieves named key backup objects across multiple
// backend types (file, S3, IPFS).
//
// ExportBackendFactory: Creates backup backends from parsed location URIs.
//
// # Core Types
//
// The package also defines the core types of the control plane:
//
//   - RunState: current phase of the startup/login/shutdown lifecycle
//   - ChangeToken: strictly increasing version counter for status polling
//   - LocationID: 16-byte identifier of an unlockable node location
//   - PgpFingerprint: 20-byte PGP identity fingerprint
//   - PendingRequestView/StatusSnapshot: externally visible control state
//   - TLSCert/TLSKey/ArmoredKeyring: validated cryptographic material
//
// # Key Functions
//
// RunStateFromString: Parses the wire representation of a run state as used
// by the status API and its clients.
package interfaces
