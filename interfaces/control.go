package interfaces

import (
	"context"
	"errors"
)

// Control state machine errors.
var (
	// ErrInvalidStateTransition is returned when an operation is not valid
	// in the current run state.
	ErrInvalidStateTransition = errors.New("operation not allowed in current run state")

	// ErrNoPendingRequest is returned when a credential answer arrives while
	// no request is outstanding, or the answer kind does not match.
	ErrNoPendingRequest = errors.New("no matching pending credential request")

	// ErrUnknownAccount is returned when a location ID does not match any
	// discovered account.
	ErrUnknownAccount = errors.New("unknown location id")

	// ErrBadCredential is returned by account engines when an unlock attempt
	// fails because the supplied credential is wrong.
	ErrBadCredential = errors.New("bad credential")

	// ErrFatalInit wraps errors that abort the startup sequence for good.
	ErrFatalInit = errors.New("fatal initialization error")

	// ErrCanceled is returned to a blocked credential consumer when the
	// operator cancels the request or shutdown is requested.
	ErrCanceled = errors.New("credential request canceled")
)

// AccountEngine performs the account work the control plane orchestrates:
// discovery, unlocking, creation and identity management. Implementations
// are called from the control plane's init worker and from admin operations,
// and must be safe for concurrent use.
type AccountEngine interface {
	// DiscoverAccounts enumerates the locations available on this node.
	DiscoverAccounts(ctx context.Context) ([]AccountInfo, error)

	// Unlock attempts to unlock the given location with the supplied
	// password. When the location's identity requires an external signature,
	// the engine requests it through the prompter. Returns nil on success,
	// ErrBadCredential for a wrong password, ErrCanceled when the prompter
	// gave up, and any other error for a fatal condition.
	Unlock(ctx context.Context, id LocationID, password string, prompter CredentialPrompter) error

	// CreateAccount creates a new location for an existing identity,
	// protecting its key material with the supplied password.
	CreateAccount(ctx context.Context, params CreateLocationParams, password string) (AccountInfo, error)

	// SetAutologin persists the autologin preference in the location
	// metadata.
	SetAutologin(ctx context.Context, id LocationID, autologin bool) error

	// ImportIdentity adds an armored PGP key (public or secret) to the node
	// keyring and returns its fingerprint.
	ImportIdentity(ctx context.Context, armored ArmoredKeyring) (PgpFingerprint, error)

	// Identities enumerates the PGP identities in the node keyring.
	Identities(ctx context.Context) ([]IdentityInfo, error)
}

// CredentialPrompter is how blocking engine code asks the operator for
// credentials. The control plane implements it by parking the calling
// goroutine until an answer arrives through the admin API.
type CredentialPrompter interface {
	// AskForPassword blocks until the operator supplies a password or
	// cancels. The title and key detail describe what is being unlocked.
	// previousWasBad marks the prompt as a retry after a failed attempt.
	AskForPassword(title, keyDetail string, previousWasBad bool) (password string, canceled bool)

	// AskForDeferredSignature blocks until the operator supplies a detached
	// signature over payload, produced outside this process. Returns
	// ErrCanceled when the operator rejects the request.
	AskForDeferredSignature(payload []byte, reason string) ([]byte, error)
}

// PasswordSource provides a fixed unlock password from configuration,
// suppressing interactive prompts entirely when present.
type PasswordSource interface {
	// Password resolves the password. Called once at startup.
	Password(ctx context.Context) (string, error)

	// Name identifies the source kind for logging.
	Name() string
}
