package api

import (
	"context"

	"github.com/ruteri/secure-node-control/interfaces"
)

// Controller is the control-machine surface exposed over HTTP. All methods
// are non-blocking: they inspect or mutate machine state and return
// immediately, so handlers never wait on the init worker.
type Controller interface {
	// Status returns a consistent snapshot of the observable control state.
	Status() interfaces.StatusSnapshot

	// Accounts returns the known locations.
	Accounts() []interfaces.AccountInfo

	// SelectAccount picks the location to unlock.
	SelectAccount(id interfaces.LocationID, autologin bool) error

	// SupplyPassword answers the pending password request.
	SupplyPassword(password string, canceled bool) error

	// ConfirmSignature answers the pending deferred-signature request.
	ConfirmSignature(signature []byte, rejected bool) error

	// RequestShutdown asks the node to exit.
	RequestShutdown()

	// ImportPgpKey merges armored PGP key material into the node keyring.
	ImportPgpKey(ctx context.Context, armored []byte) (interfaces.PgpFingerprint, error)

	// CreateLocation mints a new location and schedules its first unlock.
	CreateLocation(ctx context.Context, params interfaces.CreateLocationParams, password string) (interfaces.LocationID, error)
}

// IdentityLister is the keyring surface exposed over HTTP.
type IdentityLister interface {
	Identities(ctx context.Context) ([]interfaces.IdentityInfo, error)
}

// StatusResponse is the wire form of the machine status snapshot.
type StatusResponse struct {
	// State is the run state wire name, e.g. "waiting_account_select".
	State string `json:"state"`

	// ChangeToken increases by one for every observable mutation. Clients
	// poll until it moves past a remembered value.
	ChangeToken uint64 `json:"change_token"`

	// LastError describes the failure that put the machine into the fatal
	// state. Empty otherwise.
	LastError string `json:"last_error,omitempty"`

	// SelectedLocation is the hex id of the location being unlocked or
	// running. Empty before selection.
	SelectedLocation string `json:"selected_location,omitempty"`

	// PendingRequest is the credential request awaiting an answer, if any.
	PendingRequest *PendingRequest `json:"pending_request,omitempty"`
}

// PendingRequest describes a credential request posted by the init worker.
type PendingRequest struct {
	// Kind is "password" or "signature".
	Kind string `json:"kind"`

	Title          string `json:"title,omitempty"`
	KeyDetail      string `json:"key_detail,omitempty"`
	PreviousWasBad bool   `json:"previous_was_bad,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`

	// SignPayload carries the bytes to sign for signature requests
	// (base64 on the wire).
	SignPayload []byte `json:"sign_payload,omitempty"`
	SignReason  string `json:"sign_reason,omitempty"`
}

// NewStatusResponse converts a machine snapshot to its wire form.
func NewStatusResponse(snap interfaces.StatusSnapshot) StatusResponse {
	resp := StatusResponse{
		State:       snap.State.String(),
		ChangeToken: uint64(snap.Token),
		LastError:   snap.LastError,
	}
	if !snap.Selected.IsZero() {
		resp.SelectedLocation = snap.Selected.String()
	}
	if snap.Pending != nil {
		resp.PendingRequest = &PendingRequest{
			Kind:           snap.Pending.Kind.String(),
			Title:          snap.Pending.Title,
			KeyDetail:      snap.Pending.KeyDetail,
			PreviousWasBad: snap.Pending.PreviousWasBad,
			Attempt:        snap.Pending.Attempt,
			SignPayload:    snap.Pending.SignPayload,
			SignReason:     snap.Pending.SignReason,
		}
	}
	return resp
}

// LoginRequest selects a discovered location for unlock.
type LoginRequest struct {
	LocationID interfaces.LocationID `json:"location_id"`
	Autologin  bool                  `json:"autologin,omitempty"`
}

// PasswordRequest answers a pending password request.
type PasswordRequest struct {
	Password string `json:"password"`
	Canceled bool   `json:"canceled,omitempty"`
}

// SignatureRequest answers a pending deferred-signature request. Signature
// carries an armored detached PGP signature (base64 on the wire).
type SignatureRequest struct {
	Signature []byte `json:"signature,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
}

// CreateLocationRequest mints a new location bound to a keyring identity.
type CreateLocationRequest struct {
	Name        string                    `json:"name"`
	Fingerprint interfaces.PgpFingerprint `json:"pgp_fingerprint"`
	Password    string                    `json:"password"`
	Autologin   bool                      `json:"autologin,omitempty"`
	DynDNSHost  string                    `json:"dyndns,omitempty"`
}

// CreateLocationResponse returns the id of the freshly minted location.
type CreateLocationResponse struct {
	LocationID interfaces.LocationID `json:"location_id"`
}

// ImportPgpResponse returns the primary fingerprint of imported key material.
type ImportPgpResponse struct {
	Fingerprint interfaces.PgpFingerprint `json:"pgp_fingerprint"`
}
