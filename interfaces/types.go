// Package interfaces defines the core interfaces and types for the secure
// node control plane. It provides the contract between different components
// without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"

	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ruteri/secure-node-control/cryptoutils"
)

type TLSCert = cryptoutils.TLSCert
type TLSKey = cryptoutils.TLSKey
type ArmoredKeyring = cryptoutils.ArmoredKeyring

// RunState is the current phase of the node's startup/login/shutdown
// lifecycle. Exactly one value is current at any time.
type RunState int

const (
	// StateWaitingInit is the initial state before account discovery ran.
	StateWaitingInit RunState = iota

	// StateFatalError is the terminal state of a failed startup sequence.
	// The process keeps serving status and shutdown.
	StateFatalError

	// StateWaitingAccountSelect means discovery finished and the node waits
	// for an account selection (or for an identity import / location
	// creation that produces one).
	StateWaitingAccountSelect

	// StateWaitingStartup means an account is selected and the unlock loop
	// is running.
	StateWaitingStartup

	// StateRunningFull means the node is up and this module drove the whole
	// startup sequence.
	StateRunningFull

	// StateRunningPartial means the node is up but an external driver owns
	// part of the startup sequence.
	StateRunningPartial
)

// String returns the wire representation used by the status API.
func (s RunState) String() string {
	switch s {
	case StateWaitingInit:
		return "waiting_init"
	case StateFatalError:
		return "fatal_error"
	case StateWaitingAccountSelect:
		return "waiting_account_select"
	case StateWaitingStartup:
		return "waiting_startup"
	case StateRunningFull:
		return "running_ok"
	case StateRunningPartial:
		return "running_ok_no_full_control"
	default:
		return "unknown"
	}
}

// RunStateFromString parses the wire representation back into a RunState.
func RunStateFromString(s string) (RunState, error) {
	switch s {
	case "waiting_init":
		return StateWaitingInit, nil
	case "fatal_error":
		return StateFatalError, nil
	case "waiting_account_select":
		return StateWaitingAccountSelect, nil
	case "waiting_startup":
		return StateWaitingStartup, nil
	case "running_ok":
		return StateRunningFull, nil
	case "running_ok_no_full_control":
		return StateRunningPartial, nil
	default:
		return StateWaitingInit, fmt.Errorf("unknown run state %q", s)
	}
}

// Running reports whether the node finished startup.
func (s RunState) Running() bool {
	return s == StateRunningFull || s == StateRunningPartial
}

// ChangeToken is an opaque, strictly increasing version counter bumped on
// every externally observable mutation. Pollers compare tokens for equality
// and never interpret the magnitude.
type ChangeToken uint64

// LocationID identifies a node location (an unlockable account).
type LocationID [16]byte

// NewLocationIDFromBytes creates a location ID from a raw 16-byte slice.
func NewLocationIDFromBytes(id []byte) (LocationID, error) {
	if len(id) != 16 {
		return LocationID{}, errors.New("invalid location id length: must be 16 bytes")
	}

	var res LocationID
	copy(res[:], id)
	return res, nil
}

// NewLocationIDFromHex creates a location ID from its hex string form.
func NewLocationIDFromHex(id string) (LocationID, error) {
	clean := strings.TrimPrefix(id, "0x")
	if len(clean) != 32 {
		return LocationID{}, errors.New("invalid location id length: hex string must be 32 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return LocationID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewLocationIDFromBytes(idBytes)
}

// NewRandomLocationID mints a fresh location ID.
func NewRandomLocationID() LocationID {
	return LocationID(uuid.New())
}

// String returns the hex string representation of the location ID.
func (id LocationID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 16-byte ID.
func (id LocationID) Bytes() []byte {
	return id[:]
}

// Equal compares two location IDs for equality.
func (id LocationID) Equal(other LocationID) bool {
	return id == other
}

// IsZero reports whether the ID is unset.
func (id LocationID) IsZero() bool {
	return id == LocationID{}
}

// MarshalJSON encodes the ID as its hex string form.
func (id LocationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the ID from its hex string form.
func (id *LocationID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewLocationIDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PgpFingerprint identifies a PGP identity in the node keyring.
type PgpFingerprint [20]byte

// NewPgpFingerprintFromBytes creates a fingerprint from a raw 20-byte slice.
func NewPgpFingerprintFromBytes(fp []byte) (PgpFingerprint, error) {
	if len(fp) != 20 {
		return PgpFingerprint{}, errors.New("invalid fingerprint length: must be 20 bytes")
	}

	var res PgpFingerprint
	copy(res[:], fp)
	return res, nil
}

// NewPgpFingerprintFromHex creates a fingerprint from its hex string form.
func NewPgpFingerprintFromHex(fp string) (PgpFingerprint, error) {
	clean := strings.TrimPrefix(fp, "0x")
	if len(clean) != 40 {
		return PgpFingerprint{}, errors.New("invalid fingerprint length: hex string must be 40 characters")
	}

	fpBytes, err := hex.DecodeString(clean)
	if err != nil {
		return PgpFingerprint{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewPgpFingerprintFromBytes(fpBytes)
}

// String returns the hex string representation of the fingerprint.
func (fp PgpFingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// Bytes returns the raw 20-byte fingerprint.
func (fp PgpFingerprint) Bytes() []byte {
	return fp[:]
}

// Equal compares two fingerprints for equality.
func (fp PgpFingerprint) Equal(other PgpFingerprint) bool {
	return fp == other
}

// IsZero reports whether the fingerprint is unset.
func (fp PgpFingerprint) IsZero() bool {
	return fp == PgpFingerprint{}
}

// MarshalJSON encodes the fingerprint as its hex string form.
func (fp PgpFingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(fp.String())
}

// UnmarshalJSON decodes the fingerprint from its hex string form.
func (fp *PgpFingerprint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewPgpFingerprintFromHex(s)
	if err != nil {
		return err
	}
	*fp = parsed
	return nil
}

// PendingKind distinguishes the two kinds of credential requests.
type PendingKind int

const (
	// PendingPassword asks for the unlock passphrase of the selected account.
	PendingPassword PendingKind = iota

	// PendingSignature asks for a detached signature produced outside the
	// node, used when the identity's secret key is not held locally.
	PendingSignature
)

// String returns the wire representation of the request kind.
func (k PendingKind) String() string {
	switch k {
	case PendingPassword:
		return "password"
	case PendingSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// PendingRequestView is the externally visible copy of an outstanding
// credential request.
type PendingRequestView struct {
	Kind           PendingKind
	Title          string
	KeyDetail      string
	PreviousWasBad bool
	Attempt        int

	// SignPayload and SignReason are set for signature requests only.
	SignPayload []byte
	SignReason  string
}

// StatusSnapshot is a consistent copy of the externally observable control
// state, taken under the data lock.
type StatusSnapshot struct {
	State     RunState
	Token     ChangeToken
	LastError string

	// Selected is the current account identity reference, zero when none.
	Selected LocationID

	// Pending is the outstanding credential request, nil when none.
	Pending *PendingRequestView
}

// AccountInfo describes a discovered node location.
type AccountInfo struct {
	ID           LocationID     `json:"id"`
	Name         string         `json:"name"`
	Identity     PgpFingerprint `json:"identity"`
	IdentityName string         `json:"identity_name"`
	Autologin    bool           `json:"autologin"`
	DynDNSHost   string         `json:"dyndns_host,omitempty"`
}

// IdentityInfo describes a PGP identity in the node keyring.
type IdentityInfo struct {
	Fingerprint  PgpFingerprint `json:"fingerprint"`
	Name         string         `json:"name"`
	HasSecretKey bool           `json:"has_secret_key"`
}

// CreateLocationParams carries the inputs for creating a new location.
type CreateLocationParams struct {
	Name       string
	Identity   PgpFingerprint
	Autologin  bool
	DynDNSHost string
}

// Validate checks the parameters for structural problems.
func (p CreateLocationParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("location name must not be empty")
	}
	if p.Identity.IsZero() {
		return errors.New("location identity fingerprint must be set")
	}
	return nil
}
