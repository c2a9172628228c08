package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/secure-node-control/cryptoutils"
	"github.com/ruteri/secure-node-control/interfaces"
	"github.com/ruteri/secure-node-control/metrics"
)

// DefaultMaxPasswordAttempts is the unlock attempt ceiling used when the
// configuration does not set one.
const DefaultMaxPasswordAttempts = 3

// Config collects the dependencies and settings of the state machine.
type Config struct {
	// Engine performs discovery, unlocking, creation and identity management.
	Engine interfaces.AccountEngine

	// Log receives structured state machine events. Defaults to slog.Default().
	Log *slog.Logger

	// FullControl marks this module as the owner of the whole startup
	// sequence. It decides between StateRunningFull and StateRunningPartial.
	FullControl bool

	// MaxPasswordAttempts is the unlock attempt ceiling before the machine
	// enters StateFatalError. Defaults to DefaultMaxPasswordAttempts.
	MaxPasswordAttempts int

	// FixedPassword, when non-empty, suppresses interactive password prompts:
	// AskForPassword returns it immediately without creating a pending
	// request.
	FixedPassword string
}

// pendingRequest is the internal form of an outstanding credential request.
// The broker goroutine keeps its own pointer so the answer survives the
// request being cleared from the machine.
type pendingRequest struct {
	kind           interfaces.PendingKind
	title          string
	keyDetail      string
	previousWasBad bool
	attempt        int
	signPayload    []byte
	signReason     string

	answered  bool
	password  string
	canceled  bool
	signature []byte
	rejected  bool
}

// view returns the externally visible copy of the request.
func (r *pendingRequest) view() interfaces.PendingRequestView {
	v := interfaces.PendingRequestView{
		Kind:           r.kind,
		Title:          r.title,
		KeyDetail:      r.keyDetail,
		PreviousWasBad: r.previousWasBad,
		Attempt:        r.attempt,
		SignReason:     r.signReason,
	}
	if r.signPayload != nil {
		v.SignPayload = append([]byte(nil), r.signPayload...)
	}
	return v
}

// StateMachine owns the externally observable control state of the node:
// run state, change token, pending credential request, account selection,
// fixed credential, attempt counter and exit flag. One mutex guards all of
// it; one condition variable carries every wake-up. API-facing methods never
// block; only the init worker and the broker wait.
type StateMachine struct {
	engine      interfaces.AccountEngine
	log         *slog.Logger
	fullControl bool
	maxAttempts int

	mu   sync.Mutex
	cond *sync.Cond

	state     interfaces.RunState
	token     interfaces.ChangeToken
	lastError string

	accounts  []interfaces.AccountInfo
	selected  interfaces.LocationID
	autologin bool

	pending *pendingRequest

	fixedPassword    string
	hasFixedPassword bool

	failedAttempts int

	exitRequested bool

	started    bool
	workerDone chan struct{}
}

var _ interfaces.CredentialPrompter = (*StateMachine)(nil)

// New creates a state machine in StateWaitingInit. Call Start to launch the
// init worker.
func New(cfg Config) (*StateMachine, error) {
	if cfg.Engine == nil {
		return nil, errors.New("account engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MaxPasswordAttempts <= 0 {
		cfg.MaxPasswordAttempts = DefaultMaxPasswordAttempts
	}

	m := &StateMachine{
		engine:      cfg.Engine,
		log:         cfg.Log,
		fullControl: cfg.FullControl,
		maxAttempts: cfg.MaxPasswordAttempts,
		state:       interfaces.StateWaitingInit,
		workerDone:  make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)

	if cfg.FixedPassword != "" {
		m.fixedPassword = cfg.FixedPassword
		m.hasFixedPassword = true
	}

	return m, nil
}

// Start launches the init worker goroutine. Repeated calls are no-ops.
func (m *StateMachine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.runInitWorker(ctx)
}

// Stop requests shutdown and waits for the init worker to unwind. Safe to
// call regardless of worker progress.
func (m *StateMachine) Stop() {
	m.RequestShutdown()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started {
		<-m.workerDone
	}
}

// bumpLocked advances the change token. Callers must hold m.mu and must have
// made an observable change.
func (m *StateMachine) bumpLocked() {
	m.token++
	metrics.ChangeToken.Set(float64(m.token))
}

// setStateLocked records a run state transition. Callers must hold m.mu and
// bump the token themselves.
func (m *StateMachine) setStateLocked(next interfaces.RunState) {
	if m.state == next {
		return
	}
	metrics.StateTransitions.WithLabelValues(m.state.String(), next.String()).Inc()
	m.log.Info("run state changed", "from", m.state.String(), "to", next.String())
	m.state = next
}

// inAccountSetupStateLocked reports whether identity import and location
// creation are currently legal.
func (m *StateMachine) inAccountSetupStateLocked() bool {
	return m.state == interfaces.StateWaitingInit || m.state == interfaces.StateWaitingAccountSelect
}

func (m *StateMachine) knownAccountLocked(id interfaces.LocationID) bool {
	for _, acc := range m.accounts {
		if acc.ID.Equal(id) {
			return true
		}
	}
	return false
}

// mergeAccountsLocked adds discovered accounts that are not yet known,
// keeping any location created through the API while discovery ran. It
// reports whether the locations view changed.
func (m *StateMachine) mergeAccountsLocked(discovered []interfaces.AccountInfo) bool {
	changed := false
	for _, acc := range discovered {
		if !m.knownAccountLocked(acc.ID) {
			m.accounts = append(m.accounts, acc)
			changed = true
		}
	}
	return changed
}

// Status returns a consistent snapshot of the observable control state.
func (m *StateMachine) Status() interfaces.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := interfaces.StatusSnapshot{
		State:     m.state,
		Token:     m.token,
		LastError: m.lastError,
		Selected:  m.selected,
	}
	if m.pending != nil {
		view := m.pending.view()
		snap.Pending = &view
	}
	return snap
}

// Accounts returns the known locations: everything discovery found plus any
// location created through the API since.
func (m *StateMachine) Accounts() []interfaces.AccountInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]interfaces.AccountInfo, len(m.accounts))
	copy(accounts, m.accounts)
	return accounts
}

// SelectAccount records the account to unlock and moves the machine to
// StateWaitingStartup. Legal only in StateWaitingAccountSelect. The id must
// come from discovery or a prior CreateLocation.
func (m *StateMachine) SelectAccount(id interfaces.LocationID, autologin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != interfaces.StateWaitingAccountSelect {
		return interfaces.ErrInvalidStateTransition
	}
	if !m.knownAccountLocked(id) {
		return interfaces.ErrUnknownAccount
	}

	m.selected = id
	m.autologin = autologin
	m.failedAttempts = 0
	m.setStateLocked(interfaces.StateWaitingStartup)
	m.bumpLocked()
	m.cond.Broadcast()

	m.log.Info("account selected", "location", id.String(), "autologin", autologin)
	return nil
}

// SupplyPassword answers the pending password request. The first answer
// wins; anything after that returns ErrNoPendingRequest.
func (m *StateMachine) SupplyPassword(password string, canceled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.kind != interfaces.PendingPassword {
		return interfaces.ErrNoPendingRequest
	}

	req := m.pending
	req.password = password
	req.canceled = canceled
	req.answered = true
	m.pending = nil
	m.bumpLocked()
	m.cond.Broadcast()
	return nil
}

// ConfirmSignature answers the pending deferred signature request. The first
// answer wins; anything after that returns ErrNoPendingRequest.
func (m *StateMachine) ConfirmSignature(signature []byte, rejected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.kind != interfaces.PendingSignature {
		return interfaces.ErrNoPendingRequest
	}

	req := m.pending
	req.signature = append([]byte(nil), signature...)
	req.rejected = rejected
	req.answered = true
	m.pending = nil
	m.bumpLocked()
	m.cond.Broadcast()
	return nil
}

// RequestShutdown sets the exit flag and wakes every blocked wait. The first
// call bumps the token; repeats change nothing and are silent.
func (m *StateMachine) RequestShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		return
	}

	m.exitRequested = true
	m.bumpLocked()
	m.cond.Broadcast()
	m.log.Info("shutdown requested")
}

// ProcessShouldExit reports whether shutdown was requested. Polled by the
// process driver.
func (m *StateMachine) ProcessShouldExit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitRequested
}

// ImportPgpKey adds an armored PGP key to the node keyring. Legal only
// before an account is being unlocked (StateWaitingInit or
// StateWaitingAccountSelect). The gate is checked again after the engine
// call: if the machine left account setup while the keyring was written,
// the import reports ErrInvalidStateTransition and the key simply stays in
// the keyring.
func (m *StateMachine) ImportPgpKey(ctx context.Context, armored []byte) (interfaces.PgpFingerprint, error) {
	keyring, err := cryptoutils.NewArmoredKeyring(armored)
	if err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to parse armored key: %w", err)
	}

	m.mu.Lock()
	if !m.inAccountSetupStateLocked() {
		m.mu.Unlock()
		return interfaces.PgpFingerprint{}, interfaces.ErrInvalidStateTransition
	}
	m.mu.Unlock()

	// Engine call runs unlocked: keyring writes can hit the disk.
	fingerprint, err := m.engine.ImportIdentity(ctx, keyring)
	if err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to import identity: %w", err)
	}

	m.mu.Lock()
	if m.exitRequested || !m.inAccountSetupStateLocked() {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("machine left account setup during identity import, keyring keeps the key",
			"fingerprint", fingerprint.String(), "state", state.String())
		return interfaces.PgpFingerprint{}, interfaces.ErrInvalidStateTransition
	}
	m.bumpLocked()
	m.cond.Broadcast()
	m.mu.Unlock()

	m.log.Info("imported pgp identity", "fingerprint", fingerprint.String())
	return fingerprint, nil
}

// CreateLocation creates a new location through the engine, remembers its
// password as the fixed credential and selects it for unlock. The following
// unlock therefore never prompts the caller. Legal only in StateWaitingInit
// or StateWaitingAccountSelect, and the gate is checked again after the
// engine call: a failing discovery can move the machine to StateFatalError
// while the location is being created, in which case the call reports
// ErrInvalidStateTransition and the location stays on disk for the next
// discovery.
func (m *StateMachine) CreateLocation(ctx context.Context, params interfaces.CreateLocationParams, password string) (interfaces.LocationID, error) {
	if err := params.Validate(); err != nil {
		return interfaces.LocationID{}, err
	}
	if password == "" {
		return interfaces.LocationID{}, errors.New("location password must not be empty")
	}

	m.mu.Lock()
	if !m.inAccountSetupStateLocked() {
		m.mu.Unlock()
		return interfaces.LocationID{}, interfaces.ErrInvalidStateTransition
	}
	m.mu.Unlock()

	info, err := m.engine.CreateAccount(ctx, params, password)
	if err != nil {
		return interfaces.LocationID{}, fmt.Errorf("failed to create location: %w", err)
	}

	m.mu.Lock()
	if m.exitRequested || !m.inAccountSetupStateLocked() {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("machine left account setup during location creation, next discovery will pick it up",
			"location", info.ID.String(), "state", state.String())
		return interfaces.LocationID{}, interfaces.ErrInvalidStateTransition
	}
	m.accounts = append(m.accounts, info)
	m.selected = info.ID
	m.autologin = params.Autologin
	m.fixedPassword = password
	m.hasFixedPassword = true
	m.failedAttempts = 0
	m.setStateLocked(interfaces.StateWaitingStartup)
	m.bumpLocked()
	m.cond.Broadcast()
	m.mu.Unlock()

	m.log.Info("created location", "location", info.ID.String(), "name", params.Name)
	return info.ID, nil
}
