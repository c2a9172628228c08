package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/ruteri/secure-node-control/interfaces"
)

// Test utilities

// fakeEngine is an in-memory AccountEngine for driving the state machine.
type fakeEngine struct {
	mu sync.Mutex

	accounts    []interfaces.AccountInfo
	discoverErr error

	// password accepted by Unlock; everything else is a bad credential.
	password  string
	unlockErr error

	// needsSignature makes Unlock request a detached signature through the
	// prompter after the password check; expectedSignature is what it accepts.
	needsSignature    bool
	signPayload       []byte
	expectedSignature []byte

	unlockCalls   int
	created       []interfaces.CreateLocationParams
	imported      int
	autologinByID map[string]bool

	// gates, when set, block the matching engine call until the test
	// releases it.
	discoverGate  *engineGate
	createGate    *engineGate
	autologinGate *engineGate
	importGate    *engineGate
}

// engineGate parks an engine call until the test releases it, pinning an
// interleaving around in-flight engine work. A nil gate passes through.
type engineGate struct {
	entered chan struct{}
	release chan struct{}
}

func newEngineGate() *engineGate {
	return &engineGate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

// pass signals that the call reached the gate and waits for the release.
func (g *engineGate) pass() {
	if g == nil {
		return
	}
	g.entered <- struct{}{}
	<-g.release
}

// await blocks until the gated engine call is in flight.
func (g *engineGate) await(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("engine call never reached the gate")
	}
}

// open lets the gated call finish.
func (g *engineGate) open() {
	close(g.release)
}

var _ interfaces.AccountEngine = (*fakeEngine)(nil)

func (e *fakeEngine) DiscoverAccounts(ctx context.Context) ([]interfaces.AccountInfo, error) {
	e.discoverGate.pass()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discoverErr != nil {
		return nil, e.discoverErr
	}
	return append([]interfaces.AccountInfo(nil), e.accounts...), nil
}

func (e *fakeEngine) Unlock(ctx context.Context, id interfaces.LocationID, password string, prompter interfaces.CredentialPrompter) error {
	e.mu.Lock()
	e.unlockCalls++
	unlockErr := e.unlockErr
	expected := e.password
	needsSignature := e.needsSignature
	payload := e.signPayload
	expectedSignature := e.expectedSignature
	e.mu.Unlock()

	if unlockErr != nil {
		return unlockErr
	}
	if password != expected {
		return interfaces.ErrBadCredential
	}
	if needsSignature {
		signature, err := prompter.AskForDeferredSignature(payload, "bind location certificate")
		if err != nil {
			return err
		}
		if !bytes.Equal(signature, expectedSignature) {
			return errors.New("identity signature does not verify")
		}
	}
	return nil
}

func (e *fakeEngine) CreateAccount(ctx context.Context, params interfaces.CreateLocationParams, password string) (interfaces.AccountInfo, error) {
	e.createGate.pass()

	e.mu.Lock()
	defer e.mu.Unlock()

	info := interfaces.AccountInfo{
		ID:        interfaces.NewRandomLocationID(),
		Name:      params.Name,
		Identity:  params.Identity,
		Autologin: params.Autologin,
	}
	e.accounts = append(e.accounts, info)
	e.created = append(e.created, params)
	e.password = password
	return info, nil
}

func (e *fakeEngine) SetAutologin(ctx context.Context, id interfaces.LocationID, autologin bool) error {
	e.autologinGate.pass()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autologinByID == nil {
		e.autologinByID = make(map[string]bool)
	}
	e.autologinByID[id.String()] = autologin
	return nil
}

func (e *fakeEngine) ImportIdentity(ctx context.Context, armored interfaces.ArmoredKeyring) (interfaces.PgpFingerprint, error) {
	e.importGate.pass()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.imported++
	return testFingerprint(0xAB), nil
}

func (e *fakeEngine) Identities(ctx context.Context) ([]interfaces.IdentityInfo, error) {
	return []interfaces.IdentityInfo{{Fingerprint: testFingerprint(0xAB), Name: "Test Operator"}}, nil
}

func (e *fakeEngine) unlockCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unlockCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFingerprint(b byte) interfaces.PgpFingerprint {
	var fp interfaces.PgpFingerprint
	for i := range fp {
		fp[i] = b
	}
	return fp
}

func testAccounts(n int) []interfaces.AccountInfo {
	accounts := make([]interfaces.AccountInfo, n)
	for i := range accounts {
		accounts[i] = interfaces.AccountInfo{
			ID:           interfaces.NewRandomLocationID(),
			Name:         fmt.Sprintf("location-%d", i+1),
			Identity:     testFingerprint(byte(i + 1)),
			IdentityName: fmt.Sprintf("Operator %d", i+1),
		}
	}
	return accounts
}

func newTestMachine(t *testing.T, engine *fakeEngine) *StateMachine {
	t.Helper()
	m, err := New(Config{Engine: engine, Log: testLogger(), FullControl: true})
	require.NoError(t, err, "machine construction should succeed")
	return m
}

// waitForState polls Status until the machine reaches the wanted state.
func waitForState(t *testing.T, m *StateMachine, state interfaces.RunState) interfaces.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Status()
		if snap.State == state {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, machine is in %s", state, m.Status().State)
	return interfaces.StatusSnapshot{}
}

// waitForPending polls Status until a pending request of the wanted kind shows up.
func waitForPending(t *testing.T, m *StateMachine, kind interfaces.PendingKind) interfaces.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Status()
		if snap.Pending != nil && snap.Pending.Kind == kind {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a pending %s request", kind)
	return interfaces.StatusSnapshot{}
}

// armoredTestKey generates a fresh armored PGP private key block.
func armoredTestKey(t *testing.T) []byte {
	t.Helper()
	entity, err := openpgp.NewEntity("Test Operator", "", "operator@node.test", nil)
	require.NoError(t, err, "entity generation should succeed")

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err, "armor encoder should open")
	require.NoError(t, entity.SerializePrivate(w, nil), "serialization should succeed")
	require.NoError(t, w.Close(), "armor encoder should close")
	return buf.Bytes()
}

// Construction tests

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Config{Log: testLogger()})
	assert.Error(t, err, "construction without an engine should fail")
}

func TestNewStartsWaitingInit(t *testing.T) {
	m := newTestMachine(t, &fakeEngine{})
	snap := m.Status()
	assert.Equal(t, interfaces.StateWaitingInit, snap.State, "initial state should be waiting_init")
	assert.Equal(t, interfaces.ChangeToken(0), snap.Token, "token should start at zero")
	assert.Nil(t, snap.Pending, "no pending request initially")
	assert.True(t, snap.Selected.IsZero(), "no account selected initially")
}

// Rejected operations leave state and token untouched

func TestRejectedOperationsDoNotMutate(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(2), password: "correct"}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	before := waitForState(t, m, interfaces.StateWaitingAccountSelect)

	err := m.SupplyPassword("whatever", false)
	assert.ErrorIs(t, err, interfaces.ErrNoPendingRequest, "answer without a pending request should be rejected")

	err = m.ConfirmSignature([]byte("sig"), false)
	assert.ErrorIs(t, err, interfaces.ErrNoPendingRequest, "signature without a pending request should be rejected")

	err = m.SelectAccount(interfaces.NewRandomLocationID(), false)
	assert.ErrorIs(t, err, interfaces.ErrUnknownAccount, "selecting an undiscovered account should be rejected")

	_, err = m.ImportPgpKey(context.Background(), []byte("not armored at all"))
	assert.Error(t, err, "garbage keyring material should be rejected")

	after := m.Status()
	assert.Equal(t, before.Token, after.Token, "rejected operations must not bump the token")
	assert.Equal(t, before.State, after.State, "rejected operations must not change state")
}

func TestSelectAccountWrongState(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(2), password: "correct"}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	waitForState(t, m, interfaces.StateWaitingAccountSelect)
	require.NoError(t, m.SelectAccount(engine.accounts[0].ID, false), "first selection should succeed")

	before := m.Status()
	err := m.SelectAccount(engine.accounts[1].ID, false)
	assert.ErrorIs(t, err, interfaces.ErrInvalidStateTransition, "selection outside account_select should be rejected")

	after := m.Status()
	assert.Equal(t, before.Token, after.Token, "rejected selection must not bump the token")
}

// Password answer lifecycle

func TestSupplyPasswordSingleWinner(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(1), password: "correct"}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	waitForState(t, m, interfaces.StateWaitingAccountSelect)
	require.NoError(t, m.SelectAccount(engine.accounts[0].ID, false))

	waitForPending(t, m, interfaces.PendingPassword)

	err := m.SupplyPassword("correct", false)
	require.NoError(t, err, "first answer should be accepted")

	err = m.SupplyPassword("correct", false)
	assert.ErrorIs(t, err, interfaces.ErrNoPendingRequest, "second answer must lose")

	waitForState(t, m, interfaces.StateRunningFull)
}

func TestConfirmSignatureRequiresSignatureRequest(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(1), password: "correct"}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	waitForState(t, m, interfaces.StateWaitingAccountSelect)
	require.NoError(t, m.SelectAccount(engine.accounts[0].ID, false))
	waitForPending(t, m, interfaces.PendingPassword)

	err := m.ConfirmSignature([]byte("sig"), false)
	assert.ErrorIs(t, err, interfaces.ErrNoPendingRequest, "signature answer must not match a password request")

	require.NoError(t, m.SupplyPassword("correct", false))
	waitForState(t, m, interfaces.StateRunningFull)
}

// Shutdown

func TestRequestShutdownIdempotent(t *testing.T) {
	m := newTestMachine(t, &fakeEngine{})

	require.False(t, m.ProcessShouldExit(), "exit flag should start unset")

	m.RequestShutdown()
	first := m.Status()
	assert.True(t, m.ProcessShouldExit(), "exit flag should be set")

	m.RequestShutdown()
	second := m.Status()
	assert.Equal(t, first.Token, second.Token, "repeated shutdown must not bump the token")
	assert.True(t, m.ProcessShouldExit(), "exit flag stays set")
}

func TestStopWithoutStart(t *testing.T) {
	m := newTestMachine(t, &fakeEngine{})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop should return even when the worker never ran")
	}
}

// Import gating

func TestImportPgpKeyStateGate(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(1), password: "correct"}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	waitForState(t, m, interfaces.StateWaitingAccountSelect)

	fingerprint, err := m.ImportPgpKey(context.Background(), armoredTestKey(t))
	require.NoError(t, err, "import should be legal during account selection")
	assert.Equal(t, testFingerprint(0xAB), fingerprint, "fingerprint should come from the engine")

	require.NoError(t, m.SelectAccount(engine.accounts[0].ID, false))

	_, err = m.ImportPgpKey(context.Background(), armoredTestKey(t))
	assert.ErrorIs(t, err, interfaces.ErrInvalidStateTransition, "import during unlock should be rejected")
}

func TestImportPgpKeyDuringFailingDiscoveryStaysFatal(t *testing.T) {
	engine := &fakeEngine{
		discoverErr:  errors.New("locations directory unreadable"),
		discoverGate: newEngineGate(),
		importGate:   newEngineGate(),
	}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	engine.discoverGate.await(t)

	armored := armoredTestKey(t)
	errs := make(chan error, 1)
	go func() {
		_, err := m.ImportPgpKey(context.Background(), armored)
		errs <- err
	}()

	// The import passed its state gate and is writing the keyring when
	// discovery fails underneath it.
	engine.importGate.await(t)
	engine.discoverGate.open()
	fatal := waitForState(t, m, interfaces.StateFatalError)

	engine.importGate.open()
	assert.ErrorIs(t, <-errs, interfaces.ErrInvalidStateTransition, "import finishing after the failure must be rejected")

	after := m.Status()
	assert.Equal(t, interfaces.StateFatalError, after.State, "fatal_error is absorbing")
	assert.Equal(t, fatal.Token, after.Token, "the rejected import must not bump the token")
}

// Snapshot consistency

func TestStatusSnapshotCopiesPendingRequest(t *testing.T) {
	engine := &fakeEngine{accounts: testAccounts(1), password: "correct", needsSignature: true, signPayload: []byte("payload"), expectedSignature: []byte("signature")}
	m := newTestMachine(t, engine)
	m.Start(context.Background())
	defer m.Stop()

	waitForState(t, m, interfaces.StateWaitingAccountSelect)
	require.NoError(t, m.SelectAccount(engine.accounts[0].ID, false))
	waitForPending(t, m, interfaces.PendingPassword)
	require.NoError(t, m.SupplyPassword("correct", false))

	snap := waitForPending(t, m, interfaces.PendingSignature)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, []byte("payload"), snap.Pending.SignPayload, "snapshot should carry the signature payload")

	// Mutating the copy must not reach the machine.
	snap.Pending.SignPayload[0] = 'X'
	again := m.Status()
	require.NotNil(t, again.Pending)
	assert.Equal(t, []byte("payload"), again.Pending.SignPayload, "snapshot payload must be a copy")

	require.NoError(t, m.ConfirmSignature([]byte("signature"), false))
	waitForState(t, m, interfaces.StateRunningFull)
}
