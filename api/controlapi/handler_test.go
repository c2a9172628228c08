package controlapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/interfaces"
)

// fakeController records control API calls and answers from stubbed state.
type fakeController struct {
	mu sync.Mutex

	status   interfaces.StatusSnapshot
	accounts []interfaces.AccountInfo
	idents   []interfaces.IdentityInfo

	selectErr    error
	passwordErr  error
	signatureErr error
	importErr    error
	createErr    error
	identsErr    error

	selectedID      interfaces.LocationID
	selectAutologin bool
	password        string
	canceled        bool
	signature       []byte
	rejected        bool
	imported        []byte
	created         *interfaces.CreateLocationParams
	createdPassword string
	shutdowns       int
	createdID       interfaces.LocationID
	importedFP      interfaces.PgpFingerprint
}

func (f *fakeController) Status() interfaces.StatusSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Accounts() []interfaces.AccountInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts
}

func (f *fakeController) SelectAccount(id interfaces.LocationID, autologin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selectedID = id
	f.selectAutologin = autologin
	return nil
}

func (f *fakeController) SupplyPassword(password string, canceled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.passwordErr != nil {
		return f.passwordErr
	}
	f.password = password
	f.canceled = canceled
	return nil
}

func (f *fakeController) ConfirmSignature(signature []byte, rejected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signatureErr != nil {
		return f.signatureErr
	}
	f.signature = signature
	f.rejected = rejected
	return nil
}

func (f *fakeController) RequestShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

func (f *fakeController) ImportPgpKey(ctx context.Context, armored []byte) (interfaces.PgpFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.importErr != nil {
		return interfaces.PgpFingerprint{}, f.importErr
	}
	f.imported = armored
	return f.importedFP, nil
}

func (f *fakeController) CreateLocation(ctx context.Context, params interfaces.CreateLocationParams, password string) (interfaces.LocationID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return interfaces.LocationID{}, f.createErr
	}
	f.created = &params
	f.createdPassword = password
	return f.createdID, nil
}

func (f *fakeController) Identities(ctx context.Context) ([]interfaces.IdentityInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identsErr != nil {
		return nil, f.identsErr
	}
	return f.idents, nil
}

func testFingerprint(b byte) interfaces.PgpFingerprint {
	var fp interfaces.PgpFingerprint
	for i := range fp {
		fp[i] = b
	}
	return fp
}

// newTestServer wires the handler onto a chi router behind httptest and
// returns a typed client pointed at it.
func newTestServer(t *testing.T, fake *fakeController) *Client {
	t.Helper()

	handler := NewHandler(fake, fake, slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, 5*time.Second)
}

func TestStatusRoute(t *testing.T) {
	selected := interfaces.NewRandomLocationID()
	fake := &fakeController{
		status: interfaces.StatusSnapshot{
			State:    interfaces.StateWaitingStartup,
			Token:    interfaces.ChangeToken(7),
			Selected: selected,
			Pending: &interfaces.PendingRequestView{
				Kind:           interfaces.PendingPassword,
				Title:          "living room node",
				KeyDetail:      "Home Operator (abcd)",
				PreviousWasBad: true,
				Attempt:        2,
			},
		},
	}
	client := newTestServer(t, fake)

	status, err := client.Status(context.Background())
	require.NoError(t, err, "status request should succeed")

	assert.Equal(t, "waiting_startup", status.State)
	assert.Equal(t, uint64(7), status.ChangeToken)
	assert.Equal(t, selected.String(), status.SelectedLocation)
	require.NotNil(t, status.PendingRequest)
	assert.Equal(t, "password", status.PendingRequest.Kind)
	assert.Equal(t, "living room node", status.PendingRequest.Title)
	assert.True(t, status.PendingRequest.PreviousWasBad)
	assert.Equal(t, 2, status.PendingRequest.Attempt)
}

func TestStatusRouteSignaturePayload(t *testing.T) {
	payload := []byte("certificate digest to sign")
	fake := &fakeController{
		status: interfaces.StatusSnapshot{
			State: interfaces.StateWaitingStartup,
			Pending: &interfaces.PendingRequestView{
				Kind:        interfaces.PendingSignature,
				SignPayload: payload,
				SignReason:  "bind location certificate",
			},
		},
	}
	client := newTestServer(t, fake)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.PendingRequest)
	assert.Equal(t, "signature", status.PendingRequest.Kind)
	assert.Equal(t, payload, status.PendingRequest.SignPayload, "payload should survive the base64 round trip")
	assert.Equal(t, "bind location certificate", status.PendingRequest.SignReason)
}

func TestLocationsRoute(t *testing.T) {
	id := interfaces.NewRandomLocationID()
	fake := &fakeController{
		accounts: []interfaces.AccountInfo{{
			ID:           id,
			Name:         "living room node",
			Identity:     testFingerprint(0x11),
			IdentityName: "Home Operator",
			Autologin:    true,
		}},
	}
	client := newTestServer(t, fake)

	locations, err := client.Locations(context.Background())
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, id, locations[0].ID)
	assert.Equal(t, "living room node", locations[0].Name)
	assert.Equal(t, testFingerprint(0x11), locations[0].Identity)
	assert.True(t, locations[0].Autologin)
}

func TestIdentitiesRoute(t *testing.T) {
	fake := &fakeController{
		idents: []interfaces.IdentityInfo{{
			Fingerprint:  testFingerprint(0x22),
			Name:         "Home Operator <home@node.test>",
			HasSecretKey: true,
		}},
	}
	client := newTestServer(t, fake)

	idents, err := client.Identities(context.Background())
	require.NoError(t, err)
	require.Len(t, idents, 1)
	assert.Equal(t, testFingerprint(0x22), idents[0].Fingerprint)
	assert.True(t, idents[0].HasSecretKey)
}

func TestIdentitiesRouteEngineFailure(t *testing.T) {
	fake := &fakeController{identsErr: assert.AnError}
	client := newTestServer(t, fake)

	_, err := client.Identities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLoginRoute(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)
	id := interfaces.NewRandomLocationID()

	err := client.Login(context.Background(), id, true)
	require.NoError(t, err, "login should succeed")
	assert.Equal(t, id, fake.selectedID)
	assert.True(t, fake.selectAutologin)
}

func TestLoginRouteConflicts(t *testing.T) {
	fake := &fakeController{selectErr: interfaces.ErrUnknownAccount}
	client := newTestServer(t, fake)

	err := client.Login(context.Background(), interfaces.NewRandomLocationID(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409", "unknown accounts should map to a conflict")

	fake.selectErr = interfaces.ErrInvalidStateTransition
	err = client.Login(context.Background(), interfaces.NewRandomLocationID(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409", "state violations should map to a conflict")
}

func TestLoginRouteRejectsZeroID(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	err := client.Login(context.Background(), interfaces.LocationID{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.True(t, fake.selectedID.IsZero(), "the controller must not be reached")
}

func TestPasswordRoute(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	require.NoError(t, client.SupplyPassword(context.Background(), "secret passphrase", false))
	assert.Equal(t, "secret passphrase", fake.password)
	assert.False(t, fake.canceled)

	require.NoError(t, client.SupplyPassword(context.Background(), "", true))
	assert.True(t, fake.canceled)
}

func TestPasswordRouteNoPendingRequest(t *testing.T) {
	fake := &fakeController{passwordErr: interfaces.ErrNoPendingRequest}
	client := newTestServer(t, fake)

	err := client.SupplyPassword(context.Background(), "too late", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestSignatureRoute(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)
	signature := []byte("-----BEGIN PGP SIGNATURE-----\n...")

	require.NoError(t, client.ConfirmSignature(context.Background(), signature, false))
	assert.Equal(t, signature, fake.signature)

	require.NoError(t, client.ConfirmSignature(context.Background(), nil, true))
	assert.True(t, fake.rejected)
}

func TestSignatureRouteRequiresAnswer(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	err := client.ConfirmSignature(context.Background(), nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400", "an empty non-rejection must be rejected")
}

func TestShutdownRoute(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	require.NoError(t, client.Shutdown(context.Background()))
	require.NoError(t, client.Shutdown(context.Background()))
	assert.Equal(t, 2, fake.shutdowns)
}

func TestImportPgpRoute(t *testing.T) {
	entity, err := openpgp.NewEntity("Wire Operator", "", "wire@node.test", nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(io.Discard, nil))

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	fake := &fakeController{importedFP: interfaces.PgpFingerprint(entity.PrimaryKey.Fingerprint)}
	client := newTestServer(t, fake)

	fingerprint, err := client.ImportPgpKey(context.Background(), buf.Bytes())
	require.NoError(t, err, "import should succeed")
	assert.Equal(t, fake.importedFP, fingerprint)
	assert.Equal(t, buf.Bytes(), fake.imported, "the armored blob should reach the controller unchanged")
}

func TestImportPgpRouteRejectsGarbage(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	_, err := client.ImportPgpKey(context.Background(), []byte("not a key"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Nil(t, fake.imported, "the controller must not be reached")
}

func TestCreateLocationRoute(t *testing.T) {
	id := interfaces.NewRandomLocationID()
	fake := &fakeController{createdID: id}
	client := newTestServer(t, fake)

	created, err := client.CreateLocation(context.Background(), api.CreateLocationRequest{
		Name:        "fresh node",
		Fingerprint: testFingerprint(0x33),
		Password:    "creation password",
		Autologin:   true,
		DynDNSHost:  "fresh.example.org",
	})
	require.NoError(t, err, "creation should succeed")
	assert.Equal(t, id, created)

	require.NotNil(t, fake.created)
	assert.Equal(t, "fresh node", fake.created.Name)
	assert.Equal(t, testFingerprint(0x33), fake.created.Identity)
	assert.True(t, fake.created.Autologin)
	assert.Equal(t, "fresh.example.org", fake.created.DynDNSHost)
	assert.Equal(t, "creation password", fake.createdPassword)
}

func TestCreateLocationRouteValidation(t *testing.T) {
	fake := &fakeController{}
	client := newTestServer(t, fake)

	_, err := client.CreateLocation(context.Background(), api.CreateLocationRequest{
		Name:        "fresh node",
		Fingerprint: testFingerprint(0x33),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400", "a missing password must be rejected")

	_, err = client.CreateLocation(context.Background(), api.CreateLocationRequest{
		Password: "creation password",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400", "missing name and identity must be rejected")
	assert.Nil(t, fake.created, "the controller must not be reached")
}

func TestCreateLocationRouteConflict(t *testing.T) {
	fake := &fakeController{createErr: interfaces.ErrInvalidStateTransition}
	client := newTestServer(t, fake)

	_, err := client.CreateLocation(context.Background(), api.CreateLocationRequest{
		Name:        "fresh node",
		Fingerprint: testFingerprint(0x33),
		Password:    "creation password",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestWaitForToken(t *testing.T) {
	fake := &fakeController{
		status: interfaces.StatusSnapshot{
			State: interfaces.StateWaitingAccountSelect,
			Token: interfaces.ChangeToken(3),
		},
	}
	client := newTestServer(t, fake)

	// Bump the token shortly after the poll starts.
	go func() {
		time.Sleep(50 * time.Millisecond)
		fake.mu.Lock()
		fake.status.Token = interfaces.ChangeToken(4)
		fake.status.State = interfaces.StateWaitingStartup
		fake.mu.Unlock()
	}()

	status, err := client.WaitForToken(context.Background(), 3, 10*time.Millisecond, 2*time.Second)
	require.NoError(t, err, "the poll should observe the bump")
	assert.Equal(t, uint64(4), status.ChangeToken)
	assert.Equal(t, "waiting_startup", status.State)
}

func TestWaitForTokenTimeout(t *testing.T) {
	fake := &fakeController{
		status: interfaces.StatusSnapshot{Token: interfaces.ChangeToken(3)},
	}
	client := newTestServer(t, fake)

	_, err := client.WaitForToken(context.Background(), 3, 10*time.Millisecond, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timed out") || strings.Contains(err.Error(), "context deadline"),
		"timeout should surface, got: %v", err)
}
