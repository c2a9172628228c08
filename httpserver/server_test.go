package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/api/controlapi"
	"github.com/ruteri/secure-node-control/interfaces"
)

// stubController serves a fixed snapshot; the control routes themselves are
// covered in the controlapi package.
type stubController struct{}

func (stubController) Status() interfaces.StatusSnapshot {
	return interfaces.StatusSnapshot{State: interfaces.StateWaitingAccountSelect, Token: 1}
}
func (stubController) Accounts() []interfaces.AccountInfo { return nil }
func (stubController) SelectAccount(interfaces.LocationID, bool) error {
	return interfaces.ErrInvalidStateTransition
}
func (stubController) SupplyPassword(string, bool) error {
	return interfaces.ErrNoPendingRequest
}
func (stubController) ConfirmSignature([]byte, bool) error {
	return interfaces.ErrNoPendingRequest
}
func (stubController) RequestShutdown() {}
func (stubController) ImportPgpKey(context.Context, []byte) (interfaces.PgpFingerprint, error) {
	return interfaces.PgpFingerprint{}, interfaces.ErrInvalidStateTransition
}
func (stubController) CreateLocation(context.Context, interfaces.CreateLocationParams, string) (interfaces.LocationID, error) {
	return interfaces.LocationID{}, interfaces.ErrInvalidStateTransition
}
func (stubController) Identities(context.Context) ([]interfaces.IdentityInfo, error) {
	return nil, nil
}

func newTestServer(t *testing.T, enablePprof bool) *httptest.Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := controlapi.NewHandler(stubController{}, stubController{}, log)
	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		EnablePprof:              enablePprof,
		Log:                      log,
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err, "server creation should succeed")

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return ts
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthAndDrainEndpoints(t *testing.T) {
	ts := newTestServer(t, false)

	code, body := getBody(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "alive")

	code, _ = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = getBody(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "draining")

	code, _ = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "draining server should not be ready")

	code, body = getBody(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "already draining")

	code, _ = getBody(t, ts.URL+"/undrain")
	assert.Equal(t, http.StatusOK, code)

	code, _ = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code, "undrained server should be ready again")
}

func TestControlRoutesMounted(t *testing.T) {
	ts := newTestServer(t, false)

	code, body := getBody(t, ts.URL+"/api/v1/status")
	require.Equal(t, http.StatusOK, code)

	var status api.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "waiting_account_select", status.State)
	assert.Equal(t, uint64(1), status.ChangeToken)
}

func TestPprofMounting(t *testing.T) {
	ts := newTestServer(t, false)
	code, _ := getBody(t, ts.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code, "pprof should be absent when disabled")

	ts = newTestServer(t, true)
	code, _ = getBody(t, ts.URL+"/debug/pprof/")
	assert.Equal(t, http.StatusOK, code, "pprof should be mounted when enabled")
}

func TestNewRequiresListenAddr(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := controlapi.NewHandler(stubController{}, stubController{}, log)

	_, err := New(&api.HTTPServerConfig{Log: log}, handler)
	assert.Error(t, err)
}
