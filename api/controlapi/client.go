package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/secure-node-control/api"
	"github.com/ruteri/secure-node-control/interfaces"
)

// Client is the typed client for the control API, used by the admin CLI.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the control API at baseURL
// (e.g. "http://127.0.0.1:9092").
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Status fetches the current machine snapshot.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.getJSON(ctx, "/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Identities lists the PGP identities in the node keyring.
func (c *Client) Identities(ctx context.Context) ([]interfaces.IdentityInfo, error) {
	var infos []interfaces.IdentityInfo
	if err := c.getJSON(ctx, "/api/v1/identities", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Locations lists the known node locations.
func (c *Client) Locations(ctx context.Context) ([]interfaces.AccountInfo, error) {
	var infos []interfaces.AccountInfo
	if err := c.getJSON(ctx, "/api/v1/locations", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Login selects a location for unlock.
func (c *Client) Login(ctx context.Context, id interfaces.LocationID, autologin bool) error {
	return c.postJSON(ctx, "/api/v1/login", api.LoginRequest{LocationID: id, Autologin: autologin}, nil)
}

// SupplyPassword answers the pending password request.
func (c *Client) SupplyPassword(ctx context.Context, password string, canceled bool) error {
	return c.postJSON(ctx, "/api/v1/password", api.PasswordRequest{Password: password, Canceled: canceled}, nil)
}

// ConfirmSignature answers the pending deferred-signature request.
func (c *Client) ConfirmSignature(ctx context.Context, signature []byte, rejected bool) error {
	return c.postJSON(ctx, "/api/v1/signature", api.SignatureRequest{Signature: signature, Rejected: rejected}, nil)
}

// Shutdown requests node shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.postJSON(ctx, "/api/v1/shutdown", nil, nil)
}

// ImportPgpKey merges armored PGP key material into the node keyring and
// returns the imported identity's fingerprint.
func (c *Client) ImportPgpKey(ctx context.Context, armored []byte) (interfaces.PgpFingerprint, error) {
	url := fmt.Sprintf("%s/api/v1/import_pgp", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(armored))
	if err != nil {
		return interfaces.PgpFingerprint{}, err
	}
	req.Header.Set("Content-Type", "application/pgp-keys")

	var resp api.ImportPgpResponse
	if err := c.do(req, &resp); err != nil {
		return interfaces.PgpFingerprint{}, err
	}
	return resp.Fingerprint, nil
}

// CreateLocation mints a new location and returns its id.
func (c *Client) CreateLocation(ctx context.Context, req api.CreateLocationRequest) (interfaces.LocationID, error) {
	var resp api.CreateLocationResponse
	if err := c.postJSON(ctx, "/api/v1/create_location", req, &resp); err != nil {
		return interfaces.LocationID{}, err
	}
	return resp.LocationID, nil
}

// WaitForToken polls the status route until the change token moves past
// last, then returns the fresh snapshot. It gives up when ctx is done or
// after timeout.
func (c *Client) WaitForToken(ctx context.Context, last uint64, interval, timeout time.Duration) (*api.StatusResponse, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(waitCtx)
		if err != nil {
			return nil, err
		}
		if status.ChangeToken > last {
			return status, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("timed out waiting for a state change past token %d", last)
		case <-ticker.C:
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", req.URL.Path, err)
	}
	return nil
}
