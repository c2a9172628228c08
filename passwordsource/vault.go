package passwordsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/secure-node-control/interfaces"
)

// vaultSource reads the location passphrase from a HashiCorp Vault KV v2
// secret. The URI form is
//
//	vault://<host:port>/<mount>/<secret path>#<field>
//
// The fragment selects the field within the secret and defaults to
// "password". The ?scheme=http query parameter switches the client off TLS
// for development setups. Authentication uses the standard VAULT_TOKEN
// environment variable picked up by the Vault client.
type vaultSource struct {
	client     *api.Client
	mountPath  string
	secretPath string
	field      string
	log        *slog.Logger
}

func newVaultSource(uri string, log *slog.Logger) (*vaultSource, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid vault password source URI: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("vault password source %q names no server", uri)
	}

	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported vault transport scheme: %s", scheme)
	}

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return nil, fmt.Errorf("vault password source %q needs a mount and a secret path", uri)
	}

	field := u.Fragment
	if field == "" {
		field = "password"
	}

	config := api.DefaultConfig()
	config.Address = fmt.Sprintf("%s://%s", scheme, u.Host)
	config.HttpClient.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	return &vaultSource{
		client:     client,
		mountPath:  segments[0],
		secretPath: segments[1],
		field:      field,
		log:        log,
	}, nil
}

var _ interfaces.PasswordSource = (*vaultSource)(nil)

// Password checks that Vault is initialized and unsealed, then reads the
// configured field from the KV v2 secret.
func (s *vaultSource) Password(ctx context.Context) (string, error) {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		return "", fmt.Errorf("vault is unreachable: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return "", fmt.Errorf("vault is not ready (initialized=%t, sealed=%t)", health.Initialized, health.Sealed)
	}

	// KV v2 read path: <mount>/data/<secret path>.
	path := fmt.Sprintf("%s/data/%s", s.mountPath, s.secretPath)

	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at vault path %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected response shape for vault path %s", path)
	}
	value, ok := data[s.field].(string)
	if !ok || value == "" {
		s.log.Error("vault secret is missing the password field",
			slog.String("path", path),
			slog.String("field", s.field))
		return "", fmt.Errorf("vault secret %s has no %q field", path, s.field)
	}

	return value, nil
}

func (s *vaultSource) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.secretPath)
}
