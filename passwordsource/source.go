// Package passwordsource resolves location passphrases from configurable
// backends so the node can unlock without an interactive prompt.
//
// Sources are selected by URI scheme:
//
//   - static:<secret> embeds the passphrase directly (tests and development)
//   - env:<VAR> reads the passphrase from an environment variable
//   - file:<path> reads the passphrase from a file, trimming trailing newlines
//   - vault://<host:port>/<mount>/<path>#<field> reads a KV v2 secret from
//     HashiCorp Vault (see vault.go)
//
// The resolved passphrase feeds the control module's fixed-credential path:
// unlock proceeds without posting a password request.
package passwordsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/secure-node-control/interfaces"
)

// FromURI creates a password source from a URI string. The scheme selects the
// backend; see the package documentation for the supported forms.
func FromURI(uri string, log *slog.Logger) (interfaces.PasswordSource, error) {
	if log == nil {
		log = slog.Default()
	}

	scheme, rest, found := strings.Cut(uri, ":")
	if !found || scheme == "" {
		return nil, fmt.Errorf("password source %q has no scheme", uri)
	}

	switch strings.ToLower(scheme) {
	case "static":
		if rest == "" {
			return nil, errors.New("static password source is empty")
		}
		return &staticSource{secret: rest}, nil
	case "env":
		if rest == "" {
			return nil, errors.New("env password source names no variable")
		}
		return &envSource{variable: rest}, nil
	case "file":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, errors.New("file password source names no path")
		}
		return &fileSource{path: path}, nil
	case "vault":
		return newVaultSource(uri, log)
	default:
		return nil, fmt.Errorf("unsupported password source scheme: %s", scheme)
	}
}

type staticSource struct {
	secret string
}

var _ interfaces.PasswordSource = (*staticSource)(nil)

func (s *staticSource) Password(ctx context.Context) (string, error) {
	return s.secret, nil
}

func (s *staticSource) Name() string {
	return "static"
}

type envSource struct {
	variable string
}

var _ interfaces.PasswordSource = (*envSource)(nil)

func (s *envSource) Password(ctx context.Context) (string, error) {
	value, ok := os.LookupEnv(s.variable)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", s.variable)
	}
	if value == "" {
		return "", fmt.Errorf("environment variable %s is empty", s.variable)
	}
	return value, nil
}

func (s *envSource) Name() string {
	return fmt.Sprintf("env-%s", s.variable)
}

type fileSource struct {
	path string
}

var _ interfaces.PasswordSource = (*fileSource)(nil)

func (s *fileSource) Password(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	password := strings.TrimRight(string(data), "\r\n")
	if password == "" {
		return "", fmt.Errorf("password file %s is empty", s.path)
	}
	return password, nil
}

func (s *fileSource) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.path))
}
