package keyexport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/secure-node-control/interfaces"
)

// IPFSBackend stores backups through an IPFS node's API. IPFS addresses by
// content, so Store ignores the advisory name and returns the content
// identifier; Fetch takes that identifier as the name.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

var _ interfaces.ExportBackend = (*IPFSBackend)(nil)

func newIPFSBackend(location interfaces.BackupLocation, log *slog.Logger) (*IPFSBackend, error) {
	host, port, found := strings.Cut(location.Host, ":")
	if !found {
		host = location.Host
		port = "5001"
	}
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI names no host", interfaces.ErrInvalidLocationURI)
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s", apiURL),
	}, nil
}

// Store adds the object to IPFS and returns its ipfs:// content identifier.
// Returns ErrBackendUnavailable when the node is not reachable.
func (b *IPFSBackend) Store(ctx context.Context, name string, data []byte) (string, error) {
	if !b.shell.IsUp() {
		return "", interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to add backup to IPFS: %w", err)
	}

	b.log.Debug("Stored backup in IPFS",
		slog.String("name", name),
		slog.String("cid", cid),
		slog.Int("size", len(data)))

	return fmt.Sprintf("ipfs://%s", cid), nil
}

// Fetch retrieves an object by its content identifier.
func (b *IPFSBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	cid := strings.TrimPrefix(name, "ipfs://")
	reader, err := b.shell.Cat(fmt.Sprintf("/ipfs/%s", cid))
	if err != nil {
		if strings.Contains(err.Error(), "no link named") || strings.Contains(err.Error(), "invalid path") {
			return nil, interfaces.ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to fetch backup from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup from IPFS: %w", err)
	}
	return data, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
