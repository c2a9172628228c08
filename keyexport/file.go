package keyexport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/secure-node-control/interfaces"
)

// FileBackend stores backups as files in a local directory. Objects carry
// key material, so files are written mode 0600 in a 0700 directory.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

var _ interfaces.ExportBackend = (*FileBackend)(nil)

func newFileBackend(location interfaces.BackupLocation, log *slog.Logger) (*FileBackend, error) {
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &FileBackend{
		baseDir:     path,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", path),
	}, nil
}

// Store writes the object under its name and returns the file URI.
func (b *FileBackend) Store(ctx context.Context, name string, data []byte) (string, error) {
	path, err := b.objectPath(name)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}

	b.log.Debug("Stored backup in file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return fmt.Sprintf("file://%s", path), nil
}

// Fetch reads a named object. Returns ErrBackupNotFound when the file does
// not exist.
func (b *FileBackend) Fetch(ctx context.Context, name string) ([]byte, error) {
	path, err := b.objectPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrBackupNotFound
		}
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	return data, nil
}

// Available checks that the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// objectPath resolves a backup name inside the base directory, rejecting
// names that escape it.
func (b *FileBackend) objectPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("backup name must not be empty")
	}
	cleaned := filepath.Clean(name)
	if cleaned != name || strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(b.baseDir, cleaned), nil
}
