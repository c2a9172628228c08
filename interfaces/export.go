package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// BackupLocation represents a parsed URI for a key backup backend.
type BackupLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewBackupLocation creates a backup location from a URI string with validation.
func NewBackupLocation(uri string) (BackupLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BackupLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "ipfs":
		// Valid scheme
	default:
		return BackupLocation{}, fmt.Errorf("unsupported backup scheme: %s", scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BackupLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc BackupLocation) String() string {
	return loc.Raw
}

// IsFile checks if this is a file system backup location.
func (loc BackupLocation) IsFile() bool {
	return loc.Scheme == "file"
}

// IsS3 checks if this is an S3 backup location.
func (loc BackupLocation) IsS3() bool {
	return loc.Scheme == "s3"
}

// IsIPFS checks if this is an IPFS backup location.
func (loc BackupLocation) IsIPFS() bool {
	return loc.Scheme == "ipfs"
}

// GetParam returns a query parameter value.
func (loc BackupLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BackupLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrBackupNotFound is returned when a named backup object cannot be
	// found in the backend.
	ErrBackupNotFound = errors.New("backup object not found")

	// ErrBackendUnavailable is returned when a backup backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("backup backend unavailable")

	// ErrInvalidLocationURI is returned when a backup location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid backup location URI")
)

// ExportBackend stores and retrieves named key backup objects.
type ExportBackend interface {
	// Store saves a named object and returns the URI it ended up at.
	Store(ctx context.Context, name string, data []byte) (string, error)

	// Fetch retrieves a previously stored object by name.
	Fetch(ctx context.Context, name string) ([]byte, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// ExportBackendFactory creates backup backends.
type ExportBackendFactory interface {
	// ExportBackendFor creates a backend from a parsed location.
	// Supports file://, s3://, ipfs://
	ExportBackendFor(location BackupLocation) (ExportBackend, error)
}
