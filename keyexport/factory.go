// Package keyexport stores armored identity backups on pluggable backends
// selected by URI. Unlike content-addressed stores, objects here are named:
// a backup is written under a caller-chosen name and fetched back by that
// name (for IPFS, by the content identifier returned from Store).
//
// Supported location URIs:
//
//	file:///var/backups/node      local directory
//	s3://bucket/prefix?region=eu-west-1[&endpoint=...]   S3 or compatible
//	ipfs://host:port              IPFS node API
//
// The package also provides Shamir secret sharing helpers used by the admin
// CLI to split a secret-key export into K-of-N share files.
package keyexport

import (
	"fmt"
	"log/slog"

	"github.com/ruteri/secure-node-control/interfaces"
)

// Factory creates export backends from parsed backup locations.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a factory that logs backend activity to log.
func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log}
}

var _ interfaces.ExportBackendFactory = (*Factory)(nil)

// ExportBackendFor creates the backend matching the location's scheme.
func (f *Factory) ExportBackendFor(location interfaces.BackupLocation) (interfaces.ExportBackend, error) {
	switch {
	case location.IsFile():
		return newFileBackend(location, f.log)
	case location.IsS3():
		return newS3Backend(location, f.log)
	case location.IsIPFS():
		return newIPFSBackend(location, f.log)
	default:
		return nil, fmt.Errorf("%w: unsupported backup scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// NewBackendFromURI parses the URI and creates the matching backend.
func NewBackendFromURI(uri string, log *slog.Logger) (interfaces.ExportBackend, error) {
	location, err := interfaces.NewBackupLocation(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	return NewFactory(log).ExportBackendFor(location)
}
