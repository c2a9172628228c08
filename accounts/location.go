package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/secure-node-control/interfaces"
)

const (
	metadataFile    = "location.json"
	certFile        = "cert.pem"
	keyFile         = "key.pem"
	identitySigFile = "identity.sig"
)

// locationMetadata is the on-disk form of a location's metadata file.
type locationMetadata struct {
	ID         interfaces.LocationID     `json:"id"`
	Name       string                    `json:"name"`
	Identity   interfaces.PgpFingerprint `json:"identity"`
	Autologin  bool                      `json:"autologin"`
	DynDNSHost string                    `json:"dyndns_host,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
}

func (meta locationMetadata) accountInfo(identityName string) interfaces.AccountInfo {
	return interfaces.AccountInfo{
		ID:           meta.ID,
		Name:         meta.Name,
		Identity:     meta.Identity,
		IdentityName: identityName,
		Autologin:    meta.Autologin,
		DynDNSHost:   meta.DynDNSHost,
	}
}

func (e *Engine) locationsDir() string {
	return filepath.Join(e.dataDir, "locations")
}

func (e *Engine) locationDir(id interfaces.LocationID) string {
	return filepath.Join(e.locationsDir(), id.String())
}

func (e *Engine) readLocation(id interfaces.LocationID) (locationMetadata, error) {
	data, err := os.ReadFile(filepath.Join(e.locationDir(id), metadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return locationMetadata{}, interfaces.ErrUnknownAccount
		}
		return locationMetadata{}, fmt.Errorf("failed to read location metadata: %w", err)
	}

	var meta locationMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return locationMetadata{}, fmt.Errorf("failed to parse location metadata: %w", err)
	}
	return meta, nil
}

// writeLocationMetadata commits the metadata file atomically so a crash
// never leaves a half-written location behind.
func (e *Engine) writeLocationMetadata(meta locationMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode location metadata: %w", err)
	}

	dir := e.locationDir(meta.ID)
	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write location metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("failed to commit location metadata: %w", err)
	}
	return nil
}
