package accounts

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/secure-node-control/cryptoutils"
	"github.com/ruteri/secure-node-control/interfaces"
)

// locationCertValidity is the lifetime of freshly minted location
// certificates.
const locationCertValidity = 10 * 365 * 24 * time.Hour

// HostResolver checks that a dynamic-DNS hostname resolves.
type HostResolver interface {
	Resolve(host string) ([]string, error)
}

// Config collects the engine's dependencies.
type Config struct {
	// DataDir is the root of the on-disk account state.
	DataDir string

	// Log receives structured engine events. Defaults to slog.Default().
	Log *slog.Logger

	// Resolver, when set, checks dynamic-DNS hostnames on location creation.
	Resolver HostResolver
}

// Engine stores PGP identities and node locations on disk. It implements
// interfaces.AccountEngine: discovery, passphrase unlock of the location TLS
// key, identity binding signatures (local or deferred through a prompter),
// location creation and identity management.
type Engine struct {
	log      *slog.Logger
	dataDir  string
	resolver HostResolver
	keyring  *keyring

	// locMu serializes location directory writes.
	locMu sync.Mutex
}

var _ interfaces.AccountEngine = (*Engine)(nil)

// New opens (or initializes) the account store under cfg.DataDir.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "locations"), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create locations directory: %w", err)
	}
	kr, err := newKeyring(filepath.Join(cfg.DataDir, "identities"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		log:      cfg.Log,
		dataDir:  cfg.DataDir,
		resolver: cfg.Resolver,
		keyring:  kr,
	}, nil
}

// DiscoverAccounts scans the locations directory. Corrupt metadata fails the
// scan; an empty directory does not.
func (e *Engine) DiscoverAccounts(ctx context.Context) ([]interfaces.AccountInfo, error) {
	entries, err := os.ReadDir(e.locationsDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read locations directory: %w", err)
	}

	accounts := make([]interfaces.AccountInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := interfaces.NewLocationIDFromHex(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("unexpected entry %s in locations directory: %w", entry.Name(), err)
		}
		meta, err := e.readLocation(id)
		if err != nil {
			return nil, err
		}
		if !meta.ID.Equal(id) {
			return nil, fmt.Errorf("location %s metadata names id %s", id.String(), meta.ID.String())
		}
		accounts = append(accounts, meta.accountInfo(e.identityName(meta.Identity)))
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// Unlock decrypts the location key with the password, checks it against the
// certificate and ensures the identity binding signature exists and
// verifies. A wrong password returns interfaces.ErrBadCredential.
func (e *Engine) Unlock(ctx context.Context, id interfaces.LocationID, password string, prompter interfaces.CredentialPrompter) error {
	meta, err := e.readLocation(id)
	if err != nil {
		return err
	}

	dir := e.locationDir(id)
	keyPEM, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return fmt.Errorf("failed to read location key: %w", err)
	}
	certPEM, err := os.ReadFile(filepath.Join(dir, certFile))
	if err != nil {
		return fmt.Errorf("failed to read location certificate: %w", err)
	}

	key, err := cryptoutils.NewTLSKey(keyPEM)
	if err != nil {
		return fmt.Errorf("location key is corrupt: %w", err)
	}
	cert, err := cryptoutils.NewTLSCert(certPEM)
	if err != nil {
		return fmt.Errorf("location certificate is corrupt: %w", err)
	}

	signer, err := cryptoutils.DecryptPrivateKey(key, []byte(password))
	if err != nil {
		if cryptoutils.IsPassphraseError(err) {
			return interfaces.ErrBadCredential
		}
		return fmt.Errorf("failed to decrypt location key: %w", err)
	}

	if err := cryptoutils.VerifyCertificateKey(cert, signer, meta.Name); err != nil {
		return fmt.Errorf("location certificate does not match its key: %w", err)
	}

	if err := e.ensureIdentityBinding(meta, certPEM, prompter); err != nil {
		return err
	}

	e.log.Info("location unlocked", "location", id.String(), "name", meta.Name)
	return nil
}

// ensureIdentityBinding checks the detached PGP signature binding the
// location certificate to its identity, creating it on first unlock. When
// the keyring cannot sign (public-only identity or passphrase-protected
// key), the signature is requested through the prompter and verified before
// being stored.
func (e *Engine) ensureIdentityBinding(meta locationMetadata, certPEM []byte, prompter interfaces.CredentialPrompter) error {
	sigPath := filepath.Join(e.locationDir(meta.ID), identitySigFile)

	signature, err := os.ReadFile(sigPath)
	switch {
	case err == nil:
		if err := e.keyring.verifyDetached(meta.Identity, certPEM, signature); err != nil {
			return fmt.Errorf("identity binding for location %s: %w", meta.ID.String(), err)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read identity signature: %w", err)
	}

	if _, ok := e.keyring.signer(meta.Identity); ok {
		signature, err = e.keyring.signDetached(meta.Identity, certPEM)
		if err != nil {
			return fmt.Errorf("failed to sign location certificate: %w", err)
		}
	} else {
		if prompter == nil {
			return fmt.Errorf("identity %s cannot sign locally and no prompter is available", meta.Identity.String())
		}
		reason := fmt.Sprintf("bind certificate of location %q to identity %s", meta.Name, meta.Identity.String())
		signature, err = prompter.AskForDeferredSignature(certPEM, reason)
		if err != nil {
			return err
		}
		if err := e.keyring.verifyDetached(meta.Identity, certPEM, signature); err != nil {
			return fmt.Errorf("supplied signature does not verify: %w", err)
		}
	}

	if err := os.WriteFile(sigPath, signature, 0o600); err != nil {
		return fmt.Errorf("failed to store identity signature: %w", err)
	}
	e.log.Info("identity binding established", "location", meta.ID.String(), "identity", meta.Identity.String())
	return nil
}

// CreateAccount mints a new location: fresh P-256 key, self-signed
// certificate, passphrase-encrypted key file and metadata. The identity must
// already be in the keyring; when it cannot sign locally the binding
// signature is deferred to the first unlock.
func (e *Engine) CreateAccount(ctx context.Context, params interfaces.CreateLocationParams, password string) (interfaces.AccountInfo, error) {
	if err := params.Validate(); err != nil {
		return interfaces.AccountInfo{}, err
	}
	if password == "" {
		return interfaces.AccountInfo{}, errors.New("location password must not be empty")
	}
	if _, ok := e.keyring.entity(params.Identity); !ok {
		return interfaces.AccountInfo{}, fmt.Errorf("unknown identity fingerprint %s", params.Identity.String())
	}

	if params.DynDNSHost != "" && e.resolver != nil {
		if addrs, err := e.resolver.Resolve(params.DynDNSHost); err != nil {
			e.log.Warn("dynamic-dns hostname does not resolve yet", "host", params.DynDNSHost, "err", err)
		} else {
			e.log.Info("dynamic-dns hostname resolves", "host", params.DynDNSHost, "addresses", strings.Join(addrs, ","))
		}
	}

	id := interfaces.NewRandomLocationID()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to generate location key: %w", err)
	}
	cert, err := cryptoutils.CreateLocationCertificate(params.Name, id.Bytes(), privateKey, locationCertValidity)
	if err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to create location certificate: %w", err)
	}
	encryptedKey, err := cryptoutils.EncryptPrivateKey(privateKey, []byte(password))
	if err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to encrypt location key: %w", err)
	}

	e.locMu.Lock()
	defer e.locMu.Unlock()

	dir := e.locationDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to create location directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, certFile), cert, 0o644); err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to write location certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFile), encryptedKey, 0o600); err != nil {
		return interfaces.AccountInfo{}, fmt.Errorf("failed to write location key: %w", err)
	}

	if signature, err := e.keyring.signDetached(params.Identity, cert); err == nil {
		if err := os.WriteFile(filepath.Join(dir, identitySigFile), signature, 0o600); err != nil {
			return interfaces.AccountInfo{}, fmt.Errorf("failed to store identity signature: %w", err)
		}
	} else {
		e.log.Info("identity cannot sign locally, binding deferred to first unlock", "identity", params.Identity.String())
	}

	meta := locationMetadata{
		ID:         id,
		Name:       params.Name,
		Identity:   params.Identity,
		Autologin:  params.Autologin,
		DynDNSHost: params.DynDNSHost,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.writeLocationMetadata(meta); err != nil {
		return interfaces.AccountInfo{}, err
	}

	e.log.Info("location created", "location", id.String(), "name", params.Name)
	return meta.accountInfo(e.identityName(params.Identity)), nil
}

// SetAutologin persists the autologin preference in the location metadata.
func (e *Engine) SetAutologin(ctx context.Context, id interfaces.LocationID, autologin bool) error {
	e.locMu.Lock()
	defer e.locMu.Unlock()

	meta, err := e.readLocation(id)
	if err != nil {
		return err
	}
	if meta.Autologin == autologin {
		return nil
	}
	meta.Autologin = autologin
	return e.writeLocationMetadata(meta)
}

// ImportIdentity merges armored PGP key material into the node keyring.
func (e *Engine) ImportIdentity(ctx context.Context, armored interfaces.ArmoredKeyring) (interfaces.PgpFingerprint, error) {
	fingerprint, err := e.keyring.importArmored(armored)
	if err != nil {
		return interfaces.PgpFingerprint{}, err
	}
	e.log.Info("identity imported", "fingerprint", fingerprint.String())
	return fingerprint, nil
}

// Identities lists the PGP identities in the node keyring.
func (e *Engine) Identities(ctx context.Context) ([]interfaces.IdentityInfo, error) {
	return e.keyring.identities(), nil
}

// ExportIdentity returns the armored form of an identity for backup.
func (e *Engine) ExportIdentity(ctx context.Context, fingerprint interfaces.PgpFingerprint, includeSecret bool) (interfaces.ArmoredKeyring, error) {
	return e.keyring.exportArmored(fingerprint, includeSecret)
}

// CreateIdentity generates a fresh PGP identity in the node keyring.
func (e *Engine) CreateIdentity(ctx context.Context, name, email string) (interfaces.PgpFingerprint, error) {
	fingerprint, err := e.keyring.createIdentity(name, email)
	if err != nil {
		return interfaces.PgpFingerprint{}, err
	}
	e.log.Info("identity created", "fingerprint", fingerprint.String(), "name", name)
	return fingerprint, nil
}

func (e *Engine) identityName(fp interfaces.PgpFingerprint) string {
	entity, ok := e.keyring.entity(fp)
	if !ok {
		return ""
	}
	return primaryIdentityName(entity)
}
