package accounts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/ruteri/secure-node-control/interfaces"
)

const (
	publicKeySuffix = ".pub.asc"
	secretKeySuffix = ".sec.asc"
)

// keyring holds the node's PGP identities, one armored file pair per
// identity under the identities directory. Secret material is stored exactly
// as received: the openpgp package cannot re-serialize imported private
// keys, so the original armored bytes are the canonical form.
type keyring struct {
	dir string

	mu     sync.Mutex
	public map[interfaces.PgpFingerprint]*openpgp.Entity
	secret map[interfaces.PgpFingerprint]*openpgp.Entity
}

func newKeyring(dir string) (*keyring, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identities directory: %w", err)
	}

	k := &keyring{
		dir:    dir,
		public: make(map[interfaces.PgpFingerprint]*openpgp.Entity),
		secret: make(map[interfaces.PgpFingerprint]*openpgp.Entity),
	}
	if err := k.load(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *keyring) load() error {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		return fmt.Errorf("failed to read identities directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		isSecret := strings.HasSuffix(name, secretKeySuffix)
		if !isSecret && !strings.HasSuffix(name, publicKeySuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(k.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read identity file %s: %w", name, err)
		}
		entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to parse identity file %s: %w", name, err)
		}

		for _, entity := range entities {
			fp := interfaces.PgpFingerprint(entity.PrimaryKey.Fingerprint)
			if isSecret && entity.PrivateKey != nil {
				k.secret[fp] = entity
				k.public[fp] = entity
			} else if _, ok := k.secret[fp]; !ok {
				k.public[fp] = entity
			}
		}
	}
	return nil
}

func (k *keyring) publicPath(fp interfaces.PgpFingerprint) string {
	return filepath.Join(k.dir, fp.String()+publicKeySuffix)
}

func (k *keyring) secretPath(fp interfaces.PgpFingerprint) string {
	return filepath.Join(k.dir, fp.String()+secretKeySuffix)
}

// writePublicLocked armors the public part of the entity into its file.
func (k *keyring) writePublicLocked(fp interfaces.PgpFingerprint, entity *openpgp.Entity) error {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return fmt.Errorf("failed to create armor encoder: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return fmt.Errorf("failed to serialize public identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish armored block: %w", err)
	}

	if err := os.WriteFile(k.publicPath(fp), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write public identity file: %w", err)
	}
	return nil
}

// importArmored merges armored keyring material into the store and returns
// the fingerprint of the first imported identity.
func (k *keyring) importArmored(armored interfaces.ArmoredKeyring) (interfaces.PgpFingerprint, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to parse armored keyring: %w", err)
	}
	if len(entities) == 0 {
		return interfaces.PgpFingerprint{}, errors.New("armored keyring contains no identities")
	}

	hasPrivate := false
	for _, entity := range entities {
		if entity.PrivateKey != nil {
			hasPrivate = true
		}
	}
	// The original armored bytes are stored verbatim as the secret file, so
	// they must describe exactly one identity.
	if hasPrivate && len(entities) > 1 {
		return interfaces.PgpFingerprint{}, errors.New("secret keyring imports must contain a single identity")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, entity := range entities {
		fp := interfaces.PgpFingerprint(entity.PrimaryKey.Fingerprint)

		if err := k.writePublicLocked(fp, entity); err != nil {
			return interfaces.PgpFingerprint{}, err
		}

		if entity.PrivateKey != nil {
			if err := os.WriteFile(k.secretPath(fp), armored, 0o600); err != nil {
				return interfaces.PgpFingerprint{}, fmt.Errorf("failed to write secret identity file: %w", err)
			}
			k.secret[fp] = entity
		}
		if _, hasSecret := k.secret[fp]; !hasSecret || entity.PrivateKey != nil {
			k.public[fp] = entity
		}
	}

	return interfaces.PgpFingerprint(entities[0].PrimaryKey.Fingerprint), nil
}

// createIdentity generates a fresh identity and stores both key halves.
func (k *keyring) createIdentity(name, email string) (interfaces.PgpFingerprint, error) {
	if strings.TrimSpace(name) == "" {
		return interfaces.PgpFingerprint{}, errors.New("identity name must not be empty")
	}

	entity, err := openpgp.NewEntity(name, "", email, nil)
	if err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to generate identity: %w", err)
	}
	fp := interfaces.PgpFingerprint(entity.PrimaryKey.Fingerprint)

	// SerializePrivate signs the identity; it must run before the public
	// serialization for the self-signatures to exist.
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to create armor encoder: %w", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to serialize identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to finish armored block: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.WriteFile(k.secretPath(fp), buf.Bytes(), 0o600); err != nil {
		return interfaces.PgpFingerprint{}, fmt.Errorf("failed to write secret identity file: %w", err)
	}
	if err := k.writePublicLocked(fp, entity); err != nil {
		return interfaces.PgpFingerprint{}, err
	}

	k.secret[fp] = entity
	k.public[fp] = entity
	return fp, nil
}

// entity returns the public entity for fp.
func (k *keyring) entity(fp interfaces.PgpFingerprint) (*openpgp.Entity, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entity, ok := k.public[fp]
	return entity, ok
}

// signer returns the secret entity for fp when its private key is usable for
// signing: present and not passphrase-protected.
func (k *keyring) signer(fp interfaces.PgpFingerprint) (*openpgp.Entity, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entity, ok := k.secret[fp]
	if !ok || entity.PrivateKey == nil || entity.PrivateKey.Encrypted {
		return nil, false
	}
	return entity, true
}

func (k *keyring) identities() []interfaces.IdentityInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	infos := make([]interfaces.IdentityInfo, 0, len(k.public))
	for fp, entity := range k.public {
		_, hasSecret := k.secret[fp]
		infos = append(infos, interfaces.IdentityInfo{
			Fingerprint:  fp,
			Name:         primaryIdentityName(entity),
			HasSecretKey: hasSecret,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Fingerprint.String() < infos[j].Fingerprint.String()
	})
	return infos
}

// signDetached produces an armored detached signature over data with the
// identity's secret key.
func (k *keyring) signDetached(fp interfaces.PgpFingerprint, data []byte) ([]byte, error) {
	entity, ok := k.signer(fp)
	if !ok {
		return nil, fmt.Errorf("no usable secret key for identity %s", fp.String())
	}

	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, entity, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return buf.Bytes(), nil
}

// verifyDetached checks an armored detached signature over data against the
// identity's public key.
func (k *keyring) verifyDetached(fp interfaces.PgpFingerprint, data, signature []byte) error {
	entity, ok := k.entity(fp)
	if !ok {
		return fmt.Errorf("unknown identity %s", fp.String())
	}

	_, err := openpgp.CheckArmoredDetachedSignature(openpgp.EntityList{entity}, bytes.NewReader(data), bytes.NewReader(signature))
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// exportArmored returns the armored form of an identity. Secret exports
// return the stored bytes verbatim.
func (k *keyring) exportArmored(fp interfaces.PgpFingerprint, includeSecret bool) (interfaces.ArmoredKeyring, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if includeSecret {
		if _, ok := k.secret[fp]; !ok {
			return nil, fmt.Errorf("no secret key for identity %s", fp.String())
		}
		data, err := os.ReadFile(k.secretPath(fp))
		if err != nil {
			return nil, fmt.Errorf("failed to read secret identity file: %w", err)
		}
		return interfaces.ArmoredKeyring(data), nil
	}

	entity, ok := k.public[fp]
	if !ok {
		return nil, fmt.Errorf("unknown identity %s", fp.String())
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create armor encoder: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("failed to serialize public identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish armored block: %w", err)
	}
	return interfaces.ArmoredKeyring(buf.Bytes()), nil
}

// primaryIdentityName picks the user id marked primary, falling back to any.
func primaryIdentityName(entity *openpgp.Entity) string {
	var name string
	for _, identity := range entity.Identities {
		if name == "" {
			name = identity.Name
		}
		if identity.SelfSignature != nil && identity.SelfSignature.IsPrimaryId != nil && *identity.SelfSignature.IsPrimaryId {
			return identity.Name
		}
	}
	return name
}
