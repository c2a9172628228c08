package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

// EncryptPrivateKey serializes a location private key as passphrase-encrypted
// PKCS#8 PEM. The passphrase is the location unlock password.
func EncryptPrivateKey(key *ecdsa.PrivateKey, passphrase []byte) (TLSKey, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}

	der, err := pkcs8.MarshalPrivateKey(key, passphrase, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encrypted key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "ENCRYPTED PRIVATE KEY",
		Bytes: der,
	}), nil
}

// DecryptPrivateKey parses a passphrase-encrypted PKCS#8 PEM key. A wrong
// passphrase surfaces as an error that IsPassphraseError recognizes.
func DecryptPrivateKey(key TLSKey, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM block")
	}

	parsed, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse encrypted key: %w", err)
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, errors.New("unsupported private key type")
	}
	return signer, nil
}

// IsPassphraseError reports whether an error from DecryptPrivateKey indicates
// a wrong passphrase rather than corrupt key material. The pkcs8 package does
// not expose a sentinel, so the error message is inspected.
func IsPassphraseError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, s := range []string{"incorrect password", "asn1: structure error", "tags don't match"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
