package cryptoutils

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"crypto/x509"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
)

// TLSCert represents a location TLS certificate in PEM format.
type TLSCert []byte

// NewTLSCert creates a new certificate object from PEM-encoded data with validation.
func NewTLSCert(data []byte) (TLSCert, error) {
	// Validate PEM format
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return TLSCert{}, errors.New("invalid certificate: not in PEM format or not a certificate")
	}

	// Validate certificate structure
	_, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return TLSCert{}, fmt.Errorf("invalid certificate structure: %w", err)
	}

	return TLSCert(data), nil
}

// Validate checks if the certificate is properly formed.
func (cert TLSCert) Validate() error {
	_, err := NewTLSCert(cert)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (cert TLSCert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(cert)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if the certificate has expired.
func (cert TLSCert) IsExpired() (bool, error) {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return false, err
	}
	return x509Cert.NotAfter.Before(time.Now()), nil
}

// TLSKey represents a location private key in PEM format, encrypted
// under the location passphrase (PKCS#8, "ENCRYPTED PRIVATE KEY").
type TLSKey []byte

// NewTLSKey creates a new key object from PEM-encoded data with validation.
// The key material itself is not decrypted here; only the envelope is checked.
func NewTLSKey(data []byte) (TLSKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "ENCRYPTED PRIVATE KEY" {
		return TLSKey{}, errors.New("invalid key: not in PEM format or not an encrypted private key")
	}

	return TLSKey(data), nil
}

// Validate checks if the encrypted key is properly formed.
func (key TLSKey) Validate() error {
	_, err := NewTLSKey(key)
	return err
}

// ArmoredKeyring represents ASCII-armored PGP key material, either a public
// key block or a private key block.
type ArmoredKeyring []byte

// NewArmoredKeyring creates a new keyring object from armored data with validation.
func NewArmoredKeyring(data []byte) (ArmoredKeyring, error) {
	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return ArmoredKeyring{}, fmt.Errorf("invalid armored keyring: %w", err)
	}

	if block.Type != openpgp.PublicKeyType && block.Type != openpgp.PrivateKeyType {
		return ArmoredKeyring{}, fmt.Errorf("invalid armored keyring: unexpected block type %q", block.Type)
	}

	return ArmoredKeyring(data), nil
}

// Validate checks if the keyring data is properly armored PGP key material.
func (kr ArmoredKeyring) Validate() error {
	_, err := NewArmoredKeyring(kr)
	return err
}
