package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPrivateKeyPassphraseRoundTrip tests encrypting a location key and
// decrypting it with the right passphrase.
func TestPrivateKeyPassphraseRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	encrypted, err := EncryptPrivateKey(key, []byte("location passphrase"))
	require.NoError(t, err)
	require.NoError(t, encrypted.Validate(), "encrypted key should be valid PEM")

	signer, err := DecryptPrivateKey(encrypted, []byte("location passphrase"))
	require.NoError(t, err)

	recovered, ok := signer.(*ecdsa.PrivateKey)
	require.True(t, ok, "decrypted key should be ECDSA")
	require.Equal(t, key.X, recovered.X)
	require.Equal(t, key.Y, recovered.Y)
}

// TestDecryptWithWrongPassphrase tests that a wrong passphrase is detected as
// a passphrase error, not a generic failure.
func TestDecryptWithWrongPassphrase(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	encrypted, err := EncryptPrivateKey(key, []byte("correct horse"))
	require.NoError(t, err)

	_, err = DecryptPrivateKey(encrypted, []byte("battery staple"))
	require.Error(t, err)
	require.True(t, IsPassphraseError(err), "wrong passphrase should be recognized: %v", err)
}

// TestEncryptPrivateKeyRejectsEmptyPassphrase tests the empty-passphrase guard.
func TestEncryptPrivateKeyRejectsEmptyPassphrase(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = EncryptPrivateKey(key, nil)
	require.Error(t, err)
}

// TestLocationCertificate tests certificate creation and key verification.
func TestLocationCertificate(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial := []byte{0x01, 0x02, 0x03, 0x04}
	cert, err := CreateLocationCertificate("home node", serial, key, 365*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, cert.Validate())

	parsed, err := cert.GetX509Cert()
	require.NoError(t, err)
	require.Equal(t, "home node", parsed.Subject.CommonName)

	expired, err := cert.IsExpired()
	require.NoError(t, err)
	require.False(t, expired)

	require.NoError(t, VerifyCertificateKey(cert, key, "home node"))

	// Wrong common name
	require.Error(t, VerifyCertificateKey(cert, key, "other node"))

	// Wrong key
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	require.Error(t, VerifyCertificateKey(cert, otherKey, "home node"))
}

// TestTLSKeyValidation tests envelope validation for key material.
func TestTLSKeyValidation(t *testing.T) {
	_, err := NewTLSKey([]byte("not a valid PEM"))
	require.Error(t, err)

	_, err = NewTLSCert([]byte("not a valid PEM"))
	require.Error(t, err)
}
