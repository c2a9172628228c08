package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring(t *testing.T) *keyring {
	t.Helper()
	k, err := newKeyring(t.TempDir())
	require.NoError(t, err, "keyring initialization should succeed")
	return k
}

func TestCreateIdentityAndReload(t *testing.T) {
	k := newTestKeyring(t)

	fingerprint, err := k.createIdentity("Test Operator", "operator@node.test")
	require.NoError(t, err, "identity creation should succeed")
	assert.False(t, fingerprint.IsZero(), "fingerprint should be set")

	infos := k.identities()
	require.Len(t, infos, 1)
	assert.Equal(t, fingerprint, infos[0].Fingerprint)
	assert.Contains(t, infos[0].Name, "Test Operator")
	assert.True(t, infos[0].HasSecretKey, "created identity should hold the secret key")

	// A fresh keyring over the same directory sees the same identity.
	reloaded, err := newKeyring(k.dir)
	require.NoError(t, err, "reload should succeed")

	infos = reloaded.identities()
	require.Len(t, infos, 1)
	assert.Equal(t, fingerprint, infos[0].Fingerprint)
	assert.True(t, infos[0].HasSecretKey, "secret key should survive a reload")

	_, ok := reloaded.signer(fingerprint)
	assert.True(t, ok, "reloaded identity should be able to sign")
}

func TestCreateIdentityRequiresName(t *testing.T) {
	k := newTestKeyring(t)
	_, err := k.createIdentity("  ", "x@y.z")
	assert.Error(t, err, "blank names should be rejected")
}

func TestImportPublicOnly(t *testing.T) {
	source := newTestKeyring(t)
	fingerprint, err := source.createIdentity("Remote Operator", "remote@node.test")
	require.NoError(t, err)

	publicArmor, err := source.exportArmored(fingerprint, false)
	require.NoError(t, err, "public export should succeed")

	k := newTestKeyring(t)
	imported, err := k.importArmored(publicArmor)
	require.NoError(t, err, "public import should succeed")
	assert.Equal(t, fingerprint, imported, "fingerprint should survive the round trip")

	infos := k.identities()
	require.Len(t, infos, 1)
	assert.False(t, infos[0].HasSecretKey, "public import must not claim a secret key")

	_, ok := k.signer(fingerprint)
	assert.False(t, ok, "public-only identity cannot sign")
}

func TestImportSecret(t *testing.T) {
	source := newTestKeyring(t)
	fingerprint, err := source.createIdentity("Remote Operator", "remote@node.test")
	require.NoError(t, err)

	secretArmor, err := source.exportArmored(fingerprint, true)
	require.NoError(t, err, "secret export should succeed")

	k := newTestKeyring(t)
	imported, err := k.importArmored(secretArmor)
	require.NoError(t, err, "secret import should succeed")
	assert.Equal(t, fingerprint, imported)

	_, ok := k.signer(fingerprint)
	assert.True(t, ok, "imported secret key should be able to sign")

	// The secret file round-trips verbatim.
	exported, err := k.exportArmored(fingerprint, true)
	require.NoError(t, err)
	assert.Equal(t, []byte(secretArmor), []byte(exported), "secret export should return the stored bytes")
}

func TestImportRejectsGarbage(t *testing.T) {
	k := newTestKeyring(t)
	_, err := k.importArmored([]byte("definitely not a keyring"))
	assert.Error(t, err, "garbage must be rejected")
}

func TestExportSecretMissing(t *testing.T) {
	source := newTestKeyring(t)
	fingerprint, err := source.createIdentity("Remote Operator", "remote@node.test")
	require.NoError(t, err)

	publicArmor, err := source.exportArmored(fingerprint, false)
	require.NoError(t, err)

	k := newTestKeyring(t)
	_, err = k.importArmored(publicArmor)
	require.NoError(t, err)

	_, err = k.exportArmored(fingerprint, true)
	assert.Error(t, err, "secret export without a secret key must fail")
}

func TestDetachedSignatureRoundTrip(t *testing.T) {
	k := newTestKeyring(t)
	fingerprint, err := k.createIdentity("Test Operator", "operator@node.test")
	require.NoError(t, err)

	data := []byte("certificate bytes to bind")
	signature, err := k.signDetached(fingerprint, data)
	require.NoError(t, err, "signing should succeed")
	assert.Contains(t, string(signature), "PGP SIGNATURE", "signature should be armored")

	err = k.verifyDetached(fingerprint, data, signature)
	assert.NoError(t, err, "signature should verify")

	err = k.verifyDetached(fingerprint, []byte("tampered data"), signature)
	assert.Error(t, err, "signature over different data must not verify")
}
