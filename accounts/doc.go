// Package accounts implements the on-disk account engine behind the control
// plane: PGP identities and the node locations that belong to them.
//
// # Layout
//
// Everything lives under a single data directory:
//
//	<datadir>/identities/<fingerprint>.pub.asc   armored public key
//	<datadir>/identities/<fingerprint>.sec.asc   armored private key, when held
//	<datadir>/locations/<id>/location.json       metadata
//	<datadir>/locations/<id>/cert.pem            location TLS certificate
//	<datadir>/locations/<id>/key.pem             PKCS#8 key, passphrase-encrypted
//	<datadir>/locations/<id>/identity.sig        detached PGP signature over cert.pem
//
// # Unlock
//
// Unlocking a location decrypts key.pem with the supplied password, verifies
// the key against cert.pem and checks the identity binding: a detached PGP
// signature over the certificate made by the location's identity. The
// binding is created on first unlock. When the keyring holds only the public
// key (or the private key is passphrase-protected), the engine requests the
// signature through the interfaces.CredentialPrompter instead, so the
// operator can produce it with their own key.
//
// A wrong password surfaces as interfaces.ErrBadCredential; everything else
// is unrecoverable for the caller.
//
// # Identities
//
// Identities are stored one armored file pair per fingerprint. Imported
// secret keys are kept byte for byte as received, since the openpgp package
// cannot re-serialize foreign private keys.
package accounts
