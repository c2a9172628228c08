// Package cryptoutils provides the cryptographic material types and helpers
// used by the secure node's account engine.
//
// This package implements passphrase protection for location private keys and
// certificate handling for node locations. Key material moves through three
// typed PEM representations:
//
//   - TLSCert: a location certificate ("CERTIFICATE" PEM block)
//   - TLSKey: a location private key encrypted under the unlock passphrase
//     ("ENCRYPTED PRIVATE KEY" PKCS#8 PEM block)
//   - ArmoredKeyring: ASCII-armored PGP key material (public or private block)
//
// Each type carries a constructor performing structural validation, so
// malformed material is rejected at the boundary instead of deep inside the
// unlock path.
//
// # Key Functions
//
// EncryptPrivateKey / DecryptPrivateKey - passphrase-encrypted PKCS#8
// serialization of location keys (PBKDF2 key derivation via youmark/pkcs8)
//
// CreateLocationCertificate - self-signed P-256 certificate for a new
// location, serial number derived from the location identifier
//
// VerifyCertificateKey - post-unlock check that the decrypted key matches the
// stored certificate and expected common name
//
// # Security Considerations
//
//   - A wrong passphrase is only distinguishable from corrupt key material by
//     error-message inspection (IsPassphraseError); callers treat both as a
//     failed unlock attempt.
//   - Location certificates are self-signed; trust derives from the PGP
//     identity signature over the certificate, not from a CA chain.
package cryptoutils
