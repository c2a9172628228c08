package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// CreateLocationCertificate generates a self-signed certificate for a node
// location. The serial number is derived from the location identifier so the
// certificate can be correlated with its location record.
func CreateLocationCertificate(cn string, serial []byte, key *ecdsa.PrivateKey, validity time.Duration) (TLSCert, error) {
	if len(serial) == 0 {
		return nil, errors.New("empty certificate serial")
	}

	template := x509.Certificate{
		SerialNumber: new(big.Int).SetBytes(serial),
		Subject: pkix.Name{
			Organization: []string{"secure-node"},
			CommonName:   cn,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	}), nil
}

// VerifyCertificateKey validates that a certificate matches the given private
// key and carries the expected common name. It is used after unlocking a
// location to make sure the decrypted key belongs to the stored certificate.
func VerifyCertificateKey(cert TLSCert, signer crypto.Signer, expectedCN string) error {
	x509Cert, err := cert.GetX509Cert()
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	if x509Cert.Subject.CommonName != expectedCN {
		return fmt.Errorf("CommonName is %s, expected %s", x509Cert.Subject.CommonName, expectedCN)
	}

	certKey, ok := x509Cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("unsupported certificate key type")
	}

	signerKey, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok {
		return errors.New("private key type doesn't match certificate")
	}

	if certKey.X.Cmp(signerKey.X) != 0 ||
		certKey.Y.Cmp(signerKey.Y) != 0 ||
		certKey.Curve != signerKey.Curve {
		return errors.New("private key doesn't match certificate")
	}
	return nil
}
