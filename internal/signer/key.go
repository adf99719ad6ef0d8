// Package signer signs merged APKs with APK Signature Scheme v2 and
// verifies such signatures.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"

	apperrors "github.com/antisplit/pkg/errors"
)

// KeyAlgorithm selects the key type of a generated key.
type KeyAlgorithm int

const (
	RSA KeyAlgorithm = iota
	ECDSA
)

// Key is a signing key with its certificate.
type Key struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	// Ephemeral marks a key generated for a single run.
	Ephemeral bool
}

// LoadPKCS12 reads a PKCS#12 keystore holding one key and certificate.
func LoadPKCS12(path, password string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.IO(err, "read keystore %s", path)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "decode keystore %s", path)
	}
	return newKey(priv, cert)
}

// LoadPEM reads a PEM certificate and a PEM private key in PKCS#8, PKCS#1
// or SEC 1 form.
func LoadPEM(certPath, keyPath string) (*Key, error) {
	certDER, err := readPEM(certPath, "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "parse certificate %s", certPath)
	}
	keyDER, err := readPEM(keyPath, "")
	if err != nil {
		return nil, err
	}
	priv, err := parsePrivateKey(keyDER)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "parse key %s", keyPath)
	}
	return newKey(priv, cert)
}

func readPEM(path, typ string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.IO(err, "read %s", path)
	}
	for {
		var b *pem.Block
		b, data = pem.Decode(data)
		if b == nil {
			return nil, apperrors.Newf(apperrors.CodeSigningError, "%s: no PEM block %s", path, typ)
		}
		if typ == "" || b.Type == typ {
			return b.Bytes, nil
		}
	}
}

func parsePrivateKey(der []byte) (interface{}, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	return x509.ParseECPrivateKey(der)
}

func newKey(priv interface{}, cert *x509.Certificate) (*Key, error) {
	s, ok := priv.(crypto.Signer)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeSigningError, "unsupported private key %T", priv)
	}
	if _, err := algorithmFor(s.Public()); err != nil {
		return nil, err
	}
	return &Key{Signer: s, Certificate: cert}, nil
}

// GenerateKey creates an ephemeral key with a self-signed certificate.
func GenerateKey(alg KeyAlgorithm) (*Key, error) {
	var priv crypto.Signer
	var err error
	switch alg {
	case ECDSA:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "generate key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "generate serial")
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "antisplit", Organization: []string{"antisplit"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(30, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "create certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "parse certificate")
	}
	return &Key{Signer: priv, Certificate: cert, Ephemeral: true}, nil
}

// EncodePEM returns the certificate and PKCS#8 key of k in PEM form.
func (k *Key) EncodePEM() (certPEM, keyPEM []byte, err error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Signer)
	if err != nil {
		return nil, nil, apperrors.Wrapf(apperrors.CodeSigningError, err, "marshal key")
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: k.Certificate.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return certPEM, keyPEM, nil
}
