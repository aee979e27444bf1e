// Package jwks manages the RSA signing key set for issued tokens. One key
// is current and signs everything; rotated-out keys stay in the set as
// deprecated so previously issued tokens keep verifying until cleanup.
package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Key statuses.
const (
	StatusCurrent    = "current"
	StatusDeprecated = "deprecated"
)

// SigningKey is one RSA key pair with rotation metadata.
type SigningKey struct {
	Kid        string
	Alg        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Status     string
	CreatedAt  time.Time
	// DeprecatedAt is set when the key rotates out of current.
	DeprecatedAt *time.Time
}

// JWKS is the RFC 7517 document served to verifiers.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is one public key entry of the JWKS document.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// ToJWK projects the public half of the key.
func (k *SigningKey) ToJWK() JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.Kid,
		Alg: k.Alg,
		N:   base64.RawURLEncoding.EncodeToString(k.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.PublicKey.E)).Bytes()),
	}
}

// GenerateRSAKey returns a fresh 2048-bit RSA private key.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// EncodePrivateKeyPEM serializes a private key in PKCS#1 PEM form.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// DecodePrivateKeyPEM parses a PKCS#1 or PKCS#8 PEM private key.
func DecodePrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
