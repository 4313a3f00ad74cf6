package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"
)

// SigningKey is an Ed25519 key pair identified by a key ID. The key ID is
// written into the "kid" header of every token signed with the key.
type SigningKey struct {
	KID     string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateSigningKey creates a new Ed25519 key pair with a random key ID.
func GenerateSigningKey() (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &SigningKey{
		KID:     uuid.NewString(),
		Private: priv,
		Public:  pub,
	}, nil
}

// ParseSigningKeyPEM loads a signing key from a PKCS#8 PEM block. The key
// ID must be supplied by the caller so it stays stable across restarts.
func ParseSigningKeyPEM(kid string, pemData []byte) (*SigningKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in signing key data")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}

	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want ed25519", parsed)
	}

	return &SigningKey{
		KID:     kid,
		Private: priv,
		Public:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// MarshalPEM serializes the private key as a PKCS#8 PEM block.
func (k *SigningKey) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("marshaling signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
