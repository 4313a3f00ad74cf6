package token

import "encoding/base64"

// JWK is a JSON Web Key holding an Ed25519 public key.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	X   string `json:"x"`
}

// JWKSet is the document served from the JWKS endpoint.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK returns the public half of the key in JWK form.
func (k *SigningKey) JWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		Kid: k.KID,
		Alg: "EdDSA",
		Use: "sig",
		X:   base64.RawURLEncoding.EncodeToString(k.Public),
	}
}

// NewJWKSet builds a key set from the given signing keys.
func NewJWKSet(keys ...*SigningKey) JWKSet {
	set := JWKSet{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, k.JWK())
	}
	return set
}
