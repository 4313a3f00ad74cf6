package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validation failures. ErrTokenExpired is split out because callers
// report it differently from a bad signature or malformed token.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrWrongKind    = errors.New("unexpected token kind")
)

// Validator verifies token signatures and claims against a set of trusted
// public keys, selected by the token's "kid" header.
type Validator struct {
	issuer string
	keys   map[string]ed25519.PublicKey
	now    func() time.Time
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Issuer is the expected "iss" claim.
	Issuer string

	// Keys are the trusted verification keys. At least one is required.
	Keys []*SigningKey

	// Now reports the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewValidator creates a Validator from the given configuration.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer identifier is required")
	}
	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("at least one verification key is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := make(map[string]ed25519.PublicKey, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys[k.KID] = k.Public
	}

	return &Validator{
		issuer: cfg.Issuer,
		keys:   keys,
		now:    cfg.Now,
	}, nil
}

// ValidateAccessToken verifies an access token and returns its claims.
func (v *Validator) ValidateAccessToken(tokenString string) (*Claims, error) {
	return v.validate(tokenString, KindAccess)
}

// ValidateRefreshToken verifies a refresh token signature and claims. The
// caller still has to check the token ID against the refresh token store.
func (v *Validator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return v.validate(tokenString, KindRefresh)
}

func (v *Validator) validate(tokenString, kind string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.Kind, kind)
	}

	return claims, nil
}

func (v *Validator) keyfunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	pub, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return pub, nil
}
