package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "kind" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims is the claim set carried by every token the service signs.
type Claims struct {
	jwt.RegisteredClaims

	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	Kind     string `json:"kind"`
}

// IssuerConfig configures an Issuer. Zero TTLs fall back to defaults.
type IssuerConfig struct {
	// Issuer is the value of the "iss" claim, typically the server's
	// public base URL.
	Issuer string

	// Key signs every token. Required.
	Key *SigningKey

	// AccessTokenTTL bounds access token lifetime. Defaults to 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds refresh token lifetime. Defaults to 30 days.
	RefreshTokenTTL time.Duration

	// Now reports the current time. Defaults to time.Now.
	Now func() time.Time
}

const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Issuer signs access and refresh tokens with a single active key.
type Issuer struct {
	issuer     string
	key        *SigningKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an Issuer from the given configuration.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer identifier is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Issuer{
		issuer:     cfg.Issuer,
		key:        cfg.Key,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        cfg.Now,
	}, nil
}

// KID returns the key ID tokens are currently signed with.
func (i *Issuer) KID() string {
	return i.key.KID
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *Issuer) AccessTokenTTL() time.Duration {
	return i.accessTTL
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTokenTTL() time.Duration {
	return i.refreshTTL
}

// IssueAccessToken signs a new access token for the subject and client.
func (i *Issuer) IssueAccessToken(subject, clientID, scope string) (string, *Claims, error) {
	return i.sign(subject, clientID, scope, KindAccess, i.accessTTL)
}

// IssueRefreshToken signs a new refresh token. The returned claims carry
// the generated token ID which the caller persists for rotation tracking.
func (i *Issuer) IssueRefreshToken(subject, clientID, scope string) (string, *Claims, error) {
	return i.sign(subject, clientID, scope, KindRefresh, i.refreshTTL)
}

func (i *Issuer) sign(subject, clientID, scope, kind string, ttl time.Duration) (string, *Claims, error) {
	now := i.now().UTC()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		ClientID: clientID,
		Scope:    scope,
		Kind:     kind,
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.key.KID

	signed, err := tk.SignedString(i.key.Private)
	if err != nil {
		return "", nil, fmt.Errorf("signing %s token: %w", kind, err)
	}
	return signed, claims, nil
}
