package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations. Callers use errors.Is
// to map these onto the OAuth error taxonomy at the API boundary.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists indicates a registration attempt with an already-used client ID
	ErrClientExists = errors.New("client already exists")

	// ErrClientLimitReached indicates an IP address has hit its client
	// registration cap
	ErrClientLimitReached = errors.New("client registration limit reached")

	// ErrAuthorizationCodeNotFound indicates the authorization code does not exist
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeConsumed indicates the authorization code was already
	// consumed. Reuse of a consumed code is a theft indicator: the caller is
	// expected to revoke all tokens issued for the code's subject and client.
	ErrAuthorizationCodeConsumed = errors.New("authorization code already consumed")

	// ErrAuthorizationCodeMismatch indicates the client ID or redirect URI
	// presented at consumption does not match the values bound at issuance.
	// The code is left unconsumed.
	ErrAuthorizationCodeMismatch = errors.New("authorization code parameter mismatch")

	// ErrTokenExpired indicates an authorization code or refresh token record
	// has passed its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrRefreshTokenNotFound indicates the refresh token record does not exist
	// (never issued, already rotated, or cleaned up)
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	// ErrRefreshTokenRevoked indicates the refresh token or its rotation chain
	// has been revoked
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
)

// ClientStore defines the interface for managing OAuth client registrations.
// Registration is expected to happen before serving traffic; reads dominate
// afterwards. All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client.
	// Returns ErrClientExists if the client ID is already registered;
	// clients are immutable once stored.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret against its stored
	// hash and returns the client on success. The comparison is constant
	// time with respect to client existence. Public clients authenticate
	// with an empty secret.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) (*Client, error)

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit returns ErrClientLimitReached when the IP has registered
	// maxClientsPerIP or more clients. A non-positive limit disables the
	// check.
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error

	// TrackClientIP records a successful registration from the IP
	TrackClientIP(ctx context.Context, ip string) error
}

// FlowStore defines the interface for managing authorization codes.
//
// ConsumeAuthorizationCode is the security-critical operation: it must be
// linearizable per code value. Concurrent consume calls on the same code must
// yield exactly one success; every other caller observes
// ErrAuthorizationCodeConsumed. Implementations enforce this with an atomic
// check-and-set (write lock in memory, server-side script in valkey), never a
// read followed by a separate write.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without consuming it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically validates and consumes a code.
	// Under a single atomic section it checks, in order: the code exists
	// (ErrAuthorizationCodeNotFound), has not expired (ErrTokenExpired), has
	// not been consumed (ErrAuthorizationCodeConsumed, with the stored record
	// returned alongside the error so the caller can revoke the subject's
	// tokens), and that clientID and redirectURI exactly match the values
	// bound at issuance (ErrAuthorizationCodeMismatch, code left unconsumed).
	// Only on full success is the consumed flag set, exactly once.
	ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore tracks issued refresh tokens by their jti claim. The
// records back refresh token rotation, revocation, and reuse detection; the
// signed token itself is self-contained, so a record's absence means the
// token was never issued, already rotated, or aged out.
type RefreshTokenStore interface {
	// SaveRefreshToken stores the record for a newly issued refresh token
	SaveRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error

	// GetRefreshToken retrieves a refresh token record by jti
	GetRefreshToken(ctx context.Context, jti string) (*RefreshTokenRecord, error)

	// RetireRefreshToken atomically retrieves and removes a refresh token
	// record for rotation. Only one concurrent caller can succeed; the rest
	// observe ErrRefreshTokenNotFound, which the server treats as a reuse
	// signal. Returns ErrRefreshTokenRevoked if the record or its chain was
	// revoked, and ErrTokenExpired past the record's expiry.
	RetireRefreshToken(ctx context.Context, jti string) (*RefreshTokenRecord, error)

	// RevokeRefreshToken marks a single refresh token record revoked
	RevokeRefreshToken(ctx context.Context, jti string) error

	// RevokeChain revokes every record in a rotation chain.
	// Returns the number of records revoked.
	RevokeChain(ctx context.Context, chainID string) (int, error)

	// RevokeAllForSubjectClient revokes all refresh token records for a
	// subject and client pair. Called when authorization code reuse is
	// detected. Returns the number of records revoked.
	RevokeAllForSubjectClient(ctx context.Context, subject, clientID string) (int, error)
}

// Client represents a registered OAuth client. Immutable once registered;
// client IDs are unique.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, empty for public clients
	ClientType       string // "public" or "confidential"
	ClientName       string
	RedirectURIs     []string
	GrantTypes       []string
	Scopes           []string
	CreatedAt        time.Time
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered for the
// client. Comparison is exact string match per OAuth 2.1.
func (c *Client) AllowsRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// AuthorizationCode represents an issued authorization code.
// Lifecycle: issued -> consumed (terminal) or issued -> expired (terminal).
type AuthorizationCode struct {
	Code                string
	ClientID            string
	Subject             string
	Scope               string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Consumed            bool
}

// RefreshTokenRecord is the server-side record for an issued refresh token,
// keyed by the token's jti claim. ChainID links successive rotations of the
// same grant; Generation increments with each rotation.
type RefreshTokenRecord struct {
	JTI        string
	Subject    string
	ClientID   string
	Scope      string
	ChainID    string
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  time.Time
}
