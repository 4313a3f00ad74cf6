package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/nimbusauth/oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging
	// code and token identifiers
	tokenIDLogLength = 8

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// clientIPTrackingTTL bounds how long per-IP registration counts are
	// kept, so the registration limit resets daily
	clientIPTrackingTTL = 24 * time.Hour
)

// errInvalidCredentials is deliberately generic so a failed authentication
// does not reveal whether the client exists.
var errInvalidCredentials = fmt.Errorf("invalid client credentials")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of ClientStore, FlowStore, and
// RefreshTokenStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.FlowStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// refreshKey returns the key for a refresh token record: {prefix}refresh:{jti}
func (s *Store) refreshKey(jti string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, jti)
}

// chainKey returns the key for a rotation chain index: {prefix}chain:{chainID}
func (s *Store) chainKey(chainID string) string {
	return fmt.Sprintf("%schain:%s", s.prefix, chainID)
}

// subjectClientKey returns the key for the subject+client index:
// {prefix}subject:{subject}:{clientID}
func (s *Store) subjectClientKey(subject, clientID string) string {
	return fmt.Sprintf("%ssubject:%s:%s", s.prefix, subject, clientID)
}

// clientIPKey returns the key holding the registration count for an IP.
func (s *Store) clientIPKey(ip string) string {
	return fmt.Sprintf("%sip:%s", s.prefix, ip)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Lua scripts run server-side as a single step, which is what makes the
// consume and retire operations linearizable across concurrent callers and
// across multiple server instances sharing the same Valkey.

// luaConsumeAuthorizationCode atomically validates and consumes an
// authorization code. Checks run in order: existence, expiry, consumed
// state, then client ID and redirect URI binding. Only when all pass is the
// consumed flag written, so concurrent exchanges of the same code resolve
// to exactly one winner. The JSON record keeps its TTL.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = presenting client ID
// ARGV[3] = presented redirect URI
//
// Returns:
//   - updated JSON data on success (consumed=true)
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if now is at or past the code's expiry
//   - "CONSUMED:<json>" if the code was already consumed (record returned
//     for reuse handling)
//   - "MISMATCH" if client ID or redirect URI differ (code left unconsumed)
const luaConsumeAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now >= expiresAt then
    return 'EXPIRED'
end

if code.consumed then
    return 'CONSUMED:' .. data
end

if code.client_id ~= ARGV[2] or code.redirect_uri ~= ARGV[3] then
    return 'MISMATCH'
end

code.consumed = true
local updated = cjson.encode(code)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaRetireRefreshToken atomically retrieves and deletes a refresh token
// record for rotation. Revoked records are left in place so repeated
// presentations keep reading as revoked rather than unknown.
//
// KEYS[1] = refresh token record key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - JSON data on success (record deleted)
//   - "NOT_FOUND" if the key doesn't exist (possible reuse after rotation)
//   - "REVOKED:<json>" if the record is revoked
//   - "EXPIRED" if now is at or past the record's expiry
const luaRetireRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local rec = cjson.decode(data)

if rec.revoked then
    return 'REVOKED:' .. data
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(rec.expires_at)
if expiresAt and now >= expiresAt then
    return 'EXPIRED'
end

redis.call('DEL', KEYS[1])

return data
`

// ============================================================
// JSON Serialization Helpers
// ============================================================

// clientJSON is the JSON representation of a registered client
type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientType       string   `json:"client_type"`
	ClientName       string   `json:"client_name,omitempty"`
	RedirectURIs     []string `json:"redirect_uris"`
	GrantTypes       []string `json:"grant_types,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         client.ClientID,
		ClientSecretHash: client.ClientSecretHash,
		ClientType:       client.ClientType,
		ClientName:       client.ClientName,
		RedirectURIs:     client.RedirectURIs,
		GrantTypes:       client.GrantTypes,
		Scopes:           client.Scopes,
		CreatedAt:        client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientType:       j.ClientType,
		ClientName:       j.ClientName,
		RedirectURIs:     j.RedirectURIs,
		GrantTypes:       j.GrantTypes,
		Scopes:           j.Scopes,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// authorizationCodeJSON is the JSON representation of an authorization code
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	Subject             string `json:"subject"`
	Scope               string `json:"scope"`
	RedirectURI         string `json:"redirect_uri"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Consumed            bool   `json:"consumed"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		Subject:             code.Subject,
		Scope:               code.Scope,
		RedirectURI:         code.RedirectURI,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Consumed:            code.Consumed,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		Subject:             j.Subject,
		Scope:               j.Scope,
		RedirectURI:         j.RedirectURI,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Consumed:            j.Consumed,
	}
}

// refreshTokenRecordJSON is the JSON representation of a refresh token record
type refreshTokenRecordJSON struct {
	JTI        string `json:"jti"`
	Subject    string `json:"subject"`
	ClientID   string `json:"client_id"`
	Scope      string `json:"scope,omitempty"`
	ChainID    string `json:"chain_id"`
	Generation int    `json:"generation"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
	Revoked    bool   `json:"revoked"`
	RevokedAt  int64  `json:"revoked_at,omitempty"`
}

func toRefreshTokenRecordJSON(rec *storage.RefreshTokenRecord) *refreshTokenRecordJSON {
	j := &refreshTokenRecordJSON{
		JTI:        rec.JTI,
		Subject:    rec.Subject,
		ClientID:   rec.ClientID,
		Scope:      rec.Scope,
		ChainID:    rec.ChainID,
		Generation: rec.Generation,
		IssuedAt:   rec.IssuedAt.Unix(),
		ExpiresAt:  rec.ExpiresAt.Unix(),
		Revoked:    rec.Revoked,
	}
	if !rec.RevokedAt.IsZero() {
		j.RevokedAt = rec.RevokedAt.Unix()
	}
	return j
}

func fromRefreshTokenRecordJSON(j *refreshTokenRecordJSON) *storage.RefreshTokenRecord {
	if j == nil {
		return nil
	}
	rec := &storage.RefreshTokenRecord{
		JTI:        j.JTI,
		Subject:    j.Subject,
		ClientID:   j.ClientID,
		Scope:      j.Scope,
		ChainID:    j.ChainID,
		Generation: j.Generation,
		IssuedAt:   time.Unix(j.IssuedAt, 0),
		ExpiresAt:  time.Unix(j.ExpiresAt, 0),
		Revoked:    j.Revoked,
	}
	if j.RevokedAt > 0 {
		rec.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return rec
}

// ============================================================
// Helpers
// ============================================================

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// isNilError checks if the error indicates a nil/not-found result from
// Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// getAndUnmarshal fetches a key and unmarshals its JSON value into the
// intermediate type J, then converts to T. Returns notFoundErr when the key
// does not exist.
func getAndUnmarshal[J any, T any](ctx context.Context, s *Store, key string, notFoundErr error, convert func(*J) *T) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get from valkey: %w", err)
	}

	var j J
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return convert(&j), nil
}
