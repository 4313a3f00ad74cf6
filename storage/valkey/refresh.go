package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusauth/oauth/storage"
)

// luaRevokeRefreshToken atomically marks a refresh token record as revoked
// while keeping its TTL, so the record keeps reading as revoked until it
// expires naturally.
//
// KEYS[1] = refresh token record key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - "OK" if the record was newly revoked
//   - "ALREADY" if the record was already revoked
//   - "NOT_FOUND" if the key doesn't exist
const luaRevokeRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local rec = cjson.decode(data)
if rec.revoked then
    return 'ALREADY'
end

rec.revoked = true
rec.revoked_at = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')

return 'OK'
`

// SaveRefreshToken persists a refresh token record with a TTL matching its
// expiry and indexes it by rotation chain and by subject+client so chain
// and bulk revocation avoid scanning the key space.
func (s *Store) SaveRefreshToken(ctx context.Context, rec *storage.RefreshTokenRecord) error {
	if rec == nil || rec.JTI == "" {
		return fmt.Errorf("invalid refresh token record")
	}

	ttl := calculateTTL(rec.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("refresh token record already expired")
	}

	data, err := json.Marshal(toRefreshTokenRecordJSON(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token record: %w", err)
	}

	key := s.refreshKey(rec.JTI)
	err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to save refresh token record: %w", err)
	}

	ttlSeconds := int64(ttl / time.Second)

	if rec.ChainID != "" {
		chainKey := s.chainKey(rec.ChainID)
		if err := s.client.Do(ctx, s.client.B().Sadd().Key(chainKey).Member(rec.JTI).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index refresh token by chain: %w", err)
		}
		// GT keeps the index alive as long as its longest-lived member.
		if err := s.client.Do(ctx, s.client.B().Expire().Key(chainKey).Seconds(ttlSeconds).Gt().Build()).Error(); err != nil {
			return fmt.Errorf("failed to set chain index expiry: %w", err)
		}
	}

	subjectKey := s.subjectClientKey(rec.Subject, rec.ClientID)
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(subjectKey).Member(rec.JTI).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index refresh token by subject: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Expire().Key(subjectKey).Seconds(ttlSeconds).Gt().Build()).Error(); err != nil {
		return fmt.Errorf("failed to set subject index expiry: %w", err)
	}

	s.logger.Debug("Refresh token record saved",
		"jti_prefix", safeTruncate(rec.JTI, tokenIDLogLength),
		"chain_id", rec.ChainID,
		"generation", rec.Generation,
		"ttl", ttl)

	return nil
}

// GetRefreshToken retrieves a refresh token record by jti.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*storage.RefreshTokenRecord, error) {
	if jti == "" {
		return nil, storage.ErrRefreshTokenNotFound
	}

	return getAndUnmarshal[refreshTokenRecordJSON, storage.RefreshTokenRecord](
		ctx, s, s.refreshKey(jti), storage.ErrRefreshTokenNotFound, fromRefreshTokenRecordJSON)
}

// RetireRefreshToken atomically retrieves and removes a refresh token
// record for rotation via a server-side Lua script. Only one concurrent
// caller for a given jti gets the record; the rest observe
// ErrRefreshTokenNotFound. Revoked records are left in place so later
// presentations of the same token keep reporting ErrRefreshTokenRevoked.
func (s *Store) RetireRefreshToken(ctx context.Context, jti string) (*storage.RefreshTokenRecord, error) {
	if jti == "" {
		return nil, storage.ErrRefreshTokenNotFound
	}

	key := s.refreshKey(jti)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	result, err := s.client.Do(ctx, s.client.B().Eval().
		Script(luaRetireRefreshToken).
		Numkeys(1).
		Key(key).
		Arg(now).
		Build()).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to retire refresh token: %w", err)
	}

	jtiPrefix := safeTruncate(jti, tokenIDLogLength)

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrRefreshTokenNotFound

	case result == "EXPIRED":
		s.logger.Debug("Refresh token record expired", "jti_prefix", jtiPrefix)
		return nil, fmt.Errorf("refresh token expired: %w", storage.ErrTokenExpired)

	case strings.HasPrefix(result, "REVOKED:"):
		data := strings.TrimPrefix(result, "REVOKED:")
		var j refreshTokenRecordJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal revoked record: %w", err)
		}
		s.logger.Warn("Revoked refresh token presented",
			"jti_prefix", jtiPrefix,
			"chain_id", j.ChainID)
		return fromRefreshTokenRecordJSON(&j), storage.ErrRefreshTokenRevoked

	default:
		var j refreshTokenRecordJSON
		if err := json.Unmarshal([]byte(result), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal refresh token record: %w", err)
		}
		rec := fromRefreshTokenRecordJSON(&j)
		s.removeFromIndexes(ctx, rec)
		s.logger.Debug("Refresh token record retired",
			"jti_prefix", jtiPrefix,
			"chain_id", rec.ChainID,
			"generation", rec.Generation)
		return rec, nil
	}
}

// RevokeRefreshToken marks a single refresh token record as revoked. The
// record keeps its TTL so it stays observable as revoked until it expires.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti string) error {
	if jti == "" {
		return storage.ErrRefreshTokenNotFound
	}

	result, err := s.revokeRecord(ctx, jti)
	if err != nil {
		return err
	}
	if result == "NOT_FOUND" {
		return storage.ErrRefreshTokenNotFound
	}

	s.logger.Debug("Refresh token record revoked",
		"jti_prefix", safeTruncate(jti, tokenIDLogLength))
	return nil
}

// RevokeChain revokes every record in a rotation chain. Returns the number
// of records newly revoked.
func (s *Store) RevokeChain(ctx context.Context, chainID string) (int, error) {
	if chainID == "" {
		return 0, nil
	}

	jtis, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.chainKey(chainID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read chain index: %w", err)
	}

	revoked := 0
	for _, jti := range jtis {
		result, err := s.revokeRecord(ctx, jti)
		if err != nil {
			return revoked, err
		}
		if result == "OK" {
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked refresh token chain",
			"chain_id", chainID,
			"revoked_count", revoked)
	}
	return revoked, nil
}

// RevokeAllForSubjectClient revokes all refresh token records for a subject
// and client pair. Returns the number of records newly revoked.
func (s *Store) RevokeAllForSubjectClient(ctx context.Context, subject, clientID string) (int, error) {
	jtis, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.subjectClientKey(subject, clientID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read subject index: %w", err)
	}

	revoked := 0
	for _, jti := range jtis {
		result, err := s.revokeRecord(ctx, jti)
		if err != nil {
			return revoked, err
		}
		if result == "OK" {
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all refresh tokens for subject and client",
			"client_id", clientID,
			"revoked_count", revoked)
	}
	return revoked, nil
}

// revokeRecord runs the revoke script for one jti and returns the raw
// script result.
func (s *Store) revokeRecord(ctx context.Context, jti string) (string, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	result, err := s.client.Do(ctx, s.client.B().Eval().
		Script(luaRevokeRefreshToken).
		Numkeys(1).
		Key(s.refreshKey(jti)).
		Arg(now).
		Build()).ToString()
	if err != nil {
		return "", fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return result, nil
}

// removeFromIndexes drops a retired record's jti from the chain and subject
// indexes. Index staleness is tolerable, so errors only log.
func (s *Store) removeFromIndexes(ctx context.Context, rec *storage.RefreshTokenRecord) {
	if rec.ChainID != "" {
		if err := s.client.Do(ctx, s.client.B().Srem().Key(s.chainKey(rec.ChainID)).Member(rec.JTI).Build()).Error(); err != nil {
			s.logger.Warn("Failed to remove jti from chain index", "error", err)
		}
	}
	if err := s.client.Do(ctx, s.client.B().Srem().Key(s.subjectClientKey(rec.Subject, rec.ClientID)).Member(rec.JTI).Build()).Error(); err != nil {
		s.logger.Warn("Failed to remove jti from subject index", "error", err)
	}
}
