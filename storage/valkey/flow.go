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

// SaveAuthorizationCode persists an authorization code with a TTL matching
// its expiry.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code is required")
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.codeKey(code.Code)
	err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Authorization code saved",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID,
		"ttl", ttl)

	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if code == "" {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	return getAndUnmarshal[authorizationCodeJSON, storage.AuthorizationCode](
		ctx, s, s.codeKey(code), storage.ErrAuthorizationCodeNotFound, fromAuthorizationCodeJSON)
}

// ConsumeAuthorizationCode atomically validates and consumes an
// authorization code via a server-side Lua script, so concurrent exchanges
// of the same code resolve to exactly one winner even across multiple
// server instances.
//
// Returns:
//   - (record, nil) on success; the code is now consumed
//   - (nil, ErrAuthorizationCodeNotFound) if the code is unknown
//   - (nil, ErrTokenExpired) if the code expired
//   - (record, ErrAuthorizationCodeConsumed) if the code was already
//     consumed; the record is returned so the caller can revoke what was
//     issued from it
//   - (nil, ErrAuthorizationCodeMismatch) if the client ID or redirect URI
//     differ from those bound at issuance; the code stays unconsumed
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*storage.AuthorizationCode, error) {
	if code == "" {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	key := s.codeKey(code)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	result, err := s.client.Do(ctx, s.client.B().Eval().
		Script(luaConsumeAuthorizationCode).
		Numkeys(1).
		Key(key).
		Arg(now, clientID, redirectURI).
		Build()).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	codePrefix := safeTruncate(code, tokenIDLogLength)

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound

	case result == "EXPIRED":
		s.logger.Debug("Authorization code expired", "code_prefix", codePrefix)
		return nil, fmt.Errorf("authorization code expired: %w", storage.ErrTokenExpired)

	case result == "MISMATCH":
		s.logger.Warn("Authorization code binding mismatch",
			"code_prefix", codePrefix,
			"client_id", clientID)
		return nil, storage.ErrAuthorizationCodeMismatch

	case strings.HasPrefix(result, "CONSUMED:"):
		data := strings.TrimPrefix(result, "CONSUMED:")
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consumed code: %w", err)
		}
		s.logger.Warn("Authorization code reuse detected",
			"code_prefix", codePrefix,
			"client_id", j.ClientID)
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeConsumed

	default:
		// Success: the script returned the updated record.
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(result), &j); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
		}
		s.logger.Debug("Authorization code consumed",
			"code_prefix", codePrefix,
			"client_id", j.ClientID)
		return fromAuthorizationCodeJSON(&j), nil
	}
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}

	err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}
