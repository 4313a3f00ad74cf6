package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusauth/oauth/security"
	"github.com/nimbusauth/oauth/storage"
	"github.com/nimbusauth/oauth/token"
)

// Sentinel errors for flow failures. The HTTP layer maps these onto RFC
// 6749 error codes. Messages stay generic so callers learn nothing about
// why a grant was rejected.
var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInvalidClient  = errors.New("invalid_client")
	ErrInvalidGrant   = errors.New("invalid_grant")
	ErrInvalidScope   = errors.New("invalid_scope")
	ErrInvalidToken   = errors.New("invalid_token")
)

// AuthorizationRequest holds the parameters of an authorization request
// after the resource owner has authenticated and approved it.
type AuthorizationRequest struct {
	ClientID            string
	Subject             string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenGrant is the result of a successful token issuance.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds
	Scope        string
}

// IssueAuthorizationCode validates an authorization request and issues a
// single-use authorization code bound to the client, redirect URI, scope,
// and PKCE challenge.
func (s *Server) IssueAuthorizationCode(ctx context.Context, req AuthorizationRequest) (*storage.AuthorizationCode, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		s.auditAuthFailure("", req.ClientID, "unknown_client")
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}

	if !client.AllowsGrantType("authorization_code") {
		s.auditAuthFailure(req.Subject, req.ClientID, "grant_type_not_allowed")
		return nil, fmt.Errorf("%w: client may not use the authorization_code grant", ErrInvalidRequest)
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		s.auditAuthFailure(req.Subject, req.ClientID, "invalid_redirect_uri")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		s.auditAuthFailure(req.Subject, req.ClientID, "invalid_pkce_parameters")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.validateScopes(req.Scope); err != nil {
		s.auditAuthFailure(req.Subject, req.ClientID, "invalid_scope")
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	if err := s.validateClientScopes(req.Scope, client.Scopes); err != nil {
		s.auditAuthFailure(req.Subject, req.ClientID, "scope_not_allowed_for_client")
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            req.ClientID,
		Subject:             req.Subject,
		Scope:               req.Scope,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(secondsToDuration(s.Config.AuthorizationCodeTTL)),
	}

	if err := s.flowStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(req.Subject, req.ClientID, req.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, req.ClientID)
	}

	return authCode, nil
}

// ExchangeAuthorizationCode exchanges an authorization code for an access
// and refresh token pair. The client must already be authenticated. The
// consume is atomic, so only one of any set of concurrent exchanges for
// the same code succeeds. Reuse of a consumed code revokes every refresh
// token for the subject and client.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI, codeVerifier string) (*TokenGrant, error) {
	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code, client.ClientID, redirectURI)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeConsumed) && authCode != nil {
			s.handleCodeReuse(ctx, authCode, client.ClientID)
			return nil, fmt.Errorf("%w: invalid authorization code", ErrInvalidGrant)
		}

		s.Logger.Debug("Authorization code exchange failed",
			"reason", err.Error(),
			"client_id", client.ClientID,
			"code_prefix", safeTruncate(code, tokenIDLogLength))
		s.auditAuthFailure("", client.ClientID, "invalid_authorization_code")
		return nil, fmt.Errorf("%w: invalid authorization code", ErrInvalidGrant)
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventAuthFailure,
				Subject:  authCode.Subject,
				ClientID: client.ClientID,
				Details:  map[string]any{"reason": "pkce_validation_failed"},
			})
		}
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}

	grant, err := s.issueTokenPair(ctx, authCode.Subject, client.ClientID, authCode.Scope, uuid.NewString(), 0)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.Subject, client.ClientID, "", authCode.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, client.ClientID, authCode.CodeChallengeMethod)
	}

	return grant, nil
}

// handleCodeReuse reacts to a consumed authorization code being presented
// again. All refresh tokens for the subject and client are revoked, since
// either the original recipient or the current presenter obtained tokens
// illegitimately.
func (s *Server) handleCodeReuse(ctx context.Context, authCode *storage.AuthorizationCode, clientID string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(authCode.Subject+":"+clientID) {
		s.Logger.Error("Authorization code reuse detected, revoking all refresh tokens",
			"client_id", clientID,
			"code_prefix", safeTruncate(authCode.Code, tokenIDLogLength))
	}

	revoked, err := s.refreshStore.RevokeAllForSubjectClient(ctx, authCode.Subject, clientID)
	if err != nil {
		s.Logger.Error("Failed to revoke refresh tokens after code reuse", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventCodeReuseDetected,
			Subject:  authCode.Subject,
			ClientID: clientID,
			Details: map[string]any{
				"severity":      "critical",
				"revoked_count": revoked,
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}
}

// RefreshAccessToken exchanges a refresh token for a new access token,
// rotating the refresh token when rotation is enabled. The presented
// token is retired atomically; a token that was already rotated away is
// treated as stolen and its whole subject+client token set is revoked.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken string) (*TokenGrant, error) {
	claims, err := s.validator.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", client.ClientID)
		s.auditAuthFailure("", client.ClientID, "invalid_refresh_token")
		return nil, fmt.Errorf("%w: invalid refresh token", ErrInvalidGrant)
	}

	if claims.ClientID != client.ClientID {
		s.auditAuthFailure(claims.Subject, client.ClientID, "refresh_token_client_mismatch")
		return nil, fmt.Errorf("%w: invalid refresh token", ErrInvalidGrant)
	}

	rec, err := s.refreshStore.RetireRefreshToken(ctx, claims.ID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRefreshTokenRevoked):
			// A previously revoked token being presented again. The chain
			// is already dead; make sure of it and reject.
			if rec != nil {
				if _, chainErr := s.refreshStore.RevokeChain(ctx, rec.ChainID); chainErr != nil {
					s.Logger.Error("Failed to revoke chain", "error", chainErr)
				}
			}
			s.auditAuthFailure(claims.Subject, client.ClientID, "revoked_refresh_token")
			return nil, fmt.Errorf("%w: invalid refresh token", ErrInvalidGrant)

		case errors.Is(err, storage.ErrRefreshTokenNotFound):
			// The JWT is validly signed and unexpired but its record is
			// gone: the token was rotated and is now being replayed.
			s.handleRefreshReuse(ctx, claims, client.ClientID)
			return nil, fmt.Errorf("%w: invalid refresh token", ErrInvalidGrant)

		default:
			s.auditAuthFailure(claims.Subject, client.ClientID, "invalid_refresh_token")
			return nil, fmt.Errorf("%w: invalid refresh token", ErrInvalidGrant)
		}
	}

	if !s.Config.RotateRefreshTokens {
		// Rotation disabled: put the record back and reissue only the
		// access token.
		if err := s.refreshStore.SaveRefreshToken(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to restore refresh token record: %w", err)
		}

		accessToken, _, err := s.issuer.IssueAccessToken(rec.Subject, rec.ClientID, rec.Scope)
		if err != nil {
			return nil, fmt.Errorf("failed to issue access token: %w", err)
		}

		if s.Auditor != nil {
			s.Auditor.LogTokenRefreshed(rec.Subject, client.ClientID, "", false)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenRefresh(ctx, client.ClientID, false)
		}

		return &TokenGrant{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    s.Config.AccessTokenTTL,
			Scope:        rec.Scope,
		}, nil
	}

	grant, err := s.issueTokenPair(ctx, rec.Subject, rec.ClientID, rec.Scope, rec.ChainID, rec.Generation+1)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("Refresh token rotated",
		"client_id", client.ClientID,
		"chain_id", safeTruncate(rec.ChainID, tokenIDLogLength),
		"generation", rec.Generation+1)

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(rec.Subject, client.ClientID, "", true)
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, client.ClientID, true)
	}

	return grant, nil
}

// handleRefreshReuse reacts to replay of a rotated refresh token. The
// record that would identify the chain is gone, so every refresh token
// for the subject and client is revoked.
func (s *Server) handleRefreshReuse(ctx context.Context, claims *token.Claims, clientID string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(claims.Subject+":"+clientID) {
		s.Logger.Error("Refresh token reuse detected, revoking all refresh tokens",
			"client_id", clientID,
			"jti_prefix", safeTruncate(claims.ID, tokenIDLogLength))
	}

	revoked, err := s.refreshStore.RevokeAllForSubjectClient(ctx, claims.Subject, clientID)
	if err != nil {
		s.Logger.Error("Failed to revoke refresh tokens after reuse", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventRefreshReuseDetected,
			Subject:  claims.Subject,
			ClientID: clientID,
			Details: map[string]any{
				"severity":      "critical",
				"revoked_count": revoked,
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenReuseDetected(ctx)
	}
}

// issueTokenPair issues an access and refresh token for the subject and
// records the refresh token in the given rotation chain.
func (s *Server) issueTokenPair(ctx context.Context, subject, clientID, scope, chainID string, generation int) (*TokenGrant, error) {
	accessToken, _, err := s.issuer.IssueAccessToken(subject, clientID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, refreshClaims, err := s.issuer.IssueRefreshToken(subject, clientID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	rec := &storage.RefreshTokenRecord{
		JTI:        refreshClaims.ID,
		Subject:    subject,
		ClientID:   clientID,
		Scope:      scope,
		ChainID:    chainID,
		Generation: generation,
		IssuedAt:   refreshClaims.IssuedAt.Time,
		ExpiresAt:  refreshClaims.ExpiresAt.Time,
	}
	if err := s.refreshStore.SaveRefreshToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save refresh token record: %w", err)
	}

	return &TokenGrant{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		Scope:        scope,
	}, nil
}

// RevokeToken revokes a refresh token and its entire rotation chain. Per
// RFC 7009 revocation of an unknown or already-revoked token succeeds
// silently. Access tokens are stateless and expire on their own, so
// revoking one is a no-op that still reports success.
func (s *Server) RevokeToken(ctx context.Context, client *storage.Client, tokenString, clientIP string) error {
	claims, err := s.validator.ValidateRefreshToken(tokenString)
	if err != nil {
		// Not one of our refresh tokens. Nothing to revoke.
		return nil
	}

	if claims.ClientID != client.ClientID {
		// A client may only revoke its own tokens. Report success to
		// avoid leaking token validity.
		s.auditAuthFailure(claims.Subject, client.ClientID, "revocation_client_mismatch")
		return nil
	}

	rec, err := s.refreshStore.GetRefreshToken(ctx, claims.ID)
	if err != nil {
		return nil
	}

	if _, err := s.refreshStore.RevokeChain(ctx, rec.ChainID); err != nil {
		return fmt.Errorf("failed to revoke token chain: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(rec.Subject, client.ClientID, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, client.ClientID)
	}

	s.Logger.Info("Refresh token chain revoked",
		"client_id", client.ClientID,
		"chain_id", safeTruncate(rec.ChainID, tokenIDLogLength))
	return nil
}

// ValidateAccessToken validates a bearer access token and returns its
// claims.
func (s *Server) ValidateAccessToken(ctx context.Context, tokenString string) (*token.Claims, error) {
	claims, err := s.validator.ValidateAccessToken(tokenString)
	if err != nil {
		result := "invalid"
		if errors.Is(err, token.ErrTokenExpired) {
			result = "expired"
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenValidation(ctx, result)
		}
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:    security.EventTokenValidationFailed,
				Details: map[string]any{"reason": result},
			})
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if m := s.metrics(); m != nil {
		m.RecordTokenValidation(ctx, "success")
	}
	return claims, nil
}

func (s *Server) auditAuthFailure(subject, clientID, reason string) {
	if s.Auditor != nil {
		s.Auditor.LogAuthFailure(subject, clientID, "", reason)
	}
}
