package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nimbusauth/oauth/internal/testutil"
	"github.com/nimbusauth/oauth/storage"
	"github.com/nimbusauth/oauth/storage/memory"
	"github.com/nimbusauth/oauth/token"
)

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)

	key, err := token.GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	cfg := &Config{Issuer: "https://auth.example.com"}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(store, store, store, key, cfg, logger)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, store
}

// registerTestClient registers a confidential client and returns it with
// its plaintext secret.
func registerTestClient(t *testing.T, srv *Server) (*storage.Client, string) {
	t.Helper()

	client, secret, err := srv.RegisterClient(context.Background(), ClientRegistration{
		ClientName:   "Test App",
		RedirectURIs: []string{"https://app.example.com/callback"},
		Scopes:       []string{"read", "write"},
	}, "203.0.113.10")
	if err != nil {
		t.Fatalf("failed to register client: %v", err)
	}
	if secret == "" {
		t.Fatal("confidential client should receive a secret")
	}
	return client, secret
}

// issueTestCode runs the authorization step and returns the code plus the
// PKCE verifier needed to exchange it.
func issueTestCode(t *testing.T, srv *Server, client *storage.Client) (*storage.AuthorizationCode, string) {
	t.Helper()

	challenge, verifier := testutil.GeneratePKCEPair()
	authCode, err := srv.IssueAuthorizationCode(context.Background(), AuthorizationRequest{
		ClientID:            client.ClientID,
		Subject:             "user-1",
		RedirectURI:         client.RedirectURIs[0],
		Scope:               "read",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("failed to issue authorization code: %v", err)
	}
	return authCode, verifier
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	client, secret := registerTestClient(t, srv)

	authed, err := srv.AuthenticateClient(ctx, client.ClientID, secret, "203.0.113.10")
	if err != nil {
		t.Fatalf("client authentication failed: %v", err)
	}

	authCode, verifier := issueTestCode(t, srv, client)

	grant, err := srv.ExchangeAuthorizationCode(ctx, authed, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if grant.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", grant.TokenType)
	}
	if grant.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", grant.ExpiresIn)
	}
	if grant.Scope != "read" {
		t.Errorf("scope = %q, want read", grant.Scope)
	}

	claims, err := srv.ValidateAccessToken(ctx, grant.AccessToken)
	if err != nil {
		t.Fatalf("access token validation failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.ClientID != client.ClientID {
		t.Errorf("client_id = %q, want %q", claims.ClientID, client.ClientID)
	}

	// Refresh tokens must not pass access token validation.
	if _, err := srv.ValidateAccessToken(ctx, grant.RefreshToken); err == nil {
		t.Error("refresh token accepted as access token")
	}
}

func TestAuthenticateClientWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	client, _ := registerTestClient(t, srv)

	if _, err := srv.AuthenticateClient(context.Background(), client.ClientID, "wrong", ""); err == nil {
		t.Fatal("expected authentication failure")
	}
	if _, err := srv.AuthenticateClient(context.Background(), "unknown", "secret", ""); err == nil {
		t.Fatal("expected authentication failure for unknown client")
	}
}

func TestIssueAuthorizationCodeValidation(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *Config) {
		cfg.RequirePKCE = true
		cfg.SupportedScopes = []string{"read", "write"}
	})
	client, _ := registerTestClient(t, srv)
	challenge, _ := testutil.GeneratePKCEPair()

	base := AuthorizationRequest{
		ClientID:            client.ClientID,
		Subject:             "user-1",
		RedirectURI:         client.RedirectURIs[0],
		Scope:               "read",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
	}

	tests := []struct {
		name    string
		mutate  func(*AuthorizationRequest)
		wantErr error
	}{
		{
			name:    "unknown client",
			mutate:  func(r *AuthorizationRequest) { r.ClientID = "ghost" },
			wantErr: ErrInvalidClient,
		},
		{
			name:    "unregistered redirect URI",
			mutate:  func(r *AuthorizationRequest) { r.RedirectURI = "https://evil.example.com/cb" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing PKCE",
			mutate:  func(r *AuthorizationRequest) { r.CodeChallenge = ""; r.CodeChallengeMethod = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "plain PKCE rejected",
			mutate:  func(r *AuthorizationRequest) { r.CodeChallengeMethod = PKCEMethodPlain },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unsupported scope",
			mutate:  func(r *AuthorizationRequest) { r.Scope = "admin" },
			wantErr: ErrInvalidScope,
		},
		{
			name:    "missing subject",
			mutate:  func(r *AuthorizationRequest) { r.Subject = "" },
			wantErr: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := srv.IssueAuthorizationCode(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExchangeWrongVerifier(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, _ := issueTestCode(t, srv, client)

	wrongVerifier := strings.Repeat("x", 43)
	if _, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], wrongVerifier); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("error = %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeWrongRedirectDoesNotConsume(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, verifier := issueTestCode(t, srv, client)

	if _, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, "https://evil.example.com/cb", verifier); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("error = %v, want ErrInvalidGrant", err)
	}

	// The mismatch must not have consumed the code.
	if _, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier); err != nil {
		t.Fatalf("legitimate exchange after mismatch failed: %v", err)
	}
}

func TestExchangeCodeReuseRevokesTokens(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, verifier := issueTestCode(t, srv, client)

	grant, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if _, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("reuse error = %v, want ErrInvalidGrant", err)
	}

	// Reuse revokes the refresh token issued by the first exchange.
	if _, err := srv.RefreshAccessToken(ctx, client, grant.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("refresh after code reuse: error = %v, want ErrInvalidGrant", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, verifier := issueTestCode(t, srv, client)
	grant, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	first := grant
	second, err := srv.RefreshAccessToken(ctx, client, first.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	third, err := srv.RefreshAccessToken(ctx, client, second.RefreshToken)
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}

	// Replaying the rotated generation-0 token is theft: the whole
	// subject+client token set goes down, including the newest one.
	if _, err := srv.RefreshAccessToken(ctx, client, first.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replay error = %v, want ErrInvalidGrant", err)
	}
	if _, err := srv.RefreshAccessToken(ctx, client, third.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("refresh with latest token after reuse: error = %v, want ErrInvalidGrant", err)
	}
}

func TestRefreshRotationDisabled(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *Config) {
		cfg.RotateRefreshTokens = false
		cfg.RequirePKCE = true
	})
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, verifier := issueTestCode(t, srv, client)
	grant, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	refreshed, err := srv.RefreshAccessToken(ctx, client, grant.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if refreshed.RefreshToken != grant.RefreshToken {
		t.Error("refresh token changed with rotation disabled")
	}

	// The same token keeps working.
	if _, err := srv.RefreshAccessToken(ctx, client, grant.RefreshToken); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
}

func TestRefreshWrongClient(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	other, _, err := srv.RegisterClient(ctx, ClientRegistration{
		ClientName:   "Other App",
		RedirectURIs: []string{"https://other.example.com/callback"},
	}, "203.0.113.11")
	if err != nil {
		t.Fatalf("failed to register second client: %v", err)
	}

	authCode, verifier := issueTestCode(t, srv, client)
	grant, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if _, err := srv.RefreshAccessToken(ctx, other, grant.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("error = %v, want ErrInvalidGrant", err)
	}

	// The mismatch must not have retired the token for its real owner.
	if _, err := srv.RefreshAccessToken(ctx, client, grant.RefreshToken); err != nil {
		t.Fatalf("refresh by owner after mismatch failed: %v", err)
	}
}

func TestRevokeToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	client, _ := registerTestClient(t, srv)

	authCode, verifier := issueTestCode(t, srv, client)
	grant, err := srv.ExchangeAuthorizationCode(ctx, client, authCode.Code, client.RedirectURIs[0], verifier)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	if err := srv.RevokeToken(ctx, client, grant.RefreshToken, "203.0.113.10"); err != nil {
		t.Fatalf("revocation failed: %v", err)
	}

	if _, err := srv.RefreshAccessToken(ctx, client, grant.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("refresh after revocation: error = %v, want ErrInvalidGrant", err)
	}

	// RFC 7009: revoking garbage succeeds.
	if err := srv.RevokeToken(ctx, client, "not-a-token", ""); err != nil {
		t.Fatalf("revoking unknown token should succeed: %v", err)
	}
}

func TestValidateExpiredAccessToken(t *testing.T) {
	store := memory.NewWithInterval(time.Hour)
	t.Cleanup(store.Stop)

	key, err := token.GenerateSigningKey()
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	issuer, err := token.NewIssuer(token.IssuerConfig{
		Issuer:         "https://auth.example.com",
		Key:            key,
		AccessTokenTTL: time.Hour,
		Now:            func() time.Time { return past },
	})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	expired, _, err := issuer.IssueAccessToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(store, store, store, key, &Config{Issuer: "https://auth.example.com"}, logger)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if _, err := srv.ValidateAccessToken(context.Background(), expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
}
