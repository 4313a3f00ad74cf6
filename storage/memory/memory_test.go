package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusauth/oauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(time.Hour)
	t.Cleanup(s.Stop)
	return s
}

func testClient(t *testing.T, clientID, secret string) *storage.Client {
	t.Helper()

	client := &storage.Client{
		ClientID:     clientID,
		ClientType:   "confidential",
		ClientName:   "Test Client",
		RedirectURIs: []string{"https://app.example.com/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		Scopes:       []string{"read", "write"},
		CreatedAt:    time.Now(),
	}
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hashing secret: %v", err)
		}
		client.ClientSecretHash = string(hash)
	}
	return client
}

func testCode(code, clientID string, expiresAt time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		Subject:     "user-1",
		Scope:       "read",
		RedirectURI: "https://app.example.com/callback",
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
}

func TestSaveClientDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testClient(t, "client-1", "secret")
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	err := s.SaveClient(ctx, testClient(t, "client-1", "other"))
	if !errors.Is(err, storage.ErrClientExists) {
		t.Errorf("SaveClient(duplicate) error = %v, want %v", err, storage.ErrClientExists)
	}

	// The original registration is untouched.
	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientSecretHash != client.ClientSecretHash {
		t.Error("duplicate registration overwrote the original client")
	}
}

func TestGetClientNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want %v", err, storage.ErrClientNotFound)
	}
}

func TestValidateClientSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, testClient(t, "client-1", "correct-secret")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	public := testClient(t, "client-2", "")
	public.ClientType = "public"
	if err := s.SaveClient(ctx, public); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", "client-1", "correct-secret", false},
		{"wrong secret", "client-1", "wrong-secret", true},
		{"empty secret for confidential client", "client-1", "", true},
		{"public client without secret", "client-2", "", false},
		{"public client with a secret", "client-2", "unexpected", true},
		{"unknown client", "missing", "any", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := s.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && client.ClientID != tt.clientID {
				t.Errorf("ValidateClientSecret() returned client %q, want %q", client.ClientID, tt.clientID)
			}
		})
	}
}

func TestCheckIPLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const ip = "203.0.113.7"
	const limit = 3

	if err := s.CheckIPLimit(ctx, ip, limit); err != nil {
		t.Fatalf("CheckIPLimit() before any registrations error = %v", err)
	}

	for i := 0; i < limit; i++ {
		if err := s.TrackClientIP(ctx, ip); err != nil {
			t.Fatalf("TrackClientIP() error = %v", err)
		}
	}

	err := s.CheckIPLimit(ctx, ip, limit)
	if !errors.Is(err, storage.ErrClientLimitReached) {
		t.Errorf("CheckIPLimit() at limit error = %v, want %v", err, storage.ErrClientLimitReached)
	}

	// Other IPs are unaffected, and a non-positive limit disables the check.
	if err := s.CheckIPLimit(ctx, "203.0.113.8", limit); err != nil {
		t.Errorf("CheckIPLimit() for a different IP error = %v", err)
	}
	if err := s.CheckIPLimit(ctx, ip, 0); err != nil {
		t.Errorf("CheckIPLimit() with no limit error = %v", err)
	}
}

func TestListClients(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.SaveClient(ctx, testClient(t, fmt.Sprintf("client-%d", i), "s")); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 3 {
		t.Errorf("ListClients() returned %d clients, want 3", len(clients))
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testCode("code-1", "client-1", time.Now().Add(5*time.Minute))
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if got.Subject != "user-1" {
		t.Errorf("consumed code subject = %q, want user-1", got.Subject)
	}
	if !got.Consumed {
		t.Error("returned record not marked consumed")
	}

	// Second exchange is a reuse attempt; the record comes back with the
	// error so the caller can revoke issued tokens.
	got, err = s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI)
	if !errors.Is(err, storage.ErrAuthorizationCodeConsumed) {
		t.Errorf("second consume error = %v, want %v", err, storage.ErrAuthorizationCodeConsumed)
	}
	if got == nil || got.Subject != "user-1" {
		t.Error("reuse error did not return the stored record")
	}
}

func TestConsumeAuthorizationCodeMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testCode("code-1", "client-1", time.Now().Add(5*time.Minute))
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	// Wrong client does not consume the code.
	_, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-2", code.RedirectURI)
	if !errors.Is(err, storage.ErrAuthorizationCodeMismatch) {
		t.Fatalf("consume with wrong client error = %v, want %v", err, storage.ErrAuthorizationCodeMismatch)
	}

	// Wrong redirect URI does not consume the code either.
	_, err = s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", "https://evil.example.com/")
	if !errors.Is(err, storage.ErrAuthorizationCodeMismatch) {
		t.Fatalf("consume with wrong redirect error = %v, want %v", err, storage.ErrAuthorizationCodeMismatch)
	}

	// The legitimate client can still redeem it.
	if _, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI); err != nil {
		t.Errorf("consume after mismatches error = %v, want nil", err)
	}
}

func TestConsumeAuthorizationCodeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testCode("code-1", "client-1", time.Now().Add(-time.Second))
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	_, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI)
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("consume expired code error = %v, want %v", err, storage.ErrTokenExpired)
	}
}

func TestConsumeAuthorizationCodeNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ConsumeAuthorizationCode(context.Background(), "missing", "client-1", "uri")
	if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("consume missing code error = %v, want %v", err, storage.ErrAuthorizationCodeNotFound)
	}
}

func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testCode("code-1", "client-1", time.Now().Add(5*time.Minute))
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const goroutines = 50

	var wg sync.WaitGroup
	var successes, reuses int64
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeAuthorizationCode(ctx, "code-1", "client-1", code.RedirectURI)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrAuthorizationCodeConsumed):
				reuses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("got %d successful consumes, want exactly 1", successes)
	}
	if reuses != goroutines-1 {
		t.Errorf("got %d reuse errors, want %d", reuses, goroutines-1)
	}
}

func TestRetireRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &storage.RefreshTokenRecord{
		JTI:        "jti-1",
		Subject:    "user-1",
		ClientID:   "client-1",
		Scope:      "read",
		ChainID:    "chain-1",
		Generation: 0,
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := s.SaveRefreshToken(ctx, rec); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	got, err := s.RetireRefreshToken(ctx, "jti-1")
	if err != nil {
		t.Fatalf("RetireRefreshToken() error = %v", err)
	}
	if got.ChainID != "chain-1" {
		t.Errorf("retired record chain = %q, want chain-1", got.ChainID)
	}

	// The record is gone; presenting the same token again reads as reuse.
	_, err = s.RetireRefreshToken(ctx, "jti-1")
	if !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("second retire error = %v, want %v", err, storage.ErrRefreshTokenNotFound)
	}
}

func TestRetireRefreshTokenConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &storage.RefreshTokenRecord{
		JTI:       "jti-1",
		Subject:   "user-1",
		ClientID:  "client-1",
		ChainID:   "chain-1",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.SaveRefreshToken(ctx, rec); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	const goroutines = 50

	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RetireRefreshToken(ctx, "jti-1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("got %d successful retires, want exactly 1", successes)
	}
}

func TestRetireRevokedRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &storage.RefreshTokenRecord{
		JTI:       "jti-1",
		Subject:   "user-1",
		ClientID:  "client-1",
		ChainID:   "chain-1",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.SaveRefreshToken(ctx, rec); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	if err := s.RevokeRefreshToken(ctx, "jti-1"); err != nil {
		t.Fatalf("RevokeRefreshToken() error = %v", err)
	}

	got, err := s.RetireRefreshToken(ctx, "jti-1")
	if !errors.Is(err, storage.ErrRefreshTokenRevoked) {
		t.Fatalf("retire revoked error = %v, want %v", err, storage.ErrRefreshTokenRevoked)
	}
	if got == nil || got.ChainID != "chain-1" {
		t.Error("revoked error did not return the stored record")
	}

	// Revoked records stay in place for repeat detection.
	if _, err := s.RetireRefreshToken(ctx, "jti-1"); !errors.Is(err, storage.ErrRefreshTokenRevoked) {
		t.Errorf("second retire of revoked token error = %v, want %v", err, storage.ErrRefreshTokenRevoked)
	}
}

func TestRevokeChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &storage.RefreshTokenRecord{
			JTI:        fmt.Sprintf("jti-%d", i),
			Subject:    "user-1",
			ClientID:   "client-1",
			ChainID:    "chain-1",
			Generation: i,
			IssuedAt:   time.Now(),
			ExpiresAt:  time.Now().Add(time.Hour),
		}
		if err := s.SaveRefreshToken(ctx, rec); err != nil {
			t.Fatalf("SaveRefreshToken() error = %v", err)
		}
	}
	other := &storage.RefreshTokenRecord{
		JTI:       "jti-other",
		Subject:   "user-2",
		ClientID:  "client-1",
		ChainID:   "chain-2",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.SaveRefreshToken(ctx, other); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	revoked, err := s.RevokeChain(ctx, "chain-1")
	if err != nil {
		t.Fatalf("RevokeChain() error = %v", err)
	}
	if revoked != 3 {
		t.Errorf("RevokeChain() revoked %d records, want 3", revoked)
	}

	// Other chain untouched.
	if _, err := s.RetireRefreshToken(ctx, "jti-other"); err != nil {
		t.Errorf("retire of unrelated chain error = %v, want nil", err)
	}
}

func TestRevokeAllForSubjectClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*storage.RefreshTokenRecord{
		{JTI: "a", Subject: "user-1", ClientID: "client-1", ChainID: "c1", ExpiresAt: time.Now().Add(time.Hour)},
		{JTI: "b", Subject: "user-1", ClientID: "client-1", ChainID: "c2", ExpiresAt: time.Now().Add(time.Hour)},
		{JTI: "c", Subject: "user-1", ClientID: "client-2", ChainID: "c3", ExpiresAt: time.Now().Add(time.Hour)},
		{JTI: "d", Subject: "user-2", ClientID: "client-1", ChainID: "c4", ExpiresAt: time.Now().Add(time.Hour)},
	}
	for _, rec := range records {
		if err := s.SaveRefreshToken(ctx, rec); err != nil {
			t.Fatalf("SaveRefreshToken() error = %v", err)
		}
	}

	revoked, err := s.RevokeAllForSubjectClient(ctx, "user-1", "client-1")
	if err != nil {
		t.Fatalf("RevokeAllForSubjectClient() error = %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked %d records, want 2", revoked)
	}

	// Records for other subjects and clients stay live.
	for _, jti := range []string{"c", "d"} {
		if _, err := s.RetireRefreshToken(ctx, jti); err != nil {
			t.Errorf("retire %q error = %v, want nil", jti, err)
		}
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired := testCode("expired", "client-1", time.Now().Add(-time.Minute))
	live := testCode("live", "client-1", time.Now().Add(time.Hour))
	if err := s.SaveAuthorizationCode(ctx, expired); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, live); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	rec := &storage.RefreshTokenRecord{
		JTI:       "expired-jti",
		Subject:   "user-1",
		ClientID:  "client-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := s.SaveRefreshToken(ctx, rec); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	s.cleanup()

	if _, err := s.GetAuthorizationCode(ctx, "live"); err != nil {
		t.Errorf("live code removed by cleanup: %v", err)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, "expired", "client-1", expired.RedirectURI); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("expired code error = %v, want %v", err, storage.ErrAuthorizationCodeNotFound)
	}
	if _, err := s.GetRefreshToken(ctx, "expired-jti"); !errors.Is(err, storage.ErrRefreshTokenNotFound) {
		t.Errorf("expired refresh record error = %v, want %v", err, storage.ErrRefreshTokenNotFound)
	}
}
