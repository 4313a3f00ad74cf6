package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nimbusauth/oauth/storage"
)

// MockTime provides a controllable time source for deterministic testing.
type MockTime struct {
	now time.Time
}

// NewMockTime creates a new mock time provider.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by the given duration.
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value.
func (m *MockTime) Set(t time.Time) {
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given
// length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid PKCE challenge and verifier pair where
// challenge is the S256 hash of the verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// TestClientSecret is the plaintext matching TestClient's secret hash.
const TestClientSecret = "secret"

// TestClient returns a confidential client registration for tests. The
// secret hash is a bcrypt hash of TestClientSecret.
func TestClient() *storage.Client {
	return &storage.Client{
		ClientID:         "test-client-id",
		ClientSecretHash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
		ClientType:       "confidential",
		ClientName:       "Test Client",
		RedirectURIs:     []string{"https://example.com/callback"},
		GrantTypes:       []string{"authorization_code", "refresh_token"},
		Scopes:           []string{"read", "write"},
		CreatedAt:        time.Now(),
	}
}

// TestAuthorizationCode returns an unconsumed authorization code bound to
// TestClient.
func TestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "test-client-id",
		Subject:     "test-user-123",
		Scope:       "read write",
		RedirectURI: "https://example.com/callback",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
}
