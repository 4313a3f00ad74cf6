package token

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, now func() time.Time) (*Issuer, *SigningKey) {
	t.Helper()

	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	issuer, err := NewIssuer(IssuerConfig{
		Issuer:          "https://auth.example.com",
		Key:             key,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Now:             now,
	})
	if err != nil {
		t.Fatalf("creating issuer: %v", err)
	}
	return issuer, key
}

func newTestValidator(t *testing.T, now func() time.Time, keys ...*SigningKey) *Validator {
	t.Helper()

	v, err := NewValidator(ValidatorConfig{
		Issuer: "https://auth.example.com",
		Keys:   keys,
		Now:    now,
	})
	if err != nil {
		t.Fatalf("creating validator: %v", err)
	}
	return v
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	issuer, key := newTestIssuer(t, time.Now)
	validator := newTestValidator(t, time.Now, key)

	signed, issued, err := issuer.IssueAccessToken("user-1", "client-1", "read write")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if issued.ID == "" {
		t.Error("issued claims have no token ID")
	}

	claims, err := validator.ValidateAccessToken(signed)
	if err != nil {
		t.Fatalf("validating token: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", claims.Subject)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("client_id = %q, want client-1", claims.ClientID)
	}
	if claims.Scope != "read write" {
		t.Errorf("scope = %q, want %q", claims.Scope, "read write")
	}
	if claims.Kind != KindAccess {
		t.Errorf("kind = %q, want %q", claims.Kind, KindAccess)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer, key := newTestIssuer(t, func() time.Time { return base })

	signed, _, err := issuer.IssueAccessToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{"just before expiry", base.Add(time.Hour - time.Second), nil},
		{"at expiry", base.Add(time.Hour), ErrTokenExpired},
		{"after expiry", base.Add(time.Hour + time.Second), ErrTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			validator := newTestValidator(t, func() time.Time { return at }, key)

			_, err := validator.ValidateAccessToken(signed)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateAccessToken() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAccessToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWrongKey(t *testing.T) {
	issuer, _ := newTestIssuer(t, time.Now)

	otherKey, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	validator := newTestValidator(t, time.Now, otherKey)

	signed, _, err := issuer.IssueAccessToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	if _, err := validator.ValidateAccessToken(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ValidateAccessToken() error = %v, want %v", err, ErrTokenInvalid)
	}
}

func TestValidateWrongKind(t *testing.T) {
	issuer, key := newTestIssuer(t, time.Now)
	validator := newTestValidator(t, time.Now, key)

	refresh, _, err := issuer.IssueRefreshToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("issuing refresh token: %v", err)
	}

	if _, err := validator.ValidateAccessToken(refresh); !errors.Is(err, ErrWrongKind) {
		t.Errorf("ValidateAccessToken(refresh) error = %v, want %v", err, ErrWrongKind)
	}

	access, _, err := issuer.IssueAccessToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("issuing access token: %v", err)
	}
	if _, err := validator.ValidateRefreshToken(access); !errors.Is(err, ErrWrongKind) {
		t.Errorf("ValidateRefreshToken(access) error = %v, want %v", err, ErrWrongKind)
	}
}

func TestValidateTamperedToken(t *testing.T) {
	issuer, key := newTestIssuer(t, time.Now)
	validator := newTestValidator(t, time.Now, key)

	signed, _, err := issuer.IssueAccessToken("user-1", "client-1", "read")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	tampered := signed[:len(signed)-4] + "AAAA"
	if _, err := validator.ValidateAccessToken(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ValidateAccessToken(tampered) error = %v, want %v", err, ErrTokenInvalid)
	}

	if _, err := validator.ValidateAccessToken("not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ValidateAccessToken(garbage) error = %v, want %v", err, ErrTokenInvalid)
	}
}

func TestSigningKeyPEMRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	pemData, err := key.MarshalPEM()
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}

	loaded, err := ParseSigningKeyPEM(key.KID, pemData)
	if err != nil {
		t.Fatalf("parsing key: %v", err)
	}
	if !key.Private.Equal(loaded.Private) {
		t.Error("loaded private key differs from original")
	}
	if loaded.KID != key.KID {
		t.Errorf("loaded KID = %q, want %q", loaded.KID, key.KID)
	}
}

func TestJWKSet(t *testing.T) {
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	set := NewJWKSet(key)
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshaling JWK set: %v", err)
	}

	var decoded JWKSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling JWK set: %v", err)
	}
	if len(decoded.Keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(decoded.Keys))
	}
	jwk := decoded.Keys[0]
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" || jwk.Alg != "EdDSA" || jwk.Use != "sig" {
		t.Errorf("unexpected JWK metadata: %+v", jwk)
	}
	if jwk.Kid != key.KID {
		t.Errorf("kid = %q, want %q", jwk.Kid, key.KID)
	}
	if jwk.X == "" {
		t.Error("JWK has no public key material")
	}
}
