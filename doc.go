// Package oauth provides an OAuth 2.1 authorization server as an embeddable
// HTTP handler.
//
// The package wires the flow logic in the server package to HTTP endpoints:
// authorization code issuance, token exchange and refresh, revocation
// (RFC 7009), introspection (RFC 7662), dynamic client registration
// (RFC 7591), authorization server metadata (RFC 8414), and a JWKS endpoint
// for offline token validation.
//
// Typical usage:
//
//	store := memory.New()
//	key, _ := token.GenerateSigningKey()
//	srv, _ := server.New(store, store, store, key, &server.Config{
//		Issuer: "https://auth.example.com",
//	}, logger)
//
//	handler := oauth.NewHandler(srv, []*token.SigningKey{key}, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
//
// Resource servers in the same process can protect endpoints with the
// RequireScope middleware; everything else can validate tokens offline
// against the published JWKS.
//
// Tokens are Ed25519-signed JWTs. Authorization codes are single use, PKCE
// (S256) is required by default, and refresh tokens rotate on every use
// with replay detection.
package oauth
