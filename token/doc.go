// Package token issues and validates the service's signed tokens.
//
// Access and refresh tokens are JWTs signed with Ed25519 (EdDSA). Every
// token carries a "kind" claim so an access token can never be replayed
// where a refresh token is expected and vice versa. The Validator only
// trusts keys it was constructed with, selected by the "kid" header.
package token
