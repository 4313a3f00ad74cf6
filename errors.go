package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nimbusauth/oauth/server"
)

// Wire-level error codes per RFC 6749 and RFC 6750.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeInsufficientScope    = "insufficient_scope"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// OAuthError is an error that maps directly onto an OAuth error response:
// a stable wire code, a human-readable description, and the HTTP status
// the response should carry.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError builds an OAuthError with the given wire code, description,
// and HTTP status.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// mapFlowError translates a server flow error into the wire taxonomy.
// Descriptions stay generic; the detailed reason is already in the server's
// logs and audit trail.
func mapFlowError(err error) *OAuthError {
	switch {
	case errors.Is(err, server.ErrInvalidClient):
		return NewOAuthError(ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
	case errors.Is(err, server.ErrInvalidGrant):
		return NewOAuthError(ErrorCodeInvalidGrant, "The provided grant is invalid, expired, or revoked", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidScope):
		return NewOAuthError(ErrorCodeInvalidScope, "The requested scope is invalid or not allowed", http.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidToken):
		return NewOAuthError(ErrorCodeInvalidToken, "The access token is invalid or expired", http.StatusUnauthorized)
	case errors.Is(err, server.ErrInvalidRequest):
		return NewOAuthError(ErrorCodeInvalidRequest, "The request is missing a required parameter or is malformed", http.StatusBadRequest)
	default:
		return NewOAuthError(ErrorCodeServerError, "An internal error occurred", http.StatusInternalServerError)
	}
}
