package security

// Event type constants for security audit logging. Using constants keeps
// event names consistent across the codebase and greppable in log pipelines.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeConsumed is logged when a code is exchanged for tokens
	EventAuthorizationCodeConsumed = "authorization_code_consumed"

	// EventCodeReuseDetected is logged when a consumed code is presented again (attack)
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// Token lifecycle events

	// EventTokenIssued is logged when an access token is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is obtained via refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a refresh token is revoked
	EventTokenRevoked = "token_revoked" //nolint:gosec // event type name, not a credential

	// EventRefreshReuseDetected is logged when a rotated refresh token is reused (theft)
	EventRefreshReuseDetected = "refresh_token_reuse_detected"

	// Validation failures

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventTokenValidationFailed is logged when bearer token validation fails
	EventTokenValidationFailed = "token_validation_failed" //nolint:gosec // event type name, not a credential

	// EventInsufficientScope is logged when a valid token lacks a required scope
	EventInsufficientScope = "insufficient_scope"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"
)
