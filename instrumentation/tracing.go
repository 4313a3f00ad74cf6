package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never attach actual credential values (access tokens, refresh tokens,
// authorization codes, client secrets) to spans. Traces are persisted and
// replicated far more widely than the systems that produced them; only
// metadata such as client IDs, scopes, and validation results belongs here.
const (
	AttrClientID    = "oauth.client_id"
	AttrSubject     = "oauth.subject"
	AttrScope       = "oauth.scope"
	AttrGrantType   = "oauth.grant_type"
	AttrClientType  = "oauth.client_type"
	AttrPKCEMethod  = "oauth.pkce.method"
	AttrCodeReuse   = "oauth.code.reuse"
	AttrTokenReuse  = "oauth.token.reuse"   //nolint:gosec // reuse flag, not a credential
	AttrTokenKind   = "oauth.token.kind"    //nolint:gosec // "access" or "refresh"
	AttrChainID     = "oauth.token.chain_id"
	AttrGeneration  = "oauth.token.generation"
	AttrRotated     = "oauth.token.rotated"
	AttrExpiresIn   = "oauth.expires_in"
	AttrError       = "oauth.error"
	AttrRedirectURI = "oauth.redirect_uri"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common flow attributes to a span (nil-safe).
// Empty values are skipped.
func AddFlowAttributes(span trace.Span, clientID, subject, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddChainAttributes adds rotation chain attributes to a span (nil-safe).
func AddChainAttributes(span trace.Span, chainID string, generation int) {
	if chainID != "" {
		SetSpanAttributes(span,
			attribute.String(AttrChainID, chainID),
			attribute.Int(AttrGeneration, generation),
		)
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds security attributes to a span (nil-safe).
// Callers should check Instrumentation.ShouldLogClientIPs before passing an
// IP address here.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
