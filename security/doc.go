// Package security provides security-related functionality for the
// authorization token service: rate limiting, audit logging, client IP
// extraction, and expiry checks.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. To prevent
// unbounded growth under distributed attacks the limiter enforces a maximum
// number of tracked identifiers; when the limit is reached the least recently
// used entries are evicted first, so legitimate repeat callers survive while
// one-shot attack IPs are dropped.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429
//	}
//
// # Audit Logging
//
// The Auditor emits structured security events through slog with subject
// identifiers hashed before logging, so audit trails never carry raw PII.
package security
