package security

import "time"

// IsExpired reports whether a credential with the given expiry is expired.
// Expiry is inclusive: a credential is invalid from its expires_at instant
// onward. Authorization codes and tokens must not be honored at or past
// their expiry, so there is no grace period here; a zero expiry means the
// credential does not expire.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredAt(expiresAt, time.Now())
}

// IsExpiredAt reports whether a credential is expired at the given instant.
// Split out from IsExpired so callers with an injected clock (tests, the
// token validator) can evaluate expiry deterministically.
func IsExpiredAt(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt)
}

// IsExpiringSoon reports whether a credential will expire within threshold.
// Used by cleanup loops and proactive refresh decisions.
func IsExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
