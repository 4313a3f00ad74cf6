package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// RotateRefreshTokens enables refresh token rotation on every refresh.
	// Each rotation retires the presented token and issues the next
	// generation in the same chain. Default: true.
	RotateRefreshTokens bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy; when false the direct
	// connection IP is used. Default: false.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to pick the right X-Forwarded-For entry.
	// Default: 1.
	TrustedProxyCount int

	// SupportedScopes lists the scopes the server accepts. Empty allows
	// any scope string.
	SupportedScopes []string

	// RequirePKCE makes code_challenge mandatory on authorization
	// requests. Default: true.
	RequirePKCE bool

	// AllowPKCEPlain permits the deprecated 'plain' code_challenge_method.
	// When false only S256 is accepted. Default: false.
	AllowPKCEPlain bool

	// AllowInsecureHTTP permits a non-localhost http:// issuer. Intended
	// for tests only. Default: false.
	AllowInsecureHTTP bool

	// MaxClientsPerIP limits client registrations per IP address.
	// Default: 10.
	MaxClientsPerIP int
}

// applySecureDefaults fills in zero values with secure defaults. The
// boolean heuristic treats an all-false config as freshly constructed and
// turns the secure options on; an explicitly configured one gets warnings
// instead.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 300 // 5 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}

	isDefaultConfig := !config.RotateRefreshTokens &&
		!config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.TrustProxy

	if isDefaultConfig {
		config.RotateRefreshTokens = true
		config.RequirePKCE = true
		return config
	}

	logSecurityWarnings(config, logger)
	return config
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("SECURITY WARNING: PKCE is disabled",
			"risk", "authorization code interception",
			"recommendation", "set RequirePKCE=true")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: plain PKCE method is allowed",
			"risk", "weak code challenge protection",
			"recommendation", "set AllowPKCEPlain=false to require S256")
	}
	if !config.RotateRefreshTokens {
		logger.Warn("SECURITY WARNING: refresh token rotation is disabled",
			"risk", "stolen refresh tokens stay valid until expiry",
			"recommendation", "set RotateRefreshTokens=true")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: trusting proxy headers",
			"risk", "IP spoofing if the proxy chain is misconfigured",
			"config", "TrustedProxyCount should match the proxy chain length")
	}
}

// validateIssuer enforces HTTPS for the issuer URL. HTTP is allowed on
// loopback addresses for development and elsewhere only with
// AllowInsecureHTTP.
func validateIssuer(config *Config, logger *slog.Logger) error {
	if config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}

	issuerURL, err := url.Parse(config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		if isLocalhostHostname(issuerURL.Hostname()) {
			return nil
		}
		if !config.AllowInsecureHTTP {
			return fmt.Errorf("issuer must use HTTPS outside localhost (got %s)", config.Issuer)
		}
		logger.Error("CRITICAL SECURITY WARNING: serving OAuth over HTTP",
			"issuer", config.Issuer,
			"risk", "tokens and credentials exposed to interception")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname checks whether a hostname refers to the local
// machine, covering the whole 127.0.0.0/8 range, ::1, and bracketed IPv6
// forms.
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
