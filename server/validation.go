package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/nimbusauth/oauth/internal/util"
	"github.com/nimbusauth/oauth/storage"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// DangerousSchemes lists URI schemes that are never allowed as redirect
// targets.
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// validateRedirectURI checks that a redirect URI is registered for the
// client and passes security validation.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if !client.AllowsRedirectURI(redirectURI) {
		return fmt.Errorf("redirect URI not registered for client")
	}
	return validateRedirectURISecurity(redirectURI, s.Config.Issuer)
}

// validateRedirectURISecurity performs security validation on a redirect
// URI per OAuth 2.0 Security BCP. Exact-match registration happens before
// this; here the URI itself is vetted.
func validateRedirectURISecurity(redirectURI, serverIssuer string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("redirect_uri must be absolute")
	}

	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
		}
	}

	if scheme == "http" || scheme == "https" {
		hostname := strings.ToLower(parsed.Hostname())

		// Loopback redirect URIs are allowed over plain HTTP for native
		// app development (RFC 8252 Section 7.3).
		if util.IsLoopbackHostname(hostname) {
			return nil
		}

		if scheme != "https" {
			// A server issued over HTTPS must not send codes to plain
			// HTTP targets.
			if serverParsed, err := url.Parse(serverIssuer); err == nil && serverParsed.Scheme == "https" {
				return fmt.Errorf("redirect_uri must use HTTPS (got %s://)", scheme)
			}
		}
		return nil
	}

	// Custom scheme for native apps: scheme = ALPHA *( ALPHA / DIGIT /
	// "+" / "-" / "." ) per RFC 3986.
	for i, ch := range scheme {
		isAlpha := ch >= 'a' && ch <= 'z'
		isDigit := ch >= '0' && ch <= '9'
		if i == 0 && !isAlpha {
			return fmt.Errorf("redirect_uri scheme %q is not RFC 3986 compliant", scheme)
		}
		if !isAlpha && !isDigit && ch != '+' && ch != '-' && ch != '.' {
			return fmt.Errorf("redirect_uri scheme %q is not RFC 3986 compliant", scheme)
		}
	}
	return nil
}

// validateScopes checks requested scopes against the server's supported
// scope list. An empty SupportedScopes config allows everything.
func (s *Server) validateScopes(scope string) error {
	if len(s.Config.SupportedScopes) == 0 || scope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(scope) {
		found := false
		for _, supported := range s.Config.SupportedScopes {
			if reqScope == supported {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported scope: %s", reqScope)
		}
	}
	return nil
}

// validateClientScopes checks requested scopes against the client's
// registered scope list. Clients registered without scopes may request
// anything the server supports. The error is deliberately generic so
// callers cannot enumerate another client's allowed scopes.
func (s *Server) validateClientScopes(requestedScope string, clientScopes []string) error {
	if len(clientScopes) == 0 || requestedScope == "" {
		return nil
	}

	for _, reqScope := range strings.Fields(requestedScope) {
		found := false
		for _, allowed := range clientScopes {
			if reqScope == allowed {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("client is not authorized for one or more requested scopes")
		}
	}
	return nil
}

// validatePKCEParams validates the code_challenge parameters at
// authorization time.
func (s *Server) validatePKCEParams(codeChallenge, codeChallengeMethod string) error {
	if codeChallenge == "" {
		if s.Config.RequirePKCE {
			return fmt.Errorf("PKCE is required: code_challenge is mandatory")
		}
		return nil
	}

	switch codeChallengeMethod {
	case "":
		return fmt.Errorf("code_challenge_method is required when code_challenge is provided")
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'plain' code_challenge_method is not allowed (only S256 is supported)")
		}
		return nil
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", codeChallengeMethod)
	}
}

// validatePKCE validates the code verifier against the challenge per RFC
// 7636 at exchange time.
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}

	// RFC 7636: verifier alphabet is [A-Za-z0-9-._~].
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'plain' code_challenge_method is not allowed")
		}
		computedChallenge = verifier
		s.Logger.Warn("Using insecure 'plain' PKCE method",
			"recommendation", "upgrade client to use S256")
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
