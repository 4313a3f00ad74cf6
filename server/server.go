package server

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/nimbusauth/oauth/instrumentation"
	"github.com/nimbusauth/oauth/internal/util"
	"github.com/nimbusauth/oauth/security"
	"github.com/nimbusauth/oauth/storage"
	"github.com/nimbusauth/oauth/token"
)

// tokenIDLogLength is the number of characters of a code or token id to
// include in log output.
const tokenIDLogLength = 8

// Server implements the authorization server logic: client registry,
// authorization code flow, token issuance with refresh rotation, and token
// validation. It is transport-agnostic; the HTTP handler in the root
// package sits on top of it.
type Server struct {
	clientStore  storage.ClientStore
	flowStore    storage.FlowStore
	refreshStore storage.RefreshTokenStore
	issuer       *token.Issuer
	validator    *token.Validator

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	UserRateLimiter          *security.RateLimiter // subject-based rate limiter
	SecurityEventRateLimiter *security.RateLimiter // caps security event log volume
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new authorization server.
func New(
	clientStore storage.ClientStore,
	flowStore storage.FlowStore,
	refreshStore storage.RefreshTokenStore,
	signingKey *token.SigningKey,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if refreshStore == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if signingKey == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if err := validateIssuer(config, logger); err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.IssuerConfig{
		Issuer:          config.Issuer,
		Key:             signingKey,
		AccessTokenTTL:  secondsToDuration(config.AccessTokenTTL),
		RefreshTokenTTL: secondsToDuration(config.RefreshTokenTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	validator, err := token.NewValidator(token.ValidatorConfig{
		Issuer: config.Issuer,
		Keys:   []*token.SigningKey{signingKey},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	return &Server{
		clientStore:  clientStore,
		flowStore:    flowStore,
		refreshStore: refreshStore,
		issuer:       issuer,
		validator:    validator,
		Config:       config,
		Logger:       logger,
	}, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter.
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetUserRateLimiter sets the subject-based rate limiter for
// authenticated requests.
func (s *Server) SetUserRateLimiter(rl *security.RateLimiter) {
	s.UserRateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event
// logging, which keeps repeated attack traffic from flooding the logs.
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets the metrics and tracing instrumentation.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Issuer returns the server's issuer identifier.
func (s *Server) Issuer() string {
	return s.Config.Issuer
}

// SigningKeyID returns the key id of the active signing key.
func (s *Server) SigningKeyID() string {
	return s.issuer.KID()
}

// metrics returns the metrics recorder, or nil when instrumentation is
// not configured.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func safeTruncate(v string, maxLen int) string {
	return util.SafeTruncate(v, maxLen)
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// generateRandomToken generates a cryptographically secure, URL-safe
// random string suitable for authorization codes and client identifiers.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
