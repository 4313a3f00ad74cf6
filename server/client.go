package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusauth/oauth/security"
	"github.com/nimbusauth/oauth/storage"
)

// Client type constants
const (
	// ClientTypeConfidential represents a confidential OAuth client
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a public OAuth client
	ClientTypePublic = "public"
)

// ClientRegistration holds the parameters for registering a new client.
type ClientRegistration struct {
	ClientName   string
	ClientType   string // "confidential" (default) or "public"
	RedirectURIs []string
	GrantTypes   []string
	Scopes       []string
}

// RegisterClient registers a new OAuth client. For confidential clients a
// secret is generated and returned exactly once; only its bcrypt hash is
// stored. Returns the stored client and the plaintext secret (empty for
// public clients).
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration, clientIP string) (*storage.Client, string, error) {
	if len(reg.RedirectURIs) == 0 {
		return nil, "", fmt.Errorf("at least one redirect_uri is required")
	}

	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		s.Logger.Warn("Client registration rejected: IP limit reached", "client_ip", clientIP)
		if s.Auditor != nil {
			s.Auditor.LogRateLimitExceeded(clientIP, "")
		}
		return nil, "", err
	}

	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURISecurity(uri, s.Config.Issuer); err != nil {
			s.Logger.Warn("Client registration rejected: redirect URI validation failed",
				"error", err.Error(),
				"client_ip", clientIP)
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", "", clientIP, "invalid_redirect_uri")
			}
			return nil, "", fmt.Errorf("invalid_redirect_uri: %w", err)
		}
	}

	for _, scope := range reg.Scopes {
		if err := s.validateScopes(scope); err != nil {
			return nil, "", fmt.Errorf("invalid_scope: %w", err)
		}
	}

	clientType := reg.ClientType
	switch clientType {
	case "":
		clientType = ClientTypeConfidential
	case ClientTypeConfidential, ClientTypePublic:
	default:
		return nil, "", fmt.Errorf("invalid client type: %s", clientType)
	}

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}

	var clientSecret, clientSecretHash string
	if clientType == ClientTypeConfidential {
		clientSecret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
		}
		clientSecretHash = string(hash)
	}

	client := &storage.Client{
		ClientID:         uuid.NewString(),
		ClientSecretHash: clientSecretHash,
		ClientType:       clientType,
		ClientName:       reg.ClientName,
		RedirectURIs:     reg.RedirectURIs,
		GrantTypes:       grantTypes,
		Scopes:           reg.Scopes,
		CreatedAt:        time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	if err := s.clientStore.TrackClientIP(ctx, clientIP); err != nil {
		s.Logger.Warn("Failed to track client registration IP", "error", err)
	}

	s.Logger.Info("Client registered",
		"client_id", client.ClientID,
		"client_type", clientType,
		"redirect_uris", len(reg.RedirectURIs))

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, clientType)
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, clientType)
	}

	return client, clientSecret, nil
}

// AuthenticateClient authenticates a client by ID and secret. Public
// clients authenticate by ID alone with an empty secret. The returned
// error is generic so a caller cannot distinguish an unknown client from
// a bad secret.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	client, err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "client_authentication_failed")
		}
		if m := s.metrics(); m != nil {
			m.RecordAuditEvent(ctx, security.EventAuthFailure)
		}
		return nil, fmt.Errorf("invalid client credentials")
	}
	return client, nil
}
