package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusauth/oauth/storage"
)

// dummyBcryptHash is a valid bcrypt hash used to keep secret validation
// constant-time when the client does not exist or has no stored hash.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SaveClient persists a registered client. Returns ErrClientExists if a
// client with the same ID is already stored.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client and client ID are required")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)

	// SET NX makes registration first-writer-wins across server instances.
	err = s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Nx().Build()).Error()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
		}
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Client saved",
		"client_id", client.ClientID,
		"client_type", client.ClientType)

	return nil
}

// GetClient retrieves a client by ID. Returns ErrClientNotFound if the
// client does not exist.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, storage.ErrClientNotFound
	}

	return getAndUnmarshal[clientJSON, storage.Client](
		ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, fromClientJSON)
}

// ValidateClientSecret checks a client's credentials. A bcrypt comparison
// always runs, against a dummy hash when no real one applies, so timing
// does not reveal whether the client exists.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.GetClient(ctx, clientID)

	hash := dummyBcryptHash
	if err == nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(clientSecret))

	if err != nil {
		return nil, errInvalidCredentials
	}

	// Public clients authenticate by ID alone and carry no secret.
	if client.ClientType == "public" {
		if clientSecret != "" {
			return nil, errInvalidCredentials
		}
		return client, nil
	}

	if client.ClientSecretHash == "" || compareErr != nil {
		return nil, errInvalidCredentials
	}

	return client, nil
}

// ListClients returns all registered clients via SCAN over the client key
// space.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	var clients []*storage.Client
	seen := make(map[string]bool)
	var cursor uint64

	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan client keys: %w", err)
		}

		for _, key := range entry.Elements {
			// SCAN may return duplicates across iterations.
			if seen[key] {
				continue
			}
			seen[key] = true

			clientID := strings.TrimPrefix(key, s.clientKey(""))
			client, err := s.GetClient(ctx, clientID)
			if err != nil {
				// Key expired or was deleted between SCAN and GET.
				continue
			}
			clients = append(clients, client)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return clients, nil
}

// CheckIPLimit reports whether an IP may register another client. The count
// key carries a rolling TTL, so the limit is effectively per day.
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil
	}

	count, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIPKey(ip)).Build()).AsInt64()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return fmt.Errorf("failed to read client IP count: %w", err)
	}

	if count >= int64(maxClientsPerIP) {
		s.logger.Warn("Client registration limit reached",
			"ip", ip,
			"current_count", count,
			"max_allowed", maxClientsPerIP)
		return fmt.Errorf("%w: %s", storage.ErrClientLimitReached, ip)
	}
	return nil
}

// TrackClientIP atomically increments the registration count for an IP and
// refreshes its expiry.
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	key := s.clientIPKey(ip)

	if _, err := s.client.Do(ctx, s.client.B().Incr().Key(key).Build()).AsInt64(); err != nil {
		return fmt.Errorf("failed to track client IP: %w", err)
	}

	err := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(int64(clientIPTrackingTTL.Seconds())).Build()).Error()
	if err != nil {
		s.logger.Warn("Failed to set TTL on client IP tracking key", "ip", ip, "error", err)
	}
	return nil
}
