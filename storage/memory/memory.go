// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbusauth/oauth/instrumentation"
	"github.com/nimbusauth/oauth/internal/util"
	"github.com/nimbusauth/oauth/security"
	"github.com/nimbusauth/oauth/storage"
)

// tokenIDLogLength is the number of characters to include when logging code
// and token identifiers. Enough for correlation, never the whole credential.
const tokenIDLogLength = 8

// dummyBcryptHash is compared against when the client does not exist or has
// no secret, so authentication takes the same time either way.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store is an in-memory implementation of ClientStore, FlowStore, and
// RefreshTokenStore.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	clientsPerIP  map[string]int
	authCodes     map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshTokenRecord

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for the storage size gauges (lock-free reads during
	// metric collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64
	refreshCountAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.FlowStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. Non-positive intervals fall back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		refreshTokens:   make(map[string]*storage.RefreshTokenRecord),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation attaches OpenTelemetry instrumentation to the store
// and registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.refreshCountAtomic.Store(int64(len(s.refreshTokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.refreshCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop stops the background cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client. Clients are immutable once stored;
// saving an already-registered client ID fails with ErrClientExists.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		err = fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
		return err
	}

	s.clients[client.ClientID] = client
	s.clientsCountAtomic.Add(1)
	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison runs whether or not the client exists, so the timing
// of a failure does not reveal which check rejected the request.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyBcryptHash
	isPublicClient := false

	if err == nil {
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	// Public clients authenticate by ID alone; presenting a secret anyway
	// is a misconfigured caller and is rejected.
	if isPublicClient && err == nil {
		if clientSecret != "" {
			return nil, fmt.Errorf("invalid client credentials")
		}
		return client, nil
	}

	if err != nil || bcryptErr != nil {
		return nil, fmt.Errorf("invalid client credentials")
	}

	return client, nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// CheckIPLimit reports whether an IP may register another client.
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.clientsPerIP[ip] >= maxClientsPerIP {
		return fmt.Errorf("%w: %s", storage.ErrClientLimitReached, ip)
	}
	return nil
}

// TrackClientIP records a successful registration from the IP.
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientsPerIP[ip]++
	return nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authCodes[code.Code]
	s.authCodes[code.Code] = code
	if !existed {
		s.codesCountAtomic.Add(1)
	}
	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Consumed codes are still returned so reuse attempts stay observable; use
// ConsumeAuthorizationCode for the actual exchange.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if security.IsExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	// Return a copy so callers cannot mutate the stored record.
	codeCopy := *authCode
	return &codeCopy, nil
}

// ConsumeAuthorizationCode atomically validates and consumes a code.
//
// The whole check sequence runs under the write lock, so of any number of
// concurrent calls for the same code exactly one succeeds. The consumed
// record is returned alongside ErrAuthorizationCodeConsumed so the caller
// can revoke tokens already issued for it. A client ID or redirect URI
// mismatch leaves the code unconsumed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURI string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if security.IsExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
		return nil, err
	}

	if authCode.Consumed {
		// Reuse attempt. Return the record so the caller can revoke the
		// tokens issued when the code was first exchanged.
		codeCopy := *authCode
		err = storage.ErrAuthorizationCodeConsumed
		return &codeCopy, err
	}

	if authCode.ClientID != clientID || authCode.RedirectURI != redirectURI {
		// The presenter is not the client the code was issued to. The code
		// stays unconsumed; the legitimate client can still redeem it.
		err = storage.ErrAuthorizationCodeMismatch
		return nil, err
	}

	authCode.Consumed = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"client_id", clientID)

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.authCodes[code]; existed {
		delete(s.authCodes, code)
		s.codesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken stores the record for a newly issued refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, rec *storage.RefreshTokenRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if rec == nil || rec.JTI == "" {
		err = fmt.Errorf("invalid refresh token record")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.refreshTokens[rec.JTI]
	s.refreshTokens[rec.JTI] = rec
	if !existed {
		s.refreshCountAtomic.Add(1)
	}
	s.logger.Debug("Saved refresh token record",
		"jti_prefix", util.SafeTruncate(rec.JTI, tokenIDLogLength),
		"chain_id", rec.ChainID,
		"generation", rec.Generation)
	return nil
}

// GetRefreshToken retrieves a refresh token record by jti.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*storage.RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.refreshTokens[jti]
	if !ok {
		return nil, storage.ErrRefreshTokenNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// RetireRefreshToken atomically retrieves and removes a refresh token
// record for rotation. Only one concurrent caller for a given jti gets the
// record; the rest observe ErrRefreshTokenNotFound. Revoked records are
// kept in place so later presentations of the same token keep reporting
// ErrRefreshTokenRevoked.
func (s *Store) RetireRefreshToken(ctx context.Context, jti string) (*storage.RefreshTokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "retire_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "retire_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refreshTokens[jti]
	if !ok {
		err = storage.ErrRefreshTokenNotFound
		return nil, err
	}

	if rec.Revoked {
		recCopy := *rec
		err = storage.ErrRefreshTokenRevoked
		return &recCopy, err
	}

	if security.IsExpired(rec.ExpiresAt) {
		err = fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
		return nil, err
	}

	delete(s.refreshTokens, jti)
	s.refreshCountAtomic.Add(-1)
	s.logger.Debug("Retired refresh token record",
		"jti_prefix", util.SafeTruncate(jti, tokenIDLogLength),
		"chain_id", rec.ChainID)

	recCopy := *rec
	return &recCopy, nil
}

// RevokeRefreshToken marks a single refresh token record revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refreshTokens[jti]
	if !ok {
		err = storage.ErrRefreshTokenNotFound
		return err
	}

	if !rec.Revoked {
		rec.Revoked = true
		rec.RevokedAt = time.Now()
	}
	s.logger.Debug("Revoked refresh token record",
		"jti_prefix", util.SafeTruncate(jti, tokenIDLogLength))
	return nil
}

// RevokeChain revokes every record in a rotation chain. Returns the number
// of records newly revoked.
func (s *Store) RevokeChain(ctx context.Context, chainID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_chain")
	defer span.End()

	startTime := time.Now()

	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_chain", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, rec := range s.refreshTokens {
		if rec.ChainID == chainID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = now
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked refresh token chain",
			"chain_id", chainID,
			"revoked_count", revoked)
	}
	return revoked, nil
}

// RevokeAllForSubjectClient revokes all refresh token records for a subject
// and client pair. Returns the number of records newly revoked.
func (s *Store) RevokeAllForSubjectClient(ctx context.Context, subject, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_all_for_subject_client")
	defer span.End()

	startTime := time.Now()

	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_all_for_subject_client", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, rec := range s.refreshTokens {
		if rec.Subject == subject && rec.ClientID == clientID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = now
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all refresh tokens for subject and client",
			"client_id", clientID,
			"revoked_count", revoked)
	}
	return revoked, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for code, authCode := range s.authCodes {
		if security.IsExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Revoked records are kept until expiry so reuse of a revoked token
	// stays distinguishable from an unknown token. Past expiry the signed
	// token is rejected by the validator anyway.
	for jti, rec := range s.refreshTokens {
		if security.IsExpired(rec.ExpiresAt) {
			delete(s.refreshTokens, jti)
			s.refreshCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a tracing span for a storage operation (no-op if
// instrumentation is not configured).
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets
// span status.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
