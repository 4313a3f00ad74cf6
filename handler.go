package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimbusauth/oauth/instrumentation"
	"github.com/nimbusauth/oauth/internal/util"
	"github.com/nimbusauth/oauth/security"
	"github.com/nimbusauth/oauth/server"
	"github.com/nimbusauth/oauth/storage"
	"github.com/nimbusauth/oauth/token"
)

const tokenTypeBearer = "Bearer"

// Endpoint paths served by the handler.
const (
	PathAuthorize      = "/authorize"
	PathToken          = "/token"
	PathRevoke         = "/revoke"
	PathIntrospect     = "/introspect"
	PathRegister       = "/register"
	PathServerMetadata = "/.well-known/oauth-authorization-server"
	PathJWKS           = "/.well-known/jwks.json"
)

// Handler exposes the authorization server over HTTP.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
	jwks   token.JWKSet
}

// NewHandler creates a new HTTP handler. The signing keys are published at
// the JWKS endpoint so resource servers can validate tokens offline.
func NewHandler(srv *server.Server, keys []*token.SigningKey, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
		jwks:   token.NewJWKSet(keys...),
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers all endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(PathAuthorize, h.ServeAuthorize)
	mux.HandleFunc(PathToken, h.ServeToken)
	mux.HandleFunc(PathRevoke, h.ServeRevoke)
	mux.HandleFunc(PathIntrospect, h.ServeIntrospect)
	mux.HandleFunc(PathRegister, h.ServeRegister)
	mux.HandleFunc(PathServerMetadata, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(PathJWKS, h.ServeJWKS)
}

// ============================================================
// Authorization Endpoint
// ============================================================

// ServeAuthorize issues an authorization code. The fronting login layer
// authenticates the resource owner and supplies the subject; this endpoint
// validates the request and binds the code to client, redirect URI, scope,
// and PKCE challenge.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, clientIP, "authorize") {
		h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := server.AuthorizationRequest{
		ClientID:            r.FormValue("client_id"),
		Subject:             r.FormValue("subject"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}
	if req.ClientID == "" {
		h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID))

	authCode, err := h.server.IssueAuthorizationCode(ctx, req)
	if err != nil {
		oauthErr := mapFlowError(err)
		h.recordHTTPMetrics("authorize", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, AuthorizationCodeResponse{
		Code:      authCode.Code,
		ExpiresIn: h.server.Config.AuthorizationCodeTTL,
	})
}

// ============================================================
// Token Endpoint
// ============================================================

// ServeToken handles the token endpoint for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	switch grantType := r.FormValue("grant_type"); grantType {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, clientIP, "token") {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, fmt.Errorf("code missing"))
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)

	grant, err := h.server.ExchangeAuthorizationCode(ctx, client, code, redirectURI, codeVerifier)
	if err != nil {
		oauthErr := mapFlowError(err)
		h.logger.Warn("Token exchange failed", "client_id", client.ClientID, "ip", clientIP)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ClientID, "ip", clientIP)
	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, grant)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, clientIP, "token") {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusUnauthorized, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID))

	grant, err := h.server.RefreshAccessToken(ctx, client, refreshToken)
	if err != nil {
		oauthErr := mapFlowError(err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, grant)
}

// ============================================================
// Revocation Endpoint (RFC 7009)
// ============================================================

// ServeRevoke revokes a refresh token and its rotation chain. Per RFC 7009
// the endpoint reports success even for unknown tokens.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	tokenString := r.FormValue("token")
	if tokenString == "" {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusUnauthorized, startTime)
		h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
		return
	}

	if err := h.server.RevokeToken(ctx, client, tokenString, clientIP); err != nil {
		h.logger.Error("Token revocation failed", "client_id", client.ClientID, "error", err)
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "Revocation failed", http.StatusInternalServerError)
		return
	}

	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ============================================================
// Introspection Endpoint (RFC 7662)
// ============================================================

// ServeIntrospect reports whether an access token is active and, if so,
// its claims. Requires client authentication so token contents are not
// leaked to unauthenticated callers.
func (h *Handler) ServeIntrospect(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	if _, err := h.authenticateClient(ctx, r, clientIP); err != nil {
		h.recordHTTPMetrics("introspect", http.MethodPost, http.StatusUnauthorized, startTime)
		h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
		return
	}

	claims, err := h.server.ValidateAccessToken(ctx, r.FormValue("token"))
	if err != nil {
		// RFC 7662: an invalid token is not an error, it's inactive.
		h.recordHTTPMetrics("introspect", http.MethodPost, http.StatusOK, startTime)
		h.writeJSON(w, http.StatusOK, IntrospectionResponse{Active: false})
		return
	}

	h.recordHTTPMetrics("introspect", http.MethodPost, http.StatusOK, startTime)
	h.writeJSON(w, http.StatusOK, IntrospectionResponse{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		TokenType: tokenTypeBearer,
		ExpiresAt: claims.ExpiresAt.Unix(),
		IssuedAt:  claims.IssuedAt.Unix(),
		Issuer:    claims.Issuer,
		JTI:       claims.ID,
	})
}

// ============================================================
// Client Registration Endpoint (RFC 7591)
// ============================================================

// ServeRegister handles dynamic client registration.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, clientIP, "register") {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse registration request", http.StatusBadRequest)
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, server.ClientRegistration{
		ClientName:   req.ClientName,
		ClientType:   req.ClientType,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       strings.Fields(req.Scope),
	}, clientIP)
	if err != nil {
		if errors.Is(err, storage.ErrClientLimitReached) {
			h.recordHTTPMetrics("register", http.MethodPost, http.StatusTooManyRequests, startTime)
			h.writeError(w, ErrorCodeRateLimitExceeded, "Too many client registrations from this address", http.StatusTooManyRequests)
			return
		}
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	h.recordHTTPMetrics("register", http.MethodPost, http.StatusCreated, startTime)
	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:         client.ClientID,
		ClientSecret:     secret,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
		RedirectURIs:     client.RedirectURIs,
		ClientName:       client.ClientName,
		ClientType:       client.ClientType,
		GrantTypes:       client.GrantTypes,
		Scope:            strings.Join(client.Scopes, " "),
	})
}

// ============================================================
// Discovery Endpoints
// ============================================================

// ServeAuthorizationServerMetadata serves RFC 8414 authorization server
// metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := util.NormalizeURL(h.server.Config.Issuer)

	h.writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + PathAuthorize,
		TokenEndpoint:                     issuer + PathToken,
		RegistrationEndpoint:              issuer + PathRegister,
		RevocationEndpoint:                issuer + PathRevoke,
		IntrospectionEndpoint:             issuer + PathIntrospect,
		JWKSURI:                           issuer + PathJWKS,
		ScopesSupported:                   h.server.Config.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     h.supportedPKCEMethods(),
	})
}

// ServeJWKS serves the public signing keys as a JSON Web Key Set.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// Key material is public and rotates rarely; let clients cache it.
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.jwks)
}

func (h *Handler) supportedPKCEMethods() []string {
	if h.server.Config.AllowPKCEPlain {
		return []string{server.PKCEMethodS256, server.PKCEMethodPlain}
	}
	return []string{server.PKCEMethodS256}
}

// ============================================================
// Bearer Token Middleware
// ============================================================

type contextKey string

// claimsContextKey carries validated access token claims in the request
// context.
const claimsContextKey contextKey = "oauth_claims"

// ClaimsFromContext returns the validated access token claims set by
// RequireScope, or nil if the request did not pass through it.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*token.Claims)
	return claims
}

// RequireScope returns middleware that validates the Bearer token and
// requires every listed scope. A missing or invalid token yields 401; a
// valid token without the scopes yields 403. Validated claims are placed
// in the request context.
func (h *Handler) RequireScope(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			tokenString, ok := extractBearerToken(r)
			if !ok {
				h.writeUnauthorized(w, requiredScopes, "Missing or malformed Authorization header")
				return
			}

			claims, err := h.server.ValidateAccessToken(ctx, tokenString)
			if err != nil {
				h.writeUnauthorized(w, requiredScopes, "The access token is invalid or expired")
				return
			}

			if h.server.UserRateLimiter != nil && !h.server.UserRateLimiter.Allow(claims.Subject) {
				h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			granted := strings.Fields(claims.Scope)
			for _, required := range requiredScopes {
				if !containsScope(granted, required) {
					h.writeForbidden(w, requiredScopes, "The access token does not grant the required scope")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, claimsContextKey, claims)))
		})
	}
}

func containsScope(granted []string, required string) bool {
	for _, s := range granted {
		if s == required {
			return true
		}
	}
	return false
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// ============================================================
// Helpers
// ============================================================

// authenticateClient authenticates the requesting client from HTTP Basic
// credentials or from client_id/client_secret form parameters.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*storage.Client, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	return h.server.AuthenticateClient(ctx, clientID, clientSecret, clientIP)
}

// checkIPRateLimit returns true when the request was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
	}
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, grant *server.TokenGrant) {
	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeUnauthorized writes a 401 with a WWW-Authenticate challenge naming
// the scopes the resource requires (RFC 6750 Section 3).
func (h *Handler) writeUnauthorized(w http.ResponseWriter, requiredScopes []string, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(requiredScopes, ErrorCodeInvalidToken, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeInvalidToken,
		ErrorDescription: description,
	})
}

// writeForbidden writes a 403 insufficient_scope response per RFC 6750
// Section 3.1.
func (h *Handler) writeForbidden(w http.ResponseWriter, requiredScopes []string, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(requiredScopes, ErrorCodeInsufficientScope, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeInsufficientScope,
		ErrorDescription: description,
	})
}

func formatWWWAuthenticate(scopes []string, errorCode, description string) string {
	params := []string{
		fmt.Sprintf("error=%q", errorCode),
		fmt.Sprintf("error_description=%q", description),
	}
	if len(scopes) > 0 {
		params = append([]string{fmt.Sprintf("scope=%q", strings.Join(scopes, " "))}, params...)
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}
