package oauth

// TokenResponse is the token endpoint's success body (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// AuthorizationCodeResponse is returned by the authorization endpoint after
// the fronting login layer has authenticated the resource owner. ExpiresIn
// is the code's remaining lifetime in seconds.
type AuthorizationCodeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in"`
}

// ErrorResponse is the error body shared by every endpoint (RFC 6749
// Section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthorizationServerMetadata is the discovery document served at
// /.well-known/oauth-authorization-server (RFC 8414).
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ClientRegistrationRequest is a dynamic client registration request
// (RFC 7591). ClientType selects "confidential" (default) or "public";
// Scope is a space-separated list.
type ClientRegistrationRequest struct {
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	ClientName   string   `json:"client_name,omitempty"`
	ClientType   string   `json:"client_type,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	Scope        string   `json:"scope,omitempty"`
}

// ClientRegistrationResponse echoes the registered client. ClientSecret is
// present only for confidential clients and only in this response; the
// server stores a bcrypt hash and cannot reproduce it.
type ClientRegistrationResponse struct {
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs          []string `json:"redirect_uris,omitempty"`
	ClientName            string   `json:"client_name,omitempty"`
	ClientType            string   `json:"client_type,omitempty"`
	GrantTypes            []string `json:"grant_types,omitempty"`
	Scope                 string   `json:"scope,omitempty"`
}

// IntrospectionResponse is the introspection endpoint's body (RFC 7662).
// Everything except Active is omitted for inactive tokens.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}
