package models

// TokenResponse is the token endpoint response body
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"` // Same value as AccessToken
}

// ErrorResponse is the JSON error body returned by the API endpoints
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// MessageResponse is a bare status body
type MessageResponse struct {
	Message string `json:"message"`
}

// DiscoveryDocument represents the OpenID Connect discovery document
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// AuthorizationRequest is a validated authorize request, held in the browser
// session until the flow completes
type AuthorizationRequest struct {
	ServiceID        string `json:"serviceId"`
	ClientID         string `json:"clientId"`
	RedirectURI      string `json:"redirectUri"`
	Scope            string `json:"scope"`
	State            string `json:"state,omitempty"`
	Nonce            string `json:"nonce,omitempty"`
	ResponseMode     string `json:"responseMode,omitempty"`
	ResponseType     string `json:"responseType,omitempty"`
	RelationshipID   string `json:"relationshipId,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	ForceReselection bool   `json:"forceReselection,omitempty"`
	P                string `json:"p,omitempty"`
}
