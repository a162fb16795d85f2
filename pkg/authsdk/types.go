package authsdk

// ============================================================================
// Auth service wire types
// ============================================================================

// TokenResponse is returned by refresh, switch-org and the code exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// SwitchOrgRequest is the body of POST /auth/switch-org.
type SwitchOrgRequest struct {
	OrgID string `json:"org_id"`
}

// ErrorResponse is the optional body of failed responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClientAppConfig is returned by GET /api/client-apps/{clientId}/config.
type ClientAppConfig struct {
	AppURL string `json:"appUrl"`
	APIURL string `json:"apiUrl"`
}

// Organization is a tenant the user belongs to.
type Organization struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ImageURL string `json:"imageUrl,omitempty"`
	Role     string `json:"role,omitempty"`
}

// OrganizationsResponse is returned by GET /api/organizations.
type OrganizationsResponse struct {
	Organizations []Organization `json:"organizations"`
}

// ProviderInfo describes one sign-in provider enabled for a client.
type ProviderInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ProvidersResponse is returned by GET /providers.
type ProvidersResponse struct {
	Providers    []ProviderInfo `json:"providers"`
	EmailEnabled bool           `json:"emailEnabled"`
}

// ConnectionStatus reports whether the active organization has linked a
// third-party provider.
type ConnectionStatus struct {
	Provider    string `json:"provider"`
	Connected   bool   `json:"connected"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ConnectionsResponse is returned by the app backend's connection status
// endpoint.
type ConnectionsResponse struct {
	Connections []ConnectionStatus `json:"connections"`
}

// ============================================================================
// Session view types
// ============================================================================

// User is the signed-in identity derived from access-token claims.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "admin" or "member"
	ImageURL string `json:"imageUrl,omitempty"`
}
