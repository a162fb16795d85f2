package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	// DefaultConnectionsEndpoint is the app backend path listing connections.
	DefaultConnectionsEndpoint = "/api/connections/status"

	// DefaultConnectRedirectPath is where the auth service returns after a
	// provider has been connected.
	DefaultConnectRedirectPath = "/settings?tab=connections"
)

// ListConnections fetches the provider connections of the active
// organization from the app backend. An empty endpoint means
// DefaultConnectionsEndpoint.
func (s *Session) ListConnections(ctx context.Context, endpoint string) ([]ConnectionStatus, error) {
	r, ok := s.Config()
	if !ok {
		return nil, ErrConfigNotResolved
	}
	if endpoint == "" {
		endpoint = DefaultConnectionsEndpoint
	}

	token, err := s.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := doRequest(ctx, s.AuthenticatedClient(ctx), http.MethodGet, r.APIURL+endpoint, nil, nil)
	if err != nil {
		return nil, err
	}

	var connResp ConnectionsResponse
	fallback := fmt.Sprintf("%s: %d", messageConnectionsFetchFailed, resp.StatusCode)
	if err := decodeJSON(resp, &connResp, fallback); err != nil {
		return nil, err
	}

	if connResp.Connections == nil {
		return []ConnectionStatus{}, nil
	}
	return connResp.Connections, nil
}

// ConnectProviderURL builds the auth service URL that links provider to the
// active organization. The access token travels in the query because the
// browser navigates there directly.
func (s *Session) ConnectProviderURL(ctx context.Context, provider, redirectPath string) (string, error) {
	r, ok := s.Config()
	if !ok {
		return "", ErrConfigNotResolved
	}

	token, err := s.GetAccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}

	org := s.State().Organization
	if org == nil {
		return "", ErrNoOrganization
	}

	if redirectPath == "" {
		redirectPath = DefaultConnectRedirectPath
	}

	params := url.Values{
		"org_id":       {org.ID},
		"redirect_uri": {r.AppURL + redirectPath},
		"client_id":    {r.ClientID},
		"token":        {token},
	}

	return r.AuthURL + "/api/connections/" + url.PathEscape(provider) + "/authorize?" + params.Encode(), nil
}

// ConnectProvider navigates to ConnectProviderURL.
func (s *Session) ConnectProvider(ctx context.Context, provider, redirectPath string) error {
	target, err := s.ConnectProviderURL(ctx, provider, redirectPath)
	if err != nil {
		return err
	}
	return s.nav.Navigate(ctx, target)
}
