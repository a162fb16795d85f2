package authsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Endpoints served by the app backend (API URL).
const (
	RefreshPath   = "/auth/refresh"
	LogoutPath    = "/auth/logout"
	SwitchOrgPath = "/auth/switch-org"
	ExchangePath  = "/api/auth/callback"
)

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

// Refresh exchanges the session cookie for a new access token.
func (c *SDKClient) Refresh(ctx context.Context, apiURL string) (*TokenResponse, error) {
	resp, err := doRequest(ctx, c.HTTPClient, http.MethodPost, apiURL+RefreshPath, nil, jsonHeaders)
	if err != nil {
		return nil, err
	}

	return decodeToken(resp, "")
}

// Logout asks the backend to invalidate the session cookie.
func (c *SDKClient) Logout(ctx context.Context, apiURL string) error {
	resp, err := doRequest(ctx, c.HTTPClient, http.MethodPost, apiURL+LogoutPath, nil, nil)
	if err != nil {
		return err
	}

	return checkStatus(resp, "")
}

// SwitchOrganization requests an access token scoped to orgID.
func (c *SDKClient) SwitchOrganization(ctx context.Context, apiURL, orgID string) (*TokenResponse, error) {
	resp, err := doRequest(
		ctx,
		c.HTTPClient,
		http.MethodPost,
		apiURL+SwitchOrgPath,
		SwitchOrgRequest{OrgID: orgID},
		jsonHeaders,
	)
	if err != nil {
		return nil, err
	}

	return decodeToken(resp, "")
}

// ExchangeCode trades an authorization code for a session cookie at
// baseURL+path. An empty path means ExchangePath.
func (c *SDKClient) ExchangeCode(ctx context.Context, baseURL, path, code string) error {
	if code == "" {
		return ErrMissingAuthorizationCode
	}
	if path == "" {
		path = ExchangePath
	}

	target := baseURL + path + "?" + url.Values{"code": {code}}.Encode()
	resp, err := doRequest(ctx, c.HTTPClient, http.MethodGet, target, nil, nil)
	if err != nil {
		return err
	}

	return checkStatus(resp, MessageAuthenticationFailed)
}

func decodeToken(resp *http.Response, fallback string) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, fallback); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("authsdk: response carries no access token")
	}
	return &tokenResp, nil
}
