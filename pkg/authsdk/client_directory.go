package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// DiscoverConfig fetches the app and API URLs registered for clientID.
func (c *SDKClient) DiscoverConfig(ctx context.Context, authURL, clientID string) (*ClientAppConfig, error) {
	target := authURL + "/api/client-apps/" + url.PathEscape(clientID) + "/config"
	resp, err := doRequest(ctx, c.HTTPClient, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}

	var cfg ClientAppConfig
	if err := decodeJSON(resp, &cfg, ""); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ListOrganizations returns the organizations the token's user belongs to.
func (c *SDKClient) ListOrganizations(ctx context.Context, authURL, accessToken string) ([]Organization, error) {
	resp, err := doRequest(
		ctx,
		c.HTTPClient,
		http.MethodGet,
		authURL+"/api/organizations",
		nil,
		map[string]string{"Authorization": "Bearer " + accessToken},
	)
	if err != nil {
		return nil, err
	}

	var orgsResp OrganizationsResponse
	if err := decodeJSON(resp, &orgsResp, ""); err != nil {
		return nil, err
	}

	if orgsResp.Organizations == nil {
		return []Organization{}, nil
	}
	return orgsResp.Organizations, nil
}

// ListProviders returns the sign-in providers enabled for clientID. No
// bearer token is sent.
func (c *SDKClient) ListProviders(ctx context.Context, authURL, clientID string) (*ProvidersResponse, error) {
	target := authURL + "/providers?" + url.Values{"client_id": {clientID}}.Encode()
	resp, err := doRequest(ctx, c.HTTPClient, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}

	var providersResp ProvidersResponse
	if err := decodeJSON(resp, &providersResp, MessageProvidersFetchFailed); err != nil {
		return nil, err
	}

	if providersResp.Providers == nil {
		providersResp.Providers = []ProviderInfo{}
	}
	return &providersResp, nil
}
