package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultAuthURL is used when Config.AuthURL is empty.
	DefaultAuthURL = "https://auth.tony.codes"

	// CallbackPath is appended to the app URL to form the OAuth redirect URI.
	CallbackPath = "/auth/callback"
)

// Config is the caller-supplied configuration. Only ClientID is required.
type Config struct {
	// ClientID is the client registered with the auth service.
	ClientID string

	// AuthURL is the auth service origin. Defaults to DefaultAuthURL.
	AuthURL string

	// AppURL is this application's base URL, used for the redirect URI.
	// When empty it is discovered from the auth service.
	AppURL string

	// APIURL is the base URL of the backend that proxies refresh, logout,
	// switch-org and the code exchange. Defaults to AppURL.
	APIURL string
}

// Validate reports configuration the SDK can never work with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("client ID is required"))
	}

	for _, f := range []struct{ name, value string }{
		{"auth URL", c.AuthURL},
		{"app URL", c.AppURL},
		{"API URL", c.APIURL},
	} {
		if f.value == "" {
			continue
		}
		if err := validateBaseURL(f.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("must not carry a query or fragment")
	}
	return nil
}

// ResolvedConfig has every URL filled in. It is immutable once produced.
type ResolvedConfig struct {
	ClientID string
	AuthURL  string
	AppURL   string
	APIURL   string
}

// RedirectURI is where the auth service sends the browser after sign-in.
func (r ResolvedConfig) RedirectURI() string {
	return r.AppURL + CallbackPath
}

func (c Config) authURL() string {
	if c.AuthURL == "" {
		return DefaultAuthURL
	}
	return trimBase(c.AuthURL)
}

// resolveLocal resolves without the network when AppURL is known.
func (c Config) resolveLocal() (ResolvedConfig, bool) {
	if c.AppURL == "" {
		return ResolvedConfig{}, false
	}

	appURL := trimBase(c.AppURL)
	apiURL := trimBase(c.APIURL)
	if apiURL == "" {
		apiURL = appURL
	}

	return ResolvedConfig{
		ClientID: c.ClientID,
		AuthURL:  c.authURL(),
		AppURL:   appURL,
		APIURL:   apiURL,
	}, true
}

// ResolveConfig fills in the missing URLs of cfg. When AppURL is empty it
// makes a single discovery request; any failure there is logged and
// ignored. The app URL then falls back to origin, and finally to the auth
// URL itself. ResolveConfig never fails.
func (c *SDKClient) ResolveConfig(ctx context.Context, cfg Config, origin string) ResolvedConfig {
	if r, ok := cfg.resolveLocal(); ok {
		return r
	}

	authURL := cfg.authURL()
	apiURL := trimBase(cfg.APIURL)
	var appURL string

	discovered, err := c.DiscoverConfig(ctx, authURL, cfg.ClientID)
	if err != nil {
		c.logger().DebugContext(ctx, "config discovery failed, using fallback",
			"auth_url", authURL,
			"err", err,
		)
	} else {
		appURL = trimBase(discovered.AppURL)
		if apiURL == "" {
			apiURL = trimBase(discovered.APIURL)
		}
	}

	if appURL == "" {
		appURL = trimBase(origin)
	}
	if appURL == "" {
		appURL = authURL
	}
	if apiURL == "" {
		apiURL = appURL
	}

	return ResolvedConfig{
		ClientID: cfg.ClientID,
		AuthURL:  authURL,
		AppURL:   appURL,
		APIURL:   apiURL,
	}
}

func trimBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
