package authsdk

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"golang.org/x/net/publicsuffix"
)

// DefaultRequestTimeout bounds every call made by a client built with
// NewSDKClient.
const DefaultRequestTimeout = 10 * time.Second

// SDKClient talks to the auth service and the app backend. It holds no
// session state of its own: the refresh credential lives in the HTTP
// client's cookie jar, the same way a browser keeps it.
type SDKClient struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// ClientOptions configures NewSDKClient. The zero value is usable.
type ClientOptions struct {
	// Timeout defaults to DefaultRequestTimeout. Negative disables it.
	Timeout time.Duration

	// Jar holds the session cookie. Defaults to an in-memory jar.
	Jar http.CookieJar

	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper

	// RateLimit throttles outbound requests when set.
	RateLimit *httpx.RateLimitConfig

	UserAgent string
	Logger    *slog.Logger
}

// NewSDKClient builds a client whose requests carry a request ID and the
// session cookie.
func NewSDKClient(opts ClientOptions) (*SDKClient, error) {
	jar := opts.Jar
	if jar == nil {
		var err error
		jar, err = NewCookieJar()
		if err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	switch {
	case timeout == 0:
		timeout = DefaultRequestTimeout
	case timeout < 0:
		timeout = 0
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "tenantauth-go"
	}

	return &SDKClient{
		HTTPClient: &http.Client{
			Transport: httpx.NewTransport(opts.Transport, opts.RateLimit, userAgent),
			Jar:       jar,
			Timeout:   timeout,
		},
		Logger: opts.Logger,
	}, nil
}

// NewCookieJar returns an in-memory jar that applies the public suffix list.
func NewCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("authsdk: create cookie jar: %w", err)
	}
	return jar, nil
}

func (c *SDKClient) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
