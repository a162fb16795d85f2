package httpx

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/idx"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries the correlation ID on every outbound request.
const HeaderRequestID = "X-Request-ID"

// RateLimitConfig defines the client-side rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// ClientLimit is a sensible ceiling for a single SDK instance talking to the
// auth service. Focus-triggered revalidation and timer refreshes stay far
// below it; it only kicks in when a host loops.
var ClientLimit = RateLimitConfig{
	RequestsPerWindow: 60,
	Window:            time.Minute,
	Burst:             10,
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_CLIENT_REQUESTS, RATELIMIT_CLIENT_WINDOW_SEC, RATELIMIT_CLIENT_BURST
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// NewLimiter converts the config into a token bucket.
func (c RateLimitConfig) NewLimiter() *rate.Limiter {
	perSecond := float64(c.RequestsPerWindow) / c.Window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), c.Burst)
}

// Transport decorates outbound requests with a request ID and an optional
// client-side rate limit.
type Transport struct {
	Base      http.RoundTripper
	Limiter   *rate.Limiter // nil disables limiting
	UserAgent string
}

// NewTransport wraps base (http.DefaultTransport when nil). A nil limit
// disables rate limiting.
func NewTransport(base http.RoundTripper, limit *RateLimitConfig, userAgent string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &Transport{Base: base, UserAgent: userAgent}
	if limit != nil {
		t.Limiter = limit.NewLimiter()
	}
	return t
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpx: rate limit: %w", err)
		}
	}

	// RoundTrippers must not mutate the caller's request
	req = req.Clone(ctx)

	if req.Header.Get(HeaderRequestID) == "" {
		id, ok := idx.FromContext(ctx)
		if !ok {
			id = idx.New()
		}
		req.Header.Set(HeaderRequestID, id.String())
	}

	if t.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	return t.Base.RoundTrip(req)
}
