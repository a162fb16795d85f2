package app

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
)

// DefaultCallbackPort is where the loopback server waits for the OAuth
// redirect. It must match a redirect URI registered for the client.
const DefaultCallbackPort = 8765

type Config struct {
	ClientID string // Required: client registered with the auth service
	AuthURL  string // Optional: auth service origin (default: authsdk.DefaultAuthURL)
	AppURL   string // Optional: redirect base (default: the loopback origin)
	APIURL   string // Optional: refresh/logout/switch-org base (default: the auth URL)
	Discover bool   // Resolve unset app and API URLs from the auth service instead

	CallbackPort   int           // Loopback callback port (default: 8765)
	LoginTimeout   time.Duration // How long login waits for the browser (default: 5m)
	RequestTimeout time.Duration // Per-request timeout for auth service calls (default: 10s)
	RateLimit      *httpx.RateLimitConfig

	StoreFile     string // SQLite cookie store (default: ~/.config/authctl/authctl.db)
	MasterKeyPath string // Key sealing stored cookies (default: next to the store)

	Env       string // Environment (dev, staging, prod) (default: prod)
	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (json, text) (default: text)

	// Transport and Navigator are not read from the environment; embedders
	// and tests set them directly.
	Transport http.RoundTripper
	Navigator authsdk.Navigator
}

func LoadConfig() Config {
	dir := defaultConfigDir()

	cfg := Config{
		ClientID:       os.Getenv("AUTHCTL_CLIENT_ID"),
		AuthURL:        getEnvOrDefault("AUTHCTL_AUTH_URL", authsdk.DefaultAuthURL),
		AppURL:         os.Getenv("AUTHCTL_APP_URL"),
		APIURL:         os.Getenv("AUTHCTL_API_URL"),
		Discover:       getEnvBoolOrDefault("AUTHCTL_DISCOVER", false),
		CallbackPort:   getEnvIntOrDefault("AUTHCTL_CALLBACK_PORT", DefaultCallbackPort),
		LoginTimeout:   getEnvDurationOrDefault("AUTHCTL_LOGIN_TIMEOUT", 5*time.Minute),
		RequestTimeout: getEnvDurationOrDefault("AUTHCTL_REQUEST_TIMEOUT", authsdk.DefaultRequestTimeout),
		StoreFile:      getEnvOrDefault("AUTHCTL_STORE_FILE", filepath.Join(dir, "authctl.db")),
		MasterKeyPath:  getEnvOrDefault("AUTHCTL_MASTER_KEY_PATH", filepath.Join(dir, "master.key")),
		Env:            getEnvOrDefault("ENV", "prod"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Rate limiting is opt-in; AUTHCTL_RATE_LIMIT=1 enables the default
	// ceiling and RATELIMIT_CLIENT_* tune it.
	if getEnvBoolOrDefault("AUTHCTL_RATE_LIMIT", false) {
		limit := httpx.ParseRateLimitFromEnv("CLIENT", httpx.ClientLimit)
		cfg.RateLimit = &limit
	}

	return cfg
}

// LoopbackOrigin is the origin of the callback server.
func (c Config) LoopbackOrigin() string {
	return "http://127.0.0.1:" + strconv.Itoa(c.CallbackPort)
}

// SDKConfig maps the host configuration onto the SDK's. Unless Discover is
// set, the redirect goes to the loopback server and session calls go
// straight to the auth service.
func (c Config) SDKConfig() authsdk.Config {
	cfg := authsdk.Config{
		ClientID: c.ClientID,
		AuthURL:  c.AuthURL,
		AppURL:   c.AppURL,
		APIURL:   c.APIURL,
	}
	if c.Discover {
		return cfg
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = authsdk.DefaultAuthURL
	}
	if cfg.AppURL == "" {
		cfg.AppURL = c.LoopbackOrigin()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.AuthURL
	}
	return cfg
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "authctl")
	}
	return ".authctl"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
