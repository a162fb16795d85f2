package app

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"AUTHCTL_CLIENT_ID", "AUTHCTL_AUTH_URL", "AUTHCTL_APP_URL", "AUTHCTL_API_URL",
		"AUTHCTL_DISCOVER", "AUTHCTL_CALLBACK_PORT", "AUTHCTL_REQUEST_TIMEOUT", "AUTHCTL_RATE_LIMIT",
		"AUTHCTL_STORE_FILE", "AUTHCTL_MASTER_KEY_PATH", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	require.Empty(t, cfg.ClientID)
	require.Equal(t, authsdk.DefaultAuthURL, cfg.AuthURL)
	require.Equal(t, DefaultCallbackPort, cfg.CallbackPort)
	require.Equal(t, authsdk.DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, 5*time.Minute, cfg.LoginTimeout)
	require.Nil(t, cfg.RateLimit)
	require.False(t, cfg.Discover)
	require.Equal(t, "warn", cfg.LogLevel)
	require.NotEmpty(t, cfg.StoreFile)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHCTL_CLIENT_ID", "c1")
	t.Setenv("AUTHCTL_AUTH_URL", "https://auth.x")
	t.Setenv("AUTHCTL_CALLBACK_PORT", "9000")
	t.Setenv("AUTHCTL_REQUEST_TIMEOUT", "30")
	t.Setenv("AUTHCTL_LOGIN_TIMEOUT", "2m")
	t.Setenv("AUTHCTL_DISCOVER", "true")
	t.Setenv("AUTHCTL_STORE_FILE", "/tmp/authctl-test.db")
	t.Setenv("AUTHCTL_RATE_LIMIT", "1")
	t.Setenv("RATELIMIT_CLIENT_BURST", "3")

	cfg := LoadConfig()
	require.Equal(t, "c1", cfg.ClientID)
	require.Equal(t, "https://auth.x", cfg.AuthURL)
	require.Equal(t, 9000, cfg.CallbackPort)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, 2*time.Minute, cfg.LoginTimeout)
	require.True(t, cfg.Discover)
	require.Equal(t, "/tmp/authctl-test.db", cfg.StoreFile)

	require.NotNil(t, cfg.RateLimit)
	require.Equal(t, 3, cfg.RateLimit.Burst)
	require.Equal(t, httpx.ClientLimit.RequestsPerWindow, cfg.RateLimit.RequestsPerWindow)
}

func TestLoadConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("AUTHCTL_CALLBACK_PORT", "eighty")
	t.Setenv("AUTHCTL_REQUEST_TIMEOUT", "soon")
	t.Setenv("AUTHCTL_RATE_LIMIT", "maybe")

	cfg := LoadConfig()
	require.Equal(t, DefaultCallbackPort, cfg.CallbackPort)
	require.Equal(t, authsdk.DefaultRequestTimeout, cfg.RequestTimeout)
	require.Nil(t, cfg.RateLimit)
}

func TestSDKConfig(t *testing.T) {
	t.Parallel()

	t.Run("loopback defaults", func(t *testing.T) {
		t.Parallel()

		cfg := Config{ClientID: "c1", AuthURL: "https://auth.x", CallbackPort: 8765}
		require.Equal(t, authsdk.Config{
			ClientID: "c1",
			AuthURL:  "https://auth.x",
			AppURL:   "http://127.0.0.1:8765",
			APIURL:   "https://auth.x",
		}, cfg.SDKConfig())
	})

	t.Run("explicit urls win", func(t *testing.T) {
		t.Parallel()

		cfg := Config{ClientID: "c1", AppURL: "https://app.x", APIURL: "https://api.x", CallbackPort: 8765}
		require.Equal(t, authsdk.Config{
			ClientID: "c1",
			AuthURL:  authsdk.DefaultAuthURL,
			AppURL:   "https://app.x",
			APIURL:   "https://api.x",
		}, cfg.SDKConfig())
	})

	t.Run("discovery leaves urls unset", func(t *testing.T) {
		t.Parallel()

		cfg := Config{ClientID: "c1", AuthURL: "https://auth.x", Discover: true, CallbackPort: 8765}
		require.Equal(t, authsdk.Config{ClientID: "c1", AuthURL: "https://auth.x"}, cfg.SDKConfig())
	})
}
