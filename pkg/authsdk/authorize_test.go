package authsdk_test

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

var resolved = authsdk.ResolvedConfig{
	ClientID: "c1",
	AuthURL:  "https://auth.x",
	AppURL:   "https://app.x",
	APIURL:   "https://app.x",
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		raw, err := resolved.AuthorizeURL(authsdk.LoginOptions{})
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(raw, "https://auth.x/authorize?"))

		u := mustParseURL(t, raw)
		q := u.Query()
		require.Equal(t, "c1", q.Get("client_id"))
		require.Equal(t, "https://app.x/auth/callback", q.Get("redirect_uri"))
		require.Equal(t, "/", authsdk.DecodeState(q.Get("state")))
		require.False(t, q.Has("provider"))
		require.False(t, q.Has("mode"))
	})

	t.Run("provider and mode", func(t *testing.T) {
		t.Parallel()

		raw, err := resolved.AuthorizeURL(authsdk.LoginOptions{
			Provider: "google",
			Mode:     authsdk.ModeSignUp,
			ReturnTo: "/projects/42?view=board",
		})
		require.NoError(t, err)

		q := mustParseURL(t, raw).Query()
		require.Equal(t, "google", q.Get("provider"))
		require.Equal(t, "signup", q.Get("mode"))
		require.Equal(t, "/projects/42?view=board", authsdk.DecodeState(q.Get("state")))
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Parallel()

		_, err := resolved.AuthorizeURL(authsdk.LoginOptions{Mode: "register"})
		require.Error(t, err)
	})
}

func TestState(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		for _, path := range []string{"/", "/billing", "/a?b=c&d=e", "/ünïcode/~>>?"} {
			require.Equal(t, path, authsdk.DecodeState(authsdk.EncodeState(path)))
		}
	})

	t.Run("wire format", func(t *testing.T) {
		t.Parallel()

		state := authsdk.EncodeState("/billing")
		raw, err := base64.StdEncoding.DecodeString(state)
		require.NoError(t, err)
		require.JSONEq(t, `{"returnTo":"/billing"}`, string(raw))
	})

	t.Run("plus signs decoded as spaces", func(t *testing.T) {
		t.Parallel()

		state := authsdk.EncodeState("/~~~?")
		require.Contains(t, state, "+")

		q, err := url.ParseQuery("state=" + state)
		require.NoError(t, err)
		require.Equal(t, "/~~~?", authsdk.DecodeState(q.Get("state")))
	})

	t.Run("url-safe alphabet", func(t *testing.T) {
		t.Parallel()

		state := base64.RawURLEncoding.EncodeToString([]byte(`{"returnTo":"/settings"}`))
		require.Equal(t, "/settings", authsdk.DecodeState(state))
	})

	invalid := map[string]string{
		"empty":          "",
		"not base64":     "%%%",
		"not json":       base64.StdEncoding.EncodeToString([]byte("hello")),
		"missing field":  base64.StdEncoding.EncodeToString([]byte(`{"other":"x"}`)),
		"empty returnTo": base64.StdEncoding.EncodeToString([]byte(`{"returnTo":""}`)),
		"wrong type":     base64.StdEncoding.EncodeToString([]byte(`{"returnTo":7}`)),
	}
	for name, state := range invalid {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, "/", authsdk.DecodeState(state))
		})
	}
}

func TestLoginErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"account_not_found": "No account found with that login. Sign up to create one.",
		"oauth_failed":      "Something went wrong during sign in. Please try again.",
		"missing_code":      "Authorization failed. Please try again.",
		"invalid_state":     "Session expired. Please try again.",
		"rate_limited":      "Authentication error: rate_limited",
	}
	for code, want := range cases {
		require.Equal(t, want, authsdk.LoginErrorMessage(code), code)
	}

	require.True(t, authsdk.SuggestsSignup("account_not_found"))
	require.False(t, authsdk.SuggestsSignup("oauth_failed"))

	oauthErr := &authsdk.OAuthProviderError{Code: "invalid_state"}
	require.Equal(t, "Session expired. Please try again.", oauthErr.Message())
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "nope", authsdk.ErrorMessage(&authsdk.APIError{StatusCode: 400, Message: "nope"}, "fallback"))
	require.Equal(t, "fallback", authsdk.ErrorMessage(&authsdk.APIError{StatusCode: 400}, "fallback"))
	require.Equal(t, "fallback", authsdk.ErrorMessage(errors.New("dial tcp: refused"), "fallback"))
	require.Equal(t, authsdk.MessageMissingCode, authsdk.ErrorMessage(authsdk.ErrMissingAuthorizationCode, "fallback"))
}
