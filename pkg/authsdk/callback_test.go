package authsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/authsdktest"
	"github.com/stretchr/testify/require"
)

func callbackURL(t *testing.T, q url.Values) *url.URL {
	t.Helper()
	return mustParseURL(t, testAppURL+authsdk.CallbackPath+"?"+q.Encode())
}

func TestCallbackSuccess(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	s, _, nav := newSession(t, svc)
	require.NoError(t, s.Start(context.Background()))
	require.False(t, s.State().IsAuthenticated)

	h := s.NewCallbackHandler(authsdk.CallbackOptions{})
	u := callbackURL(t, url.Values{
		"code":  {svc.IssueCode("u1")},
		"state": {authsdk.EncodeState("/dashboard?tab=1")},
	})

	returnTo, err := h.Handle(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, "/dashboard?tab=1", returnTo)
	require.Equal(t, testAppURL+"/dashboard?tab=1", nav.Last())

	st := s.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "acme", st.Organization.Slug)
	require.Equal(t, 1, svc.Count(authsdktest.EndpointExchange))
	require.Empty(t, h.Failure())
}

func TestCallbackRunsOnce(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	s, _, _ := newSession(t, svc)

	var successes int
	h := s.NewCallbackHandler(authsdk.CallbackOptions{
		OnSuccess: func(string) { successes++ },
	})
	u := callbackURL(t, url.Values{"code": {svc.IssueCode("u1")}})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(context.Background(), u)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, svc.Count(authsdktest.EndpointExchange))
	require.Equal(t, 1, successes)

	var handled, ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, authsdk.ErrCallbackHandled):
			handled++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, handled)
}

func TestCallbackWaitsForStartupRefresh(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	s, _, _ := newSession(t, svc)

	// The startup refresh goes out before the exchange sets a cookie.
	release := svc.Hold(authsdktest.EndpointRefresh)
	defer release()

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		return svc.Count(authsdktest.EndpointRefresh) == 1
	}, 5*time.Second, 5*time.Millisecond)

	h := s.NewCallbackHandler(authsdk.CallbackOptions{OnSuccess: func(string) {}})
	u := callbackURL(t, url.Values{"code": {svc.IssueCode("u1")}})

	handled := make(chan error, 1)
	go func() {
		_, err := h.Handle(context.Background(), u)
		handled <- err
	}()
	require.Eventually(t, func() bool {
		return svc.Count(authsdktest.EndpointExchange) == 1
	}, 5*time.Second, 5*time.Millisecond)

	release()
	require.NoError(t, <-started)
	require.NoError(t, <-handled)

	st := s.State()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, "acme", st.Organization.Slug)
	require.Equal(t, 2, svc.Count(authsdktest.EndpointRefresh))
}

func TestCallbackProviderError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		state string
		want  string
	}{
		{
			name:  "return path is kept",
			state: authsdk.EncodeState("/billing"),
			want:  testAppURL + "/login?error=account_not_found&returnTo=%2Fbilling",
		},
		{
			name:  "root return path is omitted",
			state: authsdk.EncodeState("/"),
			want:  testAppURL + "/login?error=account_not_found",
		},
		{
			name:  "undecodable state",
			state: "!!!not-base64",
			want:  testAppURL + "/login?error=account_not_found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := newService(t)
			s, _, nav := newSession(t, svc)
			h := s.NewCallbackHandler(authsdk.CallbackOptions{})

			_, err := h.Handle(context.Background(), callbackURL(t, url.Values{
				"error": {"account_not_found"},
				"state": {tc.state},
			}))

			var oauthErr *authsdk.OAuthProviderError
			require.ErrorAs(t, err, &oauthErr)
			require.Equal(t, "account_not_found", oauthErr.Code)
			require.True(t, authsdk.SuggestsSignup(oauthErr.Code))
			require.Equal(t, tc.want, nav.Last())
			require.Equal(t, 0, svc.Count(authsdktest.EndpointExchange))
		})
	}

	t.Run("error handler replaces the redirect", func(t *testing.T) {
		t.Parallel()

		svc := newService(t)
		s, _, nav := newSession(t, svc)

		var got string
		h := s.NewCallbackHandler(authsdk.CallbackOptions{OnError: func(msg string) { got = msg }})

		_, err := h.Handle(context.Background(), callbackURL(t, url.Values{"error": {"oauth_failed"}}))
		require.Error(t, err)
		require.Equal(t, "oauth_failed", got)
		require.Empty(t, nav.Targets())
		require.Equal(t, "oauth_failed", authsdk.ErrorMessage(err, "fallback"))
	})
}

func TestCallbackFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing code", func(t *testing.T) {
		t.Parallel()

		svc := newService(t)
		s, _, nav := newSession(t, svc)

		var got string
		h := s.NewCallbackHandler(authsdk.CallbackOptions{OnError: func(msg string) { got = msg }})

		_, err := h.Handle(context.Background(), callbackURL(t, url.Values{"state": {authsdk.EncodeState("/x")}}))
		require.ErrorIs(t, err, authsdk.ErrMissingAuthorizationCode)
		require.Equal(t, "Missing authorization code", got)
		require.Equal(t, "Missing authorization code", h.Failure())
		require.Equal(t, 0, svc.Count(authsdktest.EndpointExchange))
		require.Empty(t, nav.Targets())
	})

	t.Run("rejected code uses the server message", func(t *testing.T) {
		t.Parallel()

		svc := newService(t)
		s, _, _ := newSession(t, svc)

		var got string
		h := s.NewCallbackHandler(authsdk.CallbackOptions{OnError: func(msg string) { got = msg }})

		_, err := h.Handle(context.Background(), callbackURL(t, url.Values{"code": {"unknown"}}))
		require.Error(t, err)
		require.Equal(t, "invalid_code", got)
		require.False(t, s.State().IsAuthenticated)
	})

	t.Run("exchange failure without a body", func(t *testing.T) {
		t.Parallel()

		svc := newService(t)
		svc.Fail(authsdktest.EndpointExchange, http.StatusBadGateway, "")
		s, _, _ := newSession(t, svc)

		var got string
		h := s.NewCallbackHandler(authsdk.CallbackOptions{OnError: func(msg string) { got = msg }})

		_, err := h.Handle(context.Background(), callbackURL(t, url.Values{"code": {svc.IssueCode("u1")}}))
		require.Error(t, err)
		require.Equal(t, authsdk.MessageAuthenticationFailed, got)
	})

	t.Run("absolute return path is not followed", func(t *testing.T) {
		t.Parallel()

		svc := newService(t)
		s, _, nav := newSession(t, svc)
		h := s.NewCallbackHandler(authsdk.CallbackOptions{})

		_, err := h.Handle(context.Background(), callbackURL(t, url.Values{
			"code":  {svc.IssueCode("u1")},
			"state": {authsdk.EncodeState("//evil.example/phish")},
		}))
		require.NoError(t, err)
		require.Equal(t, testAppURL+"/", nav.Last())
	})
}

func TestCallbackServeHTTP(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	s, _, _ := newSession(t, svc)
	h := s.NewCallbackHandler(authsdk.CallbackOptions{})

	target := authsdk.CallbackPath + "?" + url.Values{
		"code":  {svc.IssueCode("u1")},
		"state": {authsdk.EncodeState("/done")},
	}.Encode()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "http://example.com/done", rec.Header().Get("Location"))
	require.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	require.True(t, s.State().IsAuthenticated)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, 1, svc.Count(authsdktest.EndpointExchange))

	t.Run("failure page", func(t *testing.T) {
		h := s.NewCallbackHandler(authsdk.CallbackOptions{})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, authsdk.CallbackPath, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "Missing authorization code")
	})

	t.Run("failure page escapes the server message", func(t *testing.T) {
		svc := newService(t)
		s, _, _ := newSession(t, svc)
		svc.Fail(authsdktest.EndpointExchange, http.StatusBadRequest, "<b>bad code</b>")
		h := s.NewCallbackHandler(authsdk.CallbackOptions{})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, authsdk.CallbackPath+"?code=x", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "&lt;b&gt;bad code&lt;/b&gt;")
		require.NotContains(t, rec.Body.String(), "<b>")
	})
}

func TestParseCallbackParams(t *testing.T) {
	t.Parallel()

	p := authsdk.ParseCallbackParams(url.Values{"code": {"c"}, "state": {"s"}, "error": {"e"}})
	require.Equal(t, authsdk.CallbackParams{Code: "c", State: "s", Error: "e"}, p)
}
