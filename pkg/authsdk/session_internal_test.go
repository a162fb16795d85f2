package authsdk

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdktest"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.stopped = true
	return true
}

// newTimerSession returns a signed-in session whose timers are recorded
// instead of scheduled.
func newTimerSession(t *testing.T) (*Session, *authsdktest.Server, *[]*fakeTimer) {
	t.Helper()

	svc := authsdktest.New(t)
	svc.AddUser(authsdktest.User{
		ID:          "u1",
		Email:       "a@b.com",
		Memberships: []authsdktest.Membership{{OrgID: "o1", Name: "Acme", Slug: "acme", Role: "owner"}},
	})

	jar, err := NewCookieJar()
	require.NoError(t, err)
	client, err := NewSDKClient(ClientOptions{Jar: jar, Transport: svc.Transport()})
	require.NoError(t, err)
	require.NoError(t, svc.SignIn(jar, "https://app.x", "u1", "o1"))

	s, err := NewSession(
		Config{ClientID: "c1", AuthURL: "https://auth.x", AppURL: "https://app.x"},
		Options{Client: client, Logger: slogx.Discard(), Navigator: NavigatorFunc(func(context.Context, string) error { return nil })},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	timers := &[]*fakeTimer{}
	s.afterFunc = func(d time.Duration, f func()) timer {
		ft := &fakeTimer{delay: d, fire: f}
		*timers = append(*timers, ft)
		return ft
	}

	return s, svc, timers
}

func TestRefreshTimerReplacement(t *testing.T) {
	t.Parallel()

	s, svc, timers := newTimerSession(t)
	ctx := context.Background()

	_, err := s.RefreshSession(ctx)
	require.NoError(t, err)
	_, err = s.RefreshSession(ctx)
	require.NoError(t, err)

	require.Len(t, *timers, 2)
	first, second := (*timers)[0], (*timers)[1]
	require.True(t, first.stopped)
	require.False(t, second.stopped)
	require.Equal(t, 2, svc.Count(authsdktest.EndpointRefresh))

	// A replaced timer that fires anyway does nothing.
	first.fire()
	require.Equal(t, 2, svc.Count(authsdktest.EndpointRefresh))
	require.Len(t, *timers, 2)

	second.fire()
	require.Equal(t, 3, svc.Count(authsdktest.EndpointRefresh))
	require.Len(t, *timers, 3)

	// Firing twice is also ignored.
	second.fire()
	require.Equal(t, 3, svc.Count(authsdktest.EndpointRefresh))

	require.NoError(t, s.Close())
	require.True(t, (*timers)[2].stopped)

	(*timers)[2].fire()
	require.Equal(t, 3, svc.Count(authsdktest.EndpointRefresh))
}

func TestRefreshTimerClearedOnRejection(t *testing.T) {
	t.Parallel()

	s, svc, timers := newTimerSession(t)

	_, err := s.RefreshSession(context.Background())
	require.NoError(t, err)
	require.Len(t, *timers, 1)

	svc.Fail(authsdktest.EndpointRefresh, 401, "invalid_session")
	(*timers)[0].fire()

	require.Len(t, *timers, 1)
	require.Empty(t, s.State().AccessToken)
	_, scheduled := s.NextRefresh()
	require.False(t, scheduled)
}

func TestRefreshDelay(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)

	cases := []struct {
		name      string
		remaining time.Duration
		want      time.Duration
	}{
		{name: "two minutes left", remaining: 2 * time.Minute, want: time.Minute},
		{name: "ten minutes left", remaining: 10 * time.Minute, want: 9 * time.Minute},
		{name: "seventy seconds left", remaining: 70 * time.Second, want: 10 * time.Second},
		{name: "five seconds left", remaining: 5 * time.Second, want: 10 * time.Second},
		{name: "already expired", remaining: -time.Minute, want: 10 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, svc, timers := newTimerSession(t)
			s.now = func() time.Time { return now }
			svc.SetClock(func() time.Time { return now })
			svc.SetTokenTTL(tc.remaining)

			_, err := s.RefreshSession(context.Background())
			require.NoError(t, err)

			require.Len(t, *timers, 1)
			require.Equal(t, tc.want, (*timers)[0].delay)

			next, ok := s.NextRefresh()
			require.True(t, ok)
			require.Equal(t, now.Add(tc.want), next)
		})
	}
}

func TestIsAuthenticated(t *testing.T) {
	t.Parallel()

	org := &Organization{ID: "o1"}

	cases := []struct {
		name  string
		token string
		org   *Organization
		want  bool
	}{
		{name: "token and organization", token: "t", org: org, want: true},
		{name: "token only", token: "t"},
		{name: "organization only", org: org},
		{name: "neither"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, isAuthenticated(tc.token, tc.org))
		})
	}
}

func TestExchangeBase(t *testing.T) {
	t.Parallel()

	s, _, _ := newTimerSession(t)
	callback, err := url.Parse("https://app.x/auth/callback?code=abc")
	require.NoError(t, err)

	t.Run("override", func(t *testing.T) {
		h := s.NewCallbackHandler(CallbackOptions{APIURL: "https://api.x/"})
		require.Equal(t, "https://api.x", h.exchangeBase(callback))
	})

	t.Run("resolved api url", func(t *testing.T) {
		h := s.NewCallbackHandler(CallbackOptions{})
		require.Equal(t, "https://app.x", h.exchangeBase(callback))
	})

	t.Run("callback origin when unresolved", func(t *testing.T) {
		unresolved, err := NewSession(Config{ClientID: "c1"}, Options{Logger: slogx.Discard()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = unresolved.Close() })

		h := unresolved.NewCallbackHandler(CallbackOptions{})
		require.Equal(t, "https://app.x", h.exchangeBase(callback))
	})
}
