package authsdk_test

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/authsdktest"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "c1"
	testAuthURL  = "https://auth.x"
	testAppURL   = "https://app.x"
)

// newService starts a fake service with two users: u1 owns Acme and is a
// member of Beta, u2 has no organization.
func newService(t *testing.T) *authsdktest.Server {
	t.Helper()

	svc := authsdktest.New(t)
	svc.AddUser(authsdktest.User{
		ID:    "u1",
		Email: "a@b.com",
		Memberships: []authsdktest.Membership{
			{OrgID: "o1", Name: "Acme", Slug: "acme", Role: "owner"},
			{OrgID: "o2", Name: "Beta", Slug: "beta", Role: "member"},
		},
	})
	svc.AddUser(authsdktest.User{ID: "u2", Email: "solo@b.com", Name: "Solo"})
	return svc
}

func newClient(t *testing.T, svc *authsdktest.Server) (*authsdk.SDKClient, http.CookieJar) {
	t.Helper()

	jar, err := authsdk.NewCookieJar()
	require.NoError(t, err)

	client, err := authsdk.NewSDKClient(authsdk.ClientOptions{
		Jar:       jar,
		Transport: svc.Transport(),
		Logger:    slogx.Discard(),
	})
	require.NoError(t, err)
	return client, jar
}

type sessionOption func(*authsdk.Config, *authsdk.Options)

func withoutAppURL(origin string) sessionOption {
	return func(cfg *authsdk.Config, opts *authsdk.Options) {
		cfg.AppURL = ""
		opts.Origin = origin
	}
}

// newSession returns a session for testAppURL backed by svc, and the jar
// its client uses.
func newSession(t *testing.T, svc *authsdktest.Server, options ...sessionOption) (*authsdk.Session, http.CookieJar, *recordingNavigator) {
	t.Helper()

	client, jar := newClient(t, svc)
	nav := &recordingNavigator{}

	cfg := authsdk.Config{ClientID: testClientID, AuthURL: testAuthURL, AppURL: testAppURL}
	opts := authsdk.Options{Client: client, Navigator: nav, Logger: slogx.Discard()}
	for _, o := range options {
		o(&cfg, &opts)
	}

	s, err := authsdk.NewSession(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, jar, nav
}

// signedInSession is newSession with u1 signed in to o1 and started.
func signedInSession(t *testing.T, svc *authsdktest.Server) (*authsdk.Session, *recordingNavigator) {
	t.Helper()

	s, jar, nav := newSession(t, svc)
	require.NoError(t, svc.SignIn(jar, testAppURL, "u1", "o1"))
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.State().IsAuthenticated)
	return s, nav
}

type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNavigator) Navigate(_ context.Context, target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
	return nil
}

func (n *recordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

func (n *recordingNavigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

// fakeClock is a settable clock for the provider cache.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
