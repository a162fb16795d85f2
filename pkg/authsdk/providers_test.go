package authsdk_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/authsdktest"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

var (
	githubGoogle = []authsdktest.Provider{
		{ID: "github", Name: "GitHub", Enabled: true},
		{ID: "google", Name: "Google", Enabled: true},
	}
	gitlabOnly = []authsdktest.Provider{{ID: "gitlab", Name: "GitLab", Enabled: true}}
)

func newProviderCache(t *testing.T) (*authsdk.ProviderCache, *authsdktest.Server, *fakeClock) {
	t.Helper()

	svc := newService(t)
	svc.SetProviders(githubGoogle, true)
	client, _ := newClient(t, svc)
	clock := newFakeClock()

	cache := authsdk.NewProviderCache(client, authsdk.ProviderCacheOptions{
		Clock:  clock.Now,
		Logger: slogx.Discard(),
	})
	return cache, svc, clock
}

func providerIDs(ps []authsdk.ProviderInfo) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

func watch(t *testing.T, cache *authsdk.ProviderCache) *authsdk.ProviderWatcher {
	t.Helper()

	w := cache.Watch(testAuthURL, testClientID)
	t.Cleanup(w.Close)
	return w
}

func TestProviderCacheGet(t *testing.T) {
	t.Parallel()

	cache, svc, clock := newProviderCache(t)
	ctx := context.Background()

	d, err := cache.Get(ctx, testAuthURL, testClientID)
	require.NoError(t, err)
	require.Equal(t, []string{"github", "google"}, providerIDs(d.Providers))
	require.True(t, d.EmailEnabled)
	require.Equal(t, clock.Now(), d.FetchedAt)
	require.Equal(t, 1, svc.Count(authsdktest.EndpointProviders))

	clock.Advance(59 * time.Second)
	_, err = cache.Get(ctx, testAuthURL, testClientID)
	require.NoError(t, err)
	require.Equal(t, 1, svc.Count(authsdktest.EndpointProviders))

	clock.Advance(2 * time.Second)
	svc.SetProviders(gitlabOnly, false)
	d, err = cache.Get(ctx, testAuthURL, testClientID)
	require.NoError(t, err)
	require.Equal(t, []string{"gitlab"}, providerIDs(d.Providers))
	require.Equal(t, 2, svc.Count(authsdktest.EndpointProviders))

	t.Run("failure returns the stale entry", func(t *testing.T) {
		clock.Advance(time.Hour)
		svc.Fail(authsdktest.EndpointProviders, http.StatusInternalServerError, "")

		d, err := cache.Get(ctx, testAuthURL, testClientID)
		require.Error(t, err)
		require.Equal(t, authsdk.MessageProvidersFetchFailed, authsdk.ErrorMessage(err, ""))
		require.Equal(t, []string{"gitlab"}, providerIDs(d.Providers))

		cached, ok := cache.Lookup(testAuthURL, testClientID)
		require.True(t, ok)
		require.Equal(t, []string{"gitlab"}, providerIDs(cached.Providers))
	})

	t.Run("keys are per client", func(t *testing.T) {
		require.NotEqual(t,
			authsdk.ProviderCacheKey(testAuthURL, "c1"),
			authsdk.ProviderCacheKey(testAuthURL, "c2"),
		)
		_, ok := cache.Lookup(testAuthURL, "c2")
		require.False(t, ok)
	})
}

func TestProviderWatcher(t *testing.T) {
	t.Parallel()

	t.Run("first watch loads", func(t *testing.T) {
		t.Parallel()

		cache, svc, _ := newProviderCache(t)
		release := svc.Hold(authsdktest.EndpointProviders)

		w := watch(t, cache)
		st := w.State()
		require.True(t, st.IsLoading)
		require.Empty(t, st.Providers)

		release()
		w.Wait()

		st = w.State()
		require.False(t, st.IsLoading)
		require.Empty(t, st.Error)
		require.True(t, st.EmailEnabled)
		require.Equal(t, []string{"github", "google"}, providerIDs(st.Providers))
		require.Equal(t, 1, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("fresh entry needs no request", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		watch(t, cache).Wait()

		clock.Advance(30 * time.Second)
		w := watch(t, cache)
		st := w.State()
		require.False(t, st.IsLoading)
		require.Equal(t, []string{"github", "google"}, providerIDs(st.Providers))

		w.Wait()
		require.Equal(t, 1, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("stale entry is served while revalidating", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		watch(t, cache).Wait()

		clock.Advance(61 * time.Second)
		svc.SetProviders(gitlabOnly, false)
		release := svc.Hold(authsdktest.EndpointProviders)

		w := watch(t, cache)
		st := w.State()
		require.False(t, st.IsLoading)
		require.Equal(t, []string{"github", "google"}, providerIDs(st.Providers))

		release()
		w.Wait()

		st = w.State()
		require.Equal(t, []string{"gitlab"}, providerIDs(st.Providers))
		require.False(t, st.EmailEnabled)
		require.Equal(t, 2, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("manual refresh does not join a running fetch", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		watch(t, cache).Wait()

		clock.Advance(61 * time.Second)
		release := svc.Hold(authsdktest.EndpointProviders)

		w := watch(t, cache)
		require.Eventually(t, func() bool {
			return svc.Count(authsdktest.EndpointProviders) == 2
		}, 5*time.Second, 5*time.Millisecond)

		svc.SetProviders(gitlabOnly, false)
		w.Refresh()
		require.True(t, w.State().IsLoading)

		release()
		w.Wait()

		require.Equal(t, 3, svc.Count(authsdktest.EndpointProviders))

		st := w.State()
		require.False(t, st.IsLoading)
		require.Equal(t, []string{"gitlab"}, providerIDs(st.Providers))

		d, ok := cache.Lookup(testAuthURL, testClientID)
		require.True(t, ok)
		require.Equal(t, []string{"gitlab"}, providerIDs(d.Providers))
	})

	t.Run("concurrent watchers share one request", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		watch(t, cache).Wait()

		clock.Advance(61 * time.Second)
		release := svc.Hold(authsdktest.EndpointProviders)

		watchers := []*authsdk.ProviderWatcher{watch(t, cache), watch(t, cache), watch(t, cache)}
		release()
		for _, w := range watchers {
			w.Wait()
		}

		require.Equal(t, 2, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("failure keeps last known providers", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		watch(t, cache).Wait()

		clock.Advance(61 * time.Second)
		svc.Fail(authsdktest.EndpointProviders, http.StatusInternalServerError, "")

		w := watch(t, cache)
		w.Wait()

		st := w.State()
		require.Equal(t, authsdk.MessageProvidersFetchFailed, st.Error)
		require.False(t, st.IsLoading)
		require.Equal(t, []string{"github", "google"}, providerIDs(st.Providers))
	})

	t.Run("failure without cache shows nothing", func(t *testing.T) {
		t.Parallel()

		cache, svc, _ := newProviderCache(t)
		svc.Fail(authsdktest.EndpointProviders, http.StatusServiceUnavailable, "maintenance")

		w := watch(t, cache)
		w.Wait()

		st := w.State()
		require.Equal(t, "maintenance", st.Error)
		require.Empty(t, st.Providers)
		require.False(t, st.EmailEnabled)
		require.False(t, st.IsLoading)
	})

	t.Run("refresh shows loading", func(t *testing.T) {
		t.Parallel()

		cache, svc, _ := newProviderCache(t)
		w := watch(t, cache)
		w.Wait()

		var sawLoading bool
		w.Subscribe(func(st authsdk.ProviderState) {
			if st.IsLoading {
				sawLoading = true
			}
		})

		release := svc.Hold(authsdktest.EndpointProviders)
		w.Refresh()
		require.True(t, sawLoading)
		require.True(t, w.State().IsLoading)

		_, ok := cache.Lookup(testAuthURL, testClientID)
		require.False(t, ok)

		release()
		w.Wait()
		require.False(t, w.State().IsLoading)
		require.Equal(t, 2, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("focus revalidates only stale entries", func(t *testing.T) {
		t.Parallel()

		cache, svc, clock := newProviderCache(t)
		w := watch(t, cache)
		w.Wait()

		w.Focus()
		w.Wait()
		require.Equal(t, 1, svc.Count(authsdktest.EndpointProviders))

		clock.Advance(61 * time.Second)
		w.Focus()
		require.False(t, w.State().IsLoading)
		w.Wait()
		require.Equal(t, 2, svc.Count(authsdktest.EndpointProviders))
	})

	t.Run("closed watcher ignores results", func(t *testing.T) {
		t.Parallel()

		cache, svc, _ := newProviderCache(t)
		release := svc.Hold(authsdktest.EndpointProviders)

		w := cache.Watch(testAuthURL, testClientID)
		var calls int
		w.Subscribe(func(authsdk.ProviderState) { calls++ })
		w.Close()

		release()
		w.Wait()
		require.Zero(t, calls)
		require.True(t, w.State().IsLoading)
	})
}
