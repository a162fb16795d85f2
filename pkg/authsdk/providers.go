package authsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

// ProviderCacheTTL is how long a provider list is served without
// revalidation.
const ProviderCacheTTL = 60 * time.Second

// ProviderDirectory is one cached provider list.
type ProviderDirectory struct {
	Providers    []ProviderInfo `json:"providers"`
	EmailEnabled bool           `json:"emailEnabled"`
	FetchedAt    time.Time      `json:"fetchedAt"`
}

// ProviderCacheOptions configure NewProviderCache.
type ProviderCacheOptions struct {
	TTL    time.Duration    // defaults to ProviderCacheTTL
	Clock  func() time.Time // defaults to time.Now
	Logger *slog.Logger
}

// ProviderCache holds provider lists keyed by auth URL and client ID. Build
// one per process and share it, so every consumer of the same key is served
// by the same entry and concurrent fetches collapse into one request.
type ProviderCache struct {
	client *SDKClient
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]ProviderDirectory
	gens    map[string]uint64
}

// NewProviderCache returns an empty cache that fetches with client.
func NewProviderCache(client *SDKClient, opts ProviderCacheOptions) *ProviderCache {
	if opts.TTL <= 0 {
		opts.TTL = ProviderCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &ProviderCache{
		client:  client,
		ttl:     opts.TTL,
		now:     opts.Clock,
		log:     slogx.OrDefault(opts.Logger),
		entries: make(map[string]ProviderDirectory),
		gens:    make(map[string]uint64),
	}
}

// ProviderCacheKey is the cache key for an auth URL and client ID.
func ProviderCacheKey(authURL, clientID string) string {
	return authURL + "::" + clientID
}

// Lookup returns the cached entry, fresh or stale.
func (c *ProviderCache) Lookup(authURL, clientID string) (ProviderDirectory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.entries[ProviderCacheKey(authURL, clientID)]
	return d, ok
}

// IsStale reports whether d is older than the TTL.
func (c *ProviderCache) IsStale(d ProviderDirectory) bool {
	return c.now().Sub(d.FetchedAt) > c.ttl
}

// Invalidate drops the entry so the next read fetches. A fetch already
// running for the key is detached: later callers start a new request and
// its result is not stored.
func (c *ProviderCache) Invalidate(authURL, clientID string) {
	key := ProviderCacheKey(authURL, clientID)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.gens[key]++
	c.group.Forget(key)
}

// Revalidate fetches the provider list and stores it. Concurrent calls for
// the same key share one request. A failed fetch leaves any existing entry
// in place.
func (c *ProviderCache) Revalidate(ctx context.Context, authURL, clientID string) (ProviderDirectory, error) {
	return c.await(ctx, c.start(ctx, authURL, clientID))
}

// start joins or begins the fetch for a key before returning.
func (c *ProviderCache) start(ctx context.Context, authURL, clientID string) <-chan singleflight.Result {
	key := ProviderCacheKey(authURL, clientID)

	// The shared fetch must not die with whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)

	return c.group.DoChan(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gens[key]
		c.mu.Unlock()

		resp, err := c.client.ListProviders(fetchCtx, authURL, clientID)
		if err != nil {
			c.log.DebugContext(fetchCtx, "provider fetch failed", "key", key, "err", err)
			return ProviderDirectory{}, err
		}

		d := ProviderDirectory{
			Providers:    resp.Providers,
			EmailEnabled: resp.EmailEnabled,
			FetchedAt:    c.now(),
		}

		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = d
		}
		c.mu.Unlock()

		return d, nil
	})
}

func (c *ProviderCache) await(ctx context.Context, ch <-chan singleflight.Result) (ProviderDirectory, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return ProviderDirectory{}, res.Err
		}
		return res.Val.(ProviderDirectory), nil
	case <-ctx.Done():
		return ProviderDirectory{}, ctx.Err()
	}
}

// Get returns a fresh entry, fetching when the entry is missing or stale.
// If that fetch fails and an older entry exists, the older entry is
// returned together with the error.
func (c *ProviderCache) Get(ctx context.Context, authURL, clientID string) (ProviderDirectory, error) {
	d, ok := c.Lookup(authURL, clientID)
	if ok && !c.IsStale(d) {
		return d, nil
	}

	fresh, err := c.Revalidate(ctx, authURL, clientID)
	if err != nil {
		return d, err
	}
	return fresh, nil
}

// ProviderState is what a ProviderWatcher currently shows.
type ProviderState struct {
	Providers    []ProviderInfo
	EmailEnabled bool
	IsLoading    bool
	Error        string
}

type providerListener struct {
	id uint64
	fn func(ProviderState)
}

// ProviderWatcher is one consumer's view of a cache key with
// stale-while-revalidate semantics.
type ProviderWatcher struct {
	cache    *ProviderCache
	authURL  string
	clientID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        ProviderState
	latest       uint64
	closed       bool
	listeners    []providerListener
	nextListener uint64
}

// Watch starts watching a key. A missing entry is fetched with IsLoading
// set; a stale entry is served at once and revalidated in the background;
// a fresh entry is served without any request.
func (c *ProviderCache) Watch(authURL, clientID string) *ProviderWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &ProviderWatcher{
		cache:    c,
		authURL:  authURL,
		clientID: clientID,
		ctx:      ctx,
		cancel:   cancel,
		state:    ProviderState{Providers: []ProviderInfo{}},
	}

	d, ok := c.Lookup(authURL, clientID)
	switch {
	case !ok:
		w.fetch(true)
	case c.IsStale(d):
		w.state.Providers = d.Providers
		w.state.EmailEnabled = d.EmailEnabled
		w.fetch(false)
	default:
		w.state.Providers = d.Providers
		w.state.EmailEnabled = d.EmailEnabled
	}

	return w
}

// State returns what the watcher currently shows.
func (w *ProviderWatcher) State() ProviderState {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.state
	st.Providers = append([]ProviderInfo{}, w.state.Providers...)
	return st
}

// Refresh drops the cached entry and refetches with IsLoading set.
func (w *ProviderWatcher) Refresh() {
	w.cache.Invalidate(w.authURL, w.clientID)
	w.fetch(true)
}

// Focus is called when the host regains focus. A missing or stale entry is
// revalidated in the background without a loading indicator.
func (w *ProviderWatcher) Focus() {
	d, ok := w.cache.Lookup(w.authURL, w.clientID)
	if !ok || w.cache.IsStale(d) {
		w.fetch(false)
	}
}

// Subscribe registers fn to be called after every state change.
func (w *ProviderWatcher) Subscribe(fn func(ProviderState)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextListener
	w.nextListener++
	w.listeners = append(w.listeners, providerListener{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, l := range w.listeners {
			if l.id == id {
				w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
				return
			}
		}
	}
}

// Wait blocks until fetches started so far have finished.
func (w *ProviderWatcher) Wait() {
	w.wg.Wait()
}

// Close detaches the watcher. Fetches still running keep updating the
// shared cache but no longer change this watcher's state.
func (w *ProviderWatcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.listeners = nil
	w.mu.Unlock()

	w.cancel()
}

func (w *ProviderWatcher) fetch(showLoading bool) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if showLoading {
		w.state.IsLoading = true
	}
	w.latest++
	seq := w.latest
	w.wg.Add(1)
	w.mu.Unlock()

	if showLoading {
		w.notify()
	}

	ch := w.cache.start(w.ctx, w.authURL, w.clientID)

	go func() {
		defer w.wg.Done()

		d, err := w.cache.await(w.ctx, ch)

		w.mu.Lock()
		if w.closed || seq != w.latest {
			// Superseded by a later fetch.
			w.mu.Unlock()
			return
		}

		if err != nil {
			w.state.Error = ErrorMessage(err, err.Error())
			// Last-known-good data stays; an empty list only when nothing
			// was ever cached.
			if _, ok := w.cache.Lookup(w.authURL, w.clientID); !ok {
				w.state.Providers = []ProviderInfo{}
				w.state.EmailEnabled = false
			}
		} else {
			w.state.Providers = d.Providers
			w.state.EmailEnabled = d.EmailEnabled
			w.state.Error = ""
		}
		w.state.IsLoading = false
		w.mu.Unlock()

		w.notify()
	}()
}

func (w *ProviderWatcher) notify() {
	w.mu.Lock()
	if w.closed || len(w.listeners) == 0 {
		w.mu.Unlock()
		return
	}
	st := w.state
	st.Providers = append([]ProviderInfo{}, w.state.Providers...)
	fns := make([]func(ProviderState), len(w.listeners))
	for i, l := range w.listeners {
		fns[i] = l.fn
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
