package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
)

const (
	// RefreshAhead is how long before expiry a token stops being handed out
	// and the scheduled refresh fires.
	RefreshAhead = 60 * time.Second

	// MinRefreshDelay is the floor for scheduling the next refresh, so a
	// server issuing near-expired tokens cannot cause a refresh storm.
	MinRefreshDelay = 10 * time.Second
)

// Status is the lifecycle phase of a Session.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"
	StatusResolvingConfig Status = "resolving-config"
	StatusRefreshing      Status = "refreshing"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusLoggingOut      Status = "logging-out"
)

// AuthState is an immutable snapshot of a Session.
type AuthState struct {
	Status Status `json:"status"`

	// IsAuthenticated holds iff there is a token and an active organization.
	IsAuthenticated bool `json:"isAuthenticated"`
	IsLoading       bool `json:"isLoading"`
	IsLoggingOut    bool `json:"isLoggingOut"`

	User          *User          `json:"user"`
	Organization  *Organization  `json:"organization"`
	Organizations []Organization `json:"organizations"`

	OrgRole      string `json:"orgRole"`
	IsAdmin      bool   `json:"isAdmin"`
	IsOwner      bool   `json:"isOwner"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`

	// AccessToken is the raw token. Prefer Session.GetAccessToken, which
	// refreshes it when it is about to expire.
	AccessToken string `json:"-"`
}

// Options configures a Session. The zero value is usable.
type Options struct {
	// Client defaults to NewSDKClient with RequestTimeout.
	Client         *SDKClient
	RequestTimeout time.Duration

	// Origin is the host application's own origin, used as the app URL
	// fallback when discovery fails.
	Origin string

	// CurrentPath is recorded in the state parameter on Login. Defaults to "/".
	CurrentPath string

	// Navigator defaults to BrowserNavigator.
	Navigator Navigator

	Logger *slog.Logger
}

// timer is the part of *time.Timer the session uses.
type timer interface {
	Stop() bool
}

type listener struct {
	id uint64
	fn func(AuthState)
}

// Session owns the authentication state for one application instance. It
// performs the refresh protocol and keeps a single refresh timer running
// while authenticated. A Session is safe for concurrent use.
type Session struct {
	cfg    Config
	client *SDKClient
	nav    Navigator
	log    *slog.Logger
	origin string

	// baseCtx bounds timer-driven refreshes and is cancelled by Close.
	baseCtx context.Context
	cancel  context.CancelFunc

	now             func() time.Time
	afterFunc       func(time.Duration, func()) timer
	refreshAhead    time.Duration
	minRefreshDelay time.Duration

	resolveMu sync.Mutex

	mu            sync.Mutex
	resolved      *ResolvedConfig
	resolving     bool
	currentPath   string
	token         string
	claims        *jwtx.Claims
	organizations []Organization
	bootstrapping bool
	bootstrapped  bool
	loggingOut    bool
	closed        bool

	// epoch changes whenever the session is cleared; results of requests
	// started under an older epoch are discarded.
	epoch uint64

	// inflight is non-nil while a refresh request is outstanding and is
	// closed when it completes.
	inflight chan struct{}

	refreshTimer timer
	timerGen     uint64
	nextRefresh  time.Time

	listeners    []listener
	nextListener uint64
}

// NewSession validates cfg and returns an idle session. When cfg.AppURL is
// set the config is resolved immediately without any network call.
func NewSession(cfg Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		var err error
		client, err = NewSDKClient(ClientOptions{Timeout: opts.RequestTimeout, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
	}

	nav := opts.Navigator
	if nav == nil {
		nav = BrowserNavigator{Logger: opts.Logger}
	}

	currentPath := opts.CurrentPath
	if currentPath == "" {
		currentPath = "/"
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:             cfg,
		client:          client,
		nav:             nav,
		log:             slogx.OrDefault(opts.Logger).With("client_id", cfg.ClientID),
		origin:          opts.Origin,
		baseCtx:         ctx,
		cancel:          cancel,
		now:             time.Now,
		afterFunc:       func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		refreshAhead:    RefreshAhead,
		minRefreshDelay: MinRefreshDelay,
		currentPath:     currentPath,
	}

	if r, ok := cfg.resolveLocal(); ok {
		s.resolved = &r
	}

	return s, nil
}

// Client returns the underlying SDK client.
func (s *Session) Client() *SDKClient { return s.client }

// Config returns the resolved configuration, if resolution has finished.
func (s *Session) Config() (ResolvedConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved == nil {
		return ResolvedConfig{}, false
	}
	return *s.resolved, true
}

// SetCurrentPath records the path the host is showing, used as the default
// return path on Login.
func (s *Session) SetCurrentPath(path string) {
	s.mu.Lock()
	s.currentPath = path
	s.mu.Unlock()
}

// Start resolves the config if needed and bootstraps the session.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.Resolve(ctx); err != nil {
		return err
	}
	return s.Bootstrap(ctx)
}

// Resolve runs config resolution once. Discovery failures are not errors;
// the only error is ErrSessionClosed.
func (s *Session) Resolve(ctx context.Context) (ResolvedConfig, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ResolvedConfig{}, ErrSessionClosed
	}
	if s.resolved != nil {
		r := *s.resolved
		s.mu.Unlock()
		return r, nil
	}
	s.resolving = true
	s.mu.Unlock()
	s.notify()

	r := s.client.ResolveConfig(ctx, s.cfg, s.origin)

	s.mu.Lock()
	s.resolving = false
	if s.closed {
		s.mu.Unlock()
		return ResolvedConfig{}, ErrSessionClosed
	}
	s.resolved = &r
	s.mu.Unlock()

	s.log.DebugContext(ctx, "config resolved",
		"auth_url", r.AuthURL,
		"app_url", r.AppURL,
		"api_url", r.APIURL,
	)
	s.notify()
	return r, nil
}

// Bootstrap performs the initial refresh and, when that yields a token,
// loads the organization list. Loading ends when it returns, whatever the
// outcome. Only the first call does any work.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.resolved == nil:
		s.mu.Unlock()
		return ErrConfigNotResolved
	case s.bootstrapping || s.bootstrapped:
		s.mu.Unlock()
		return nil
	}
	s.bootstrapping = true
	s.mu.Unlock()

	token, err := s.RefreshSession(ctx)
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.WarnContext(ctx, "initial refresh failed", "err", err)
	}

	if token != "" {
		if orgErr := s.LoadOrganizations(ctx); orgErr != nil {
			s.log.DebugContext(ctx, "organization list unavailable", "err", orgErr)
		}
	}

	s.mu.Lock()
	s.bootstrapping = false
	s.bootstrapped = true
	s.mu.Unlock()
	s.notify()

	return err
}

// RefreshSession exchanges the session cookie for a new access token and
// returns it.
//
// It returns ("", nil) when another refresh is already running, when the
// config is not resolved yet, or when the backend rejected the cookie. In
// the last case the session is cleared. Transport and decode failures are
// returned as errors and leave the session untouched.
func (s *Session) RefreshSession(ctx context.Context) (string, error) {
	token, _, err := s.refresh(ctx)
	return token, err
}

// refresh returns the in-flight channel instead of doing anything when a
// refresh is already running.
func (s *Session) refresh(ctx context.Context) (string, <-chan struct{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil, ErrSessionClosed
	}
	if s.resolved == nil {
		s.mu.Unlock()
		return "", nil, nil
	}
	if s.inflight != nil {
		busy := s.inflight
		s.mu.Unlock()
		return "", busy, nil
	}

	done := make(chan struct{})
	s.inflight = done
	apiURL := s.resolved.APIURL
	epoch := s.epoch
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.inflight = nil
		close(done)
		s.mu.Unlock()
		s.notify()
	}()

	resp, err := s.client.Refresh(ctx, apiURL)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return "", nil, ErrSessionClosed
		}
		if s.epoch == epoch {
			s.log.DebugContext(ctx, "refresh rejected, session cleared", "status", apiErr.StatusCode)
			s.clearLocked(false)
		}
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("authsdk: refresh: %w", err)
	}

	claims, err := jwtx.Decode(resp.AccessToken)
	if err != nil {
		return "", nil, fmt.Errorf("authsdk: refresh: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", nil, ErrSessionClosed
	}
	if s.epoch != epoch {
		// Logged out while the request was in flight.
		return "", nil, nil
	}

	s.applyLocked(resp.AccessToken, claims)
	s.scheduleLocked(claims)
	return resp.AccessToken, nil, nil
}

// GetAccessToken returns a token with more than RefreshAhead of validity
// left, refreshing when needed. If another refresh is running it waits for
// that one instead of starting a second. It returns ("", nil) when the
// session is not authenticated.
func (s *Session) GetAccessToken(ctx context.Context) (string, error) {
	if token, ok := s.validToken(s.refreshAhead); ok {
		return token, nil
	}

	token, busy, err := s.refresh(ctx)
	if busy == nil {
		return token, err
	}

	select {
	case <-busy:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	token, _ = s.validToken(0)
	return token, nil
}

// resync refreshes from the session cookie as it is now. A refresh already
// in flight may have been sent before the cookie changed, so it is awaited
// and followed by another.
func (s *Session) resync(ctx context.Context) (string, error) {
	for {
		token, busy, err := s.refresh(ctx)
		if busy == nil {
			return token, err
		}

		select {
		case <-busy:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// validToken returns the held token if it stays valid for longer than margin.
func (s *Session) validToken(margin time.Duration) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" || s.claims == nil {
		return "", false
	}
	if s.claims.Remaining(s.now()) <= margin {
		return "", false
	}
	return s.token, true
}

// AuthorizeURL builds the sign-in redirect for the resolved config. An empty
// ReturnTo defaults to the current path.
func (s *Session) AuthorizeURL(opts LoginOptions) (string, error) {
	s.mu.Lock()
	r := s.resolved
	path := s.currentPath
	s.mu.Unlock()

	if r == nil {
		return "", ErrConfigNotResolved
	}
	if opts.ReturnTo == "" {
		opts.ReturnTo = path
	}
	return r.AuthorizeURL(opts)
}

// Login navigates to the auth service's authorize endpoint. It makes no
// request of its own.
func (s *Session) Login(ctx context.Context, opts LoginOptions) error {
	target, err := s.AuthorizeURL(opts)
	if err != nil {
		return err
	}
	return s.nav.Navigate(ctx, target)
}

// Logout asks the backend to end the session and clears local state. Local
// state is cleared even when the request fails; that failure is returned
// for callers that want to report it.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.resolved == nil {
		s.mu.Unlock()
		return ErrConfigNotResolved
	}
	apiURL := s.resolved.APIURL
	s.loggingOut = true
	s.mu.Unlock()
	s.notify()

	err := s.client.Logout(ctx, apiURL)
	if err != nil {
		s.log.DebugContext(ctx, "logout request failed, clearing local session anyway", "err", err)
		err = fmt.Errorf("authsdk: logout: %w", err)
	}

	s.mu.Lock()
	if !s.closed {
		s.clearLocked(true)
	}
	s.loggingOut = false
	s.mu.Unlock()
	s.notify()

	return err
}

// SwitchOrganization makes orgID the active organization. On failure the
// session is left as it was and the error is returned.
func (s *Session) SwitchOrganization(ctx context.Context, orgID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.resolved == nil {
		s.mu.Unlock()
		return ErrConfigNotResolved
	}
	apiURL := s.resolved.APIURL
	epoch := s.epoch
	s.mu.Unlock()

	resp, err := s.client.SwitchOrganization(ctx, apiURL, orgID)
	if err != nil {
		s.log.DebugContext(ctx, "switch organization failed", "org_id", orgID, "err", err)
		return fmt.Errorf("authsdk: switch organization: %w", err)
	}

	claims, err := jwtx.Decode(resp.AccessToken)
	if err != nil {
		return fmt.Errorf("authsdk: switch organization: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	s.applyLocked(resp.AccessToken, claims)
	s.scheduleLocked(claims)
	s.mu.Unlock()

	s.log.InfoContext(ctx, "organization switched", "org_id", orgID)
	s.notify()
	return nil
}

// LoadOrganizations refreshes the list of organizations the user belongs
// to. The session's authentication is unaffected by failures.
func (s *Session) LoadOrganizations(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.resolved == nil {
		s.mu.Unlock()
		return ErrConfigNotResolved
	}
	token := s.token
	authURL := s.resolved.AuthURL
	epoch := s.epoch
	s.mu.Unlock()

	if token == "" {
		return ErrNotAuthenticated
	}

	orgs, err := s.client.ListOrganizations(ctx, authURL, token)
	if err != nil {
		return fmt.Errorf("authsdk: list organizations: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.epoch == epoch {
		s.organizations = orgs
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// State returns a snapshot of the session.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// NextRefresh reports when the scheduled refresh will fire.
func (s *Session) NextRefresh() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshTimer == nil {
		return time.Time{}, false
	}
	return s.nextRefresh, true
}

// Subscribe registers fn to be called with a new snapshot after every state
// change. Calls happen on the goroutine that made the change, outside the
// session lock. The returned function removes the subscription.
func (s *Session) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Close stops the refresh timer and detaches the session. Results of
// requests still in flight are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	s.listeners = nil
	s.mu.Unlock()

	s.cancel()
	return nil
}

func (s *Session) applyLocked(token string, claims *jwtx.Claims) {
	s.token = token
	s.claims = claims
}

// clearLocked drops the token. Logout also forgets the organization list.
func (s *Session) clearLocked(forgetOrganizations bool) {
	s.token = ""
	s.claims = nil
	if forgetOrganizations {
		s.organizations = nil
	}
	s.epoch++
	s.stopTimerLocked()
}

// scheduleLocked replaces any pending refresh timer with one firing
// RefreshAhead before the token expires, but never sooner than
// MinRefreshDelay from now.
func (s *Session) scheduleLocked(claims *jwtx.Claims) {
	now := s.now()
	delay := claims.Remaining(now) - s.refreshAhead
	if delay < s.minRefreshDelay {
		delay = s.minRefreshDelay
	}

	s.stopTimerLocked()
	gen := s.timerGen
	s.nextRefresh = now.Add(delay)
	s.refreshTimer = s.afterFunc(delay, func() { s.onRefreshTimer(gen) })
}

// stopTimerLocked cancels the pending timer. Bumping the generation also
// neutralises a callback that has already started.
func (s *Session) stopTimerLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.timerGen++
	s.nextRefresh = time.Time{}
}

func (s *Session) onRefreshTimer(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = nil
	s.nextRefresh = time.Time{}
	s.mu.Unlock()

	if _, err := s.RefreshSession(s.baseCtx); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn("scheduled refresh failed", "err", err)
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	if s.closed || len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	st := s.snapshotLocked()
	fns := make([]func(AuthState), len(s.listeners))
	for i, l := range s.listeners {
		fns[i] = l.fn
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (s *Session) statusLocked() Status {
	switch {
	case s.loggingOut:
		return StatusLoggingOut
	case s.resolving:
		return StatusResolvingConfig
	case s.resolved == nil:
		return StatusUninitialized
	case s.token != "" && s.claims != nil && s.claims.Org != nil:
		return StatusAuthenticated
	case s.inflight != nil || s.bootstrapping:
		return StatusRefreshing
	case !s.bootstrapped:
		return StatusUninitialized
	default:
		return StatusUnauthenticated
	}
}

func (s *Session) snapshotLocked() AuthState {
	st := AuthState{
		Status:        s.statusLocked(),
		IsLoading:     s.resolved == nil || !s.bootstrapped,
		IsLoggingOut:  s.loggingOut,
		Organizations: append([]Organization{}, s.organizations...),
		OrgRole:       jwtx.RoleMember,
		AccessToken:   s.token,
	}

	if s.claims != nil {
		st.User = userFromClaims(s.claims)
		st.Organization = organizationFromClaims(s.claims)
		st.OrgRole = s.claims.Role()
		st.IsSuperAdmin = s.claims.IsSuperAdmin
	}

	st.IsAuthenticated = isAuthenticated(st.AccessToken, st.Organization)
	st.IsAdmin = st.OrgRole == jwtx.RoleAdmin || st.OrgRole == jwtx.RoleOwner
	st.IsOwner = st.OrgRole == jwtx.RoleOwner
	return st
}

// isAuthenticated requires organization membership as well as a token.
func isAuthenticated(token string, org *Organization) bool {
	return token != "" && org != nil
}

func userFromClaims(c *jwtx.Claims) *User {
	name := c.Name
	if name == "" {
		name = "User"
	}

	role := jwtx.RoleMember
	if c.Org != nil && (c.Org.Role == jwtx.RoleOwner || c.Org.Role == jwtx.RoleAdmin) {
		role = jwtx.RoleAdmin
	}

	return &User{
		ID:       c.Subject,
		Email:    c.Email,
		Name:     name,
		Role:     role,
		ImageURL: c.AvatarURL,
	}
}

func organizationFromClaims(c *jwtx.Claims) *Organization {
	if c.Org == nil {
		return nil
	}
	return &Organization{
		ID:   c.Org.ID,
		Name: c.Org.Name,
		Slug: c.Org.Slug,
	}
}
