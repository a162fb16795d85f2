// Package authsdktest runs an in-process fake of the auth service and the
// app backend routes the SDK talks to. Tests drive it with request
// counters, injected failures and gates.
package authsdktest

import (
	"crypto/ed25519"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/cryptox"
	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
)

// Endpoint names used by Count, Fail, SetLatency and Hold.
const (
	EndpointDiscovery     = "discovery"
	EndpointAuthorize     = "authorize"
	EndpointExchange      = "exchange"
	EndpointRefresh       = "refresh"
	EndpointLogout        = "logout"
	EndpointSwitchOrg     = "switch-org"
	EndpointOrganizations = "organizations"
	EndpointProviders     = "providers"
	EndpointConnections   = "connections"
	EndpointConnect       = "connect"
)

// SessionCookie carries the server-side session ID.
const SessionCookie = "tenantauth_session"

// Issuer is the "iss" claim of minted tokens.
const Issuer = "authsdktest"

// Membership places a user in an organization.
type Membership struct {
	OrgID string
	Name  string
	Slug  string
	Role  string
}

// User is an account known to the fake service.
type User struct {
	ID          string
	Email       string
	Name        string
	AvatarURL   string
	SuperAdmin  bool
	Memberships []Membership
}

func (u User) membership(orgID string) (Membership, bool) {
	for _, m := range u.Memberships {
		if m.OrgID == orgID {
			return m, true
		}
	}
	return Membership{}, false
}

// ClientApp is the discovery record of a registered client.
type ClientApp struct {
	AppURL string
	APIURL string
}

// Provider is one entry of GET /providers.
type Provider struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Connection is one entry of the connection status endpoint.
type Connection struct {
	Provider    string `json:"provider"`
	Connected   bool   `json:"connected"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status,omitempty"`
}

type failure struct {
	status  int
	message string
}

type serverSession struct {
	userID string
	orgID  string
}

// Server is the fake service. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	signer jwtx.Signer
	pub    ed25519.PublicKey

	mu            sync.Mutex
	now           func() time.Time
	tokenTTL      time.Duration
	users         map[string]User
	sessions      map[string]*serverSession
	codes         map[string]string
	clients       map[string]ClientApp
	providers     []Provider
	emailEnabled  bool
	connections   []Connection
	authorizeUser string
	lastAuthorize url.Values
	lastConnect   url.Values

	counts   map[string]int
	failures map[string]failure
	latency  map[string]time.Duration
	gates    map[string]chan struct{}
}

// New starts a server that is closed when tb finishes.
func New(tb testing.TB) *Server {
	tb.Helper()

	signer, err := jwtx.NewSignerEdDSA("authsdktest")
	if err != nil {
		tb.Fatalf("authsdktest: create signer: %v", err)
	}

	s := &Server{
		signer:   signer,
		pub:      signer.(*jwtx.EdDSASigner).PublicKey(),
		now:      time.Now,
		tokenTTL: jwtx.DefaultAccessTokenTTL,
		users:    make(map[string]User),
		sessions: make(map[string]*serverSession),
		codes:    make(map[string]string),
		clients:  make(map[string]ClientApp),
		counts:   make(map[string]int),
		failures: make(map[string]failure),
		latency:  make(map[string]time.Duration),
		gates:    make(map[string]chan struct{}),
	}

	s.Server = httptest.NewServer(s.routes(slogx.Discard()))
	tb.Cleanup(s.Close)

	return s
}

func (s *Server) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/client-apps/{clientID}/config", s.endpoint(EndpointDiscovery, s.handleDiscovery))
	mux.Handle("GET /authorize", s.endpoint(EndpointAuthorize, s.handleAuthorize))
	mux.Handle("GET /api/auth/callback", s.endpoint(EndpointExchange, s.handleExchange))
	mux.Handle("POST /auth/refresh", s.endpoint(EndpointRefresh, s.handleRefresh))
	mux.Handle("POST /auth/logout", s.endpoint(EndpointLogout, s.handleLogout))
	mux.Handle("POST /auth/switch-org", s.endpoint(EndpointSwitchOrg, s.handleSwitchOrg))
	mux.Handle("GET /api/organizations", s.endpoint(EndpointOrganizations, s.handleOrganizations))
	mux.Handle("GET /providers", s.endpoint(EndpointProviders, s.handleProviders))
	mux.Handle("GET /api/connections/status", s.endpoint(EndpointConnections, s.handleConnections))
	mux.Handle("GET /api/connections/{provider}/authorize", s.endpoint(EndpointConnect, s.handleConnect))

	return httpx.Chain(mux, slogx.HTTPMiddleware(logger))
}

// endpoint counts the request and applies injected latency, gates and
// failures before calling h.
func (s *Server) endpoint(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[name]++
		delay := s.latency[name]
		gate := s.gates[name]
		fail, failing := s.failures[name]
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			if fail.message == "" {
				w.WriteHeader(fail.status)
				return
			}
			httpx.WriteJSON(w, fail.status, map[string]string{"error": fail.message})
			return
		}

		h(w, r)
	})
}

// ============================================================================
// Test controls
// ============================================================================

// Count returns how many requests reached endpoint.
func (s *Server) Count(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[endpoint]
}

// ResetCounts zeroes all request counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
}

// Fail makes endpoint answer with status. A non-empty message is sent as
// the JSON "error" field; an empty one sends no body.
func (s *Server) Fail(endpoint string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = failure{status: status, message: message}
}

// Restore undoes Fail.
func (s *Server) Restore(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, endpoint)
}

// SetLatency delays every response of endpoint by d.
func (s *Server) SetLatency(endpoint string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[endpoint] = d
}

// Hold makes requests to endpoint block until the returned release is
// called. Requests are counted before they block.
func (s *Server) Hold(endpoint string) (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.gates[endpoint] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[endpoint] == gate {
				delete(s.gates, endpoint)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// SetClock replaces the clock used for token timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetTokenTTL sets the lifetime of tokens minted from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// AddUser registers or replaces a user.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// RegisterClient makes discovery return app for clientID.
func (s *Server) RegisterClient(clientID string, app ClientApp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = app
}

// SetProviders sets the provider list served for every client.
func (s *Server) SetProviders(providers []Provider, emailEnabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append([]Provider(nil), providers...)
	s.emailEnabled = emailEnabled
}

// SetConnections sets the connection list served to authenticated callers.
func (s *Server) SetConnections(conns []Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append([]Connection(nil), conns...)
}

// SetAuthorizeUser picks the account that "signs in" when the authorize
// endpoint is visited. Empty simulates an unknown account.
func (s *Server) SetAuthorizeUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizeUser = userID
}

// LastAuthorize returns the query of the most recent authorize request.
func (s *Server) LastAuthorize() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthorize
}

// LastConnect returns the query of the most recent connect request.
func (s *Server) LastConnect() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConnect
}

// IssueCode returns a single-use authorization code for userID.
func (s *Server) IssueCode(userID string) string {
	code := cryptox.MustGenerateToken(cryptox.TokenSize128)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = userID
	return code
}

// SignIn creates a server session for userID in orgID and stores its
// cookie in jar for baseURL, as a completed code exchange would.
func (s *Server) SignIn(jar http.CookieJar, baseURL, userID, orgID string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[id] = &serverSession{userID: userID, orgID: orgID}
	s.mu.Unlock()

	jar.SetCookies(u, []*http.Cookie{sessionCookie(id)})
	return nil
}

// Mint signs a token for userID in orgID outside of any session.
func (s *Server) Mint(userID, orgID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(&serverSession{userID: userID, orgID: orgID})
}

// Sessions returns the number of live server sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Transport returns a round tripper that sends every request to this
// server whatever its host, so tests can use realistic URLs like
// https://app.example.
func (s *Server) Transport() http.RoundTripper {
	target, _ := url.Parse(s.URL)
	return &rewriteTransport{target: target, base: s.Client().Transport}
}

type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	return t.base.RoundTrip(r)
}

func sessionCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
