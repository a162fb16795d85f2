package authsdktest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/tenantauth/pkg/cryptox"
	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Role string `json:"role"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	httpx.WriteJSON(w, status, map[string]string{"error": code})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	app, ok := s.clients[r.PathValue("clientID")]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown_client")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"appUrl": app.AppURL,
		"apiUrl": app.APIURL,
	})
}

// handleAuthorize signs in the configured user without any UI and sends the
// browser back to redirect_uri.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirectURI.IsAbs() || q.Get("client_id") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	s.lastAuthorize = q
	userID := s.authorizeUser
	_, known := s.users[userID]
	s.mu.Unlock()

	back := url.Values{}
	if state := q.Get("state"); state != "" {
		back.Set("state", state)
	}

	switch {
	case q.Get("provider") == "broken":
		back.Set("error", "oauth_failed")
	case !known:
		back.Set("error", "account_not_found")
	default:
		back.Set("code", s.IssueCode(userID))
	}

	redirectURI.RawQuery = back.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")

	s.mu.Lock()
	userID, ok := s.codes[code]
	delete(s.codes, code)
	u, known := s.users[userID]
	s.mu.Unlock()

	if !ok || !known {
		writeError(w, http.StatusBadRequest, "invalid_code")
		return
	}

	sess := &serverSession{userID: u.ID}
	if len(u.Memberships) > 0 {
		sess.orgID = u.Memberships[0].OrgID
	}

	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.mu.Lock()
	s.sessions[id] = sess
	token, err := s.mintLocked(sess)
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	http.SetCookie(w, sessionCookie(id))
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessionLocked(r)
	var token string
	var err error
	if ok {
		token, err = s.mintLocked(sess)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusUnauthorized, "invalid_session")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error")
	default:
		httpx.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}

	expired := sessionCookie("")
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitchOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID string `json:"org_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionLocked(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_session")
		return
	}

	if _, member := s.users[sess.userID].membership(req.OrgID); !member {
		writeError(w, http.StatusForbidden, "not_a_member")
		return
	}

	sess.orgID = req.OrgID
	token, err := s.mintLocked(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (s *Server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	s.mu.Lock()
	u := s.users[claims.Subject]
	s.mu.Unlock()

	orgs := make([]organization, 0, len(u.Memberships))
	for _, m := range u.Memberships {
		orgs = append(orgs, organization{ID: m.OrgID, Name: m.Name, Slug: m.Slug, Role: m.Role})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("client_id") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	providers := append([]Provider{}, s.providers...)
	emailEnabled := s.emailEnabled
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"providers":    providers,
		"emailEnabled": emailEnabled,
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.verify(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")); !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	s.mu.Lock()
	conns := append([]Connection{}, s.connections...)
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, ok := s.verify(q.Get("token")); !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	s.mu.Lock()
	s.lastConnect = q
	s.mu.Unlock()

	http.Redirect(w, r, q.Get("redirect_uri"), http.StatusFound)
}

func (s *Server) sessionLocked(r *http.Request) (*serverSession, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	sess, ok := s.sessions[c.Value]
	return sess, ok
}

func (s *Server) mintLocked(sess *serverSession) (string, error) {
	u := s.users[sess.userID]

	var org *jwtx.OrgClaim
	if m, ok := u.membership(sess.orgID); ok {
		org = &jwtx.OrgClaim{ID: m.OrgID, Name: m.Name, Slug: m.Slug, Role: m.Role}
	}

	claims := jwtx.NewAccessClaims(u.ID, u.Email, u.Name, org, u.SuperAdmin, s.tokenTTL, Issuer, s.now())
	claims.AvatarURL = u.AvatarURL

	return s.signer.Sign(claims)
}

// verify checks a bearer token's signature and expiry.
func (s *Server) verify(raw string) (*jwtx.Claims, bool) {
	if raw == "" {
		return nil, false
	}

	s.mu.Lock()
	now := s.now
	s.mu.Unlock()

	claims := &jwtx.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, false
	}
	return claims, true
}
