package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/cryptox"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
	"golang.org/x/net/publicsuffix"
)

// CookieSealInfo is the HKDF label for the key that seals cookie values.
const CookieSealInfo = "tenantauth/authctl cookie v1"

// persistTimeout bounds each write made from SetCookies, which has no
// context of its own.
const persistTimeout = 5 * time.Second

// PersistentJar is an http.CookieJar whose cookies survive the process.
// Matching is done by an in-memory net/http/cookiejar; every accepted or
// deleted cookie is mirrored to the store with its value sealed.
type PersistentJar struct {
	cookies Cookies
	sealer  *cryptox.Sealer
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	inner *cookiejar.Jar
}

// OpenJar loads the unexpired cookies from cookies into a new jar. Expired
// rows are pruned. Rows that no longer open with sealer, e.g. after the
// master key changed, are dropped.
func OpenJar(ctx context.Context, cookies Cookies, sealer *cryptox.Sealer, logger *slog.Logger) (*PersistentJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("store: create cookie jar: %w", err)
	}

	j := &PersistentJar{
		cookies: cookies,
		sealer:  sealer,
		log:     slogx.OrDefault(logger),
		now:     time.Now,
		inner:   inner,
	}

	if err := j.load(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *PersistentJar) load(ctx context.Context) error {
	now := j.now()

	pruned, err := j.cookies.DeleteExpiredCookies(ctx, now)
	if err != nil {
		return fmt.Errorf("store: prune cookies: %w", err)
	}
	if pruned > 0 {
		j.log.DebugContext(ctx, "expired cookies pruned", "count", pruned)
	}

	rows, err := j.cookies.ListCookies(ctx, now)
	if err != nil {
		return fmt.Errorf("store: list cookies: %w", err)
	}

	for _, row := range rows {
		value, err := j.sealer.Open(row.SealedValue, []byte(row.CookieKey.String()))
		if err != nil {
			j.log.WarnContext(ctx, "dropping cookie that cannot be opened",
				"domain", row.Domain,
				"name", row.Name,
				"err", err,
			)
			if err := j.cookies.DeleteCookie(ctx, row.CookieKey); err != nil {
				return fmt.Errorf("store: delete cookie: %w", err)
			}
			continue
		}

		u, c := row.httpCookie(string(value))
		j.inner.SetCookies(u, []*http.Cookie{c})
	}

	return nil
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// SetCookies implements http.CookieJar. Persistence failures are logged;
// the in-memory jar stays authoritative for this process.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	for _, c := range cookies {
		row := cookieRow(u, c)
		if err := j.persist(ctx, u, row, c); err != nil {
			j.log.WarnContext(ctx, "failed to persist cookie",
				"domain", row.Domain,
				"name", row.Name,
				"err", err,
			)
		}
	}
}

func (j *PersistentJar) persist(ctx context.Context, u *url.URL, row Cookie, c *http.Cookie) error {
	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.now())) {
		return j.cookies.DeleteCookie(ctx, row.CookieKey)
	}

	// Only mirror what the in-memory jar kept; it rejects cookies for
	// foreign domains and public suffixes.
	if !j.holdsLocked(u.Scheme, row, c.Value) {
		return nil
	}

	sealed, err := j.sealer.Seal([]byte(c.Value), []byte(row.CookieKey.String()))
	if err != nil {
		return err
	}
	row.SealedValue = sealed

	if existing, err := j.cookies.GetCookie(ctx, row.CookieKey); err == nil {
		row.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	return j.cookies.UpsertCookie(ctx, row)
}

// holdsLocked reports whether the in-memory jar has row with value.
func (j *PersistentJar) holdsLocked(scheme string, row Cookie, value string) bool {
	if row.Secure {
		scheme = "https"
	}
	probe := &url.URL{Scheme: scheme, Host: row.Domain, Path: row.Path}

	for _, c := range j.inner.Cookies(probe) {
		if c.Name == row.Name && c.Value == value {
			return true
		}
	}
	return false
}

// Clear removes every cookie from the jar and the store.
func (j *PersistentJar) Clear(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("store: create cookie jar: %w", err)
	}
	j.inner = inner

	if err := j.cookies.DeleteAllCookies(ctx); err != nil {
		return fmt.Errorf("store: clear cookies: %w", err)
	}
	return nil
}

// cookieRow derives the storage key and attributes of c as received from u,
// following the RFC 6265 defaults for domain and path.
func cookieRow(u *url.URL, c *http.Cookie) Cookie {
	row := Cookie{
		HostOnly: true,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: sameSiteName(c.SameSite),
	}

	row.Domain = strings.ToLower(u.Hostname())
	if d := strings.TrimPrefix(strings.ToLower(c.Domain), "."); d != "" {
		row.Domain = d
		row.HostOnly = false
	}

	row.Path = c.Path
	if row.Path == "" || row.Path[0] != '/' {
		row.Path = defaultPath(u.Path)
	}

	row.Name = c.Name

	switch {
	case c.MaxAge > 0:
		exp := time.Now().Add(time.Duration(c.MaxAge) * time.Second)
		row.ExpiresAt = &exp
	case !c.Expires.IsZero():
		exp := c.Expires
		row.ExpiresAt = &exp
	}

	return row
}

// httpCookie rebuilds a cookie and the URL to set it from.
func (c Cookie) httpCookie(value string) (*url.URL, *http.Cookie) {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: c.Domain, Path: c.Path}

	hc := &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: sameSiteFromName(c.SameSite),
	}
	if !c.HostOnly {
		hc.Domain = c.Domain
	}
	if c.ExpiresAt != nil {
		hc.Expires = *c.ExpiresAt
	}

	return u, hc
}

func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return ""
	}
}

func sameSiteFromName(s string) http.SameSite {
	switch s {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
