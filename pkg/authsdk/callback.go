package authsdk

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
)

// LoginPath is where failed callbacks send the user when no error handler
// is registered.
const LoginPath = "/login"

// CallbackParams are the query parameters the auth service appends to the
// redirect URI.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// ParseCallbackParams reads code, state and error from a callback query.
func ParseCallbackParams(q url.Values) CallbackParams {
	return CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}
}

// CallbackOptions configure a CallbackHandler.
type CallbackOptions struct {
	// APIURL overrides the base URL of the code exchange.
	APIURL string

	// ExchangePath is the exchange endpoint path. Empty means "/api/auth/callback".
	ExchangePath string

	// OnSuccess receives the decoded return path. When nil the handler
	// navigates there.
	OnSuccess func(returnTo string)

	// OnError receives a displayable message. When nil, provider errors
	// redirect to LoginPath.
	OnError func(message string)

	// Navigator defaults to the session's navigator.
	Navigator Navigator
}

// CallbackHandler completes the OAuth redirect. Each handler exchanges at
// most one code: create one per callback page load.
type CallbackHandler struct {
	s    *Session
	opts CallbackOptions

	handled atomic.Bool

	mu      sync.Mutex
	failure string
}

// NewCallbackHandler returns a handler bound to s.
func (s *Session) NewCallbackHandler(opts CallbackOptions) *CallbackHandler {
	if opts.ExchangePath == "" {
		opts.ExchangePath = ExchangePath
	}
	return &CallbackHandler{s: s, opts: opts}
}

// Failure returns the message of the last failure, if any.
func (h *CallbackHandler) Failure() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// Handle processes the callback URL u and returns the path to continue to.
// A second call on the same handler returns ErrCallbackHandled without
// doing anything.
func (h *CallbackHandler) Handle(ctx context.Context, u *url.URL) (string, error) {
	nav := h.opts.Navigator
	if nav == nil {
		nav = h.s.nav
	}
	return h.handle(ctx, u, nav)
}

func (h *CallbackHandler) handle(ctx context.Context, u *url.URL, nav Navigator) (string, error) {
	// The guard is taken before anything can suspend.
	if !h.handled.CompareAndSwap(false, true) {
		return "", ErrCallbackHandled
	}

	log := h.s.log
	p := ParseCallbackParams(u.Query())

	if p.Error != "" {
		h.fail(p.Error)
		oauthErr := &OAuthProviderError{Code: p.Error}

		if h.opts.OnError != nil {
			h.opts.OnError(p.Error)
			return "", oauthErr
		}

		target := h.loginURL(u, p.Error, DecodeState(p.State))
		if err := nav.Navigate(ctx, target); err != nil {
			log.WarnContext(ctx, "failed to navigate to login page", "err", err)
		}
		return "", oauthErr
	}

	if p.Code == "" {
		h.fail(MessageMissingCode)
		if h.opts.OnError != nil {
			h.opts.OnError(MessageMissingCode)
		}
		return "", ErrMissingAuthorizationCode
	}

	if err := h.s.client.ExchangeCode(ctx, h.exchangeBase(u), h.opts.ExchangePath, p.Code); err != nil {
		msg := ErrorMessage(err, MessageAuthenticationFailed)
		log.WarnContext(ctx, "code exchange failed", "err", err)
		h.fail(msg)
		if h.opts.OnError != nil {
			h.opts.OnError(msg)
		}
		return "", err
	}

	// The exchange set a fresh session cookie; pick it up now.
	if _, err := h.s.resync(ctx); err != nil {
		log.WarnContext(ctx, "refresh after code exchange failed", "err", err)
	}

	returnTo := DecodeState(p.State)
	if h.opts.OnSuccess != nil {
		h.opts.OnSuccess(returnTo)
		return returnTo, nil
	}

	if err := nav.Navigate(ctx, h.resolve(u, returnTo)); err != nil {
		return returnTo, err
	}
	return returnTo, nil
}

func (h *CallbackHandler) fail(msg string) {
	h.mu.Lock()
	h.failure = msg
	h.mu.Unlock()
}

// exchangeBase picks the code exchange base URL: explicit override, then
// the resolved API URL (which already falls back to the app URL), then the
// origin of the callback URL.
func (h *CallbackHandler) exchangeBase(u *url.URL) string {
	if h.opts.APIURL != "" {
		return trimBase(h.opts.APIURL)
	}
	if r, ok := h.s.Config(); ok {
		return r.APIURL
	}
	return h.origin(u)
}

// origin is the scheme and host the callback was served from.
func (h *CallbackHandler) origin(u *url.URL) string {
	if u.IsAbs() {
		return u.Scheme + "://" + u.Host
	}
	if h.s.origin != "" {
		return trimBase(h.s.origin)
	}
	if r, ok := h.s.Config(); ok {
		return r.AppURL
	}
	return ""
}

func (h *CallbackHandler) resolve(u *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil || ref.IsAbs() || ref.Host != "" {
		// Only same-origin paths are followed.
		ref = &url.URL{Path: "/"}
	}

	base, err := url.Parse(h.origin(u) + "/")
	if err != nil || base.Host == "" {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func (h *CallbackHandler) loginURL(u *url.URL, code, returnTo string) string {
	q := url.Values{"error": {code}}
	if returnTo != "/" {
		q.Set("returnTo", returnTo)
	}
	return h.resolve(u, LoginPath) + "?" + q.Encode()
}

// ServeHTTP serves the callback route. Navigation becomes a 302 and failures
// render a short page with a link home.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u := *r.URL
	if !u.IsAbs() && r.Host != "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
		u.Host = r.Host
	}

	redirected := false
	nav := NavigatorFunc(func(_ context.Context, target string) error {
		redirected = true
		httpx.NoCache(w)
		http.Redirect(w, r, target, http.StatusFound)
		return nil
	})

	_, err := h.handle(ctx, &u, nav)
	if redirected {
		return
	}

	switch {
	case errors.Is(err, ErrCallbackHandled):
		slogx.FromContext(ctx).DebugContext(ctx, "duplicate callback request ignored")
		httpx.WriteHTML(w, http.StatusConflict, resultPage("Already signed in", "This sign-in link has already been used."))
	case err != nil:
		httpx.WriteHTML(w, http.StatusBadRequest, resultPage("Authentication Failed", h.Failure()))
	default:
		httpx.WriteHTML(w, http.StatusOK, resultPage("Signed in", "You can close this window."))
	}
}

var resultTemplate = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><title>{{.Title}}</title></head>
<body style="padding:2rem;text-align:center;font-family:sans-serif">
<h2>{{.Title}}</h2><p>{{.Message}}</p>
<a href="/">Go Home</a>
</body></html>`))

func resultPage(title, message string) string {
	var b strings.Builder
	_ = resultTemplate.Execute(&b, struct{ Title, Message string }{title, message})
	return b.String()
}
