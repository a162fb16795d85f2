package app

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/httpx"
	"github.com/aussiebroadwan/tenantauth/pkg/slogx"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>{{.Title}}</title></head>
<body style="padding:2rem;text-align:center;font-family:sans-serif">
<h2>{{.Title}}</h2><p>{{.Message}}</p>
</body></html>`))

// callbackServer receives the OAuth redirect on the loopback interface and
// reports the outcome of the first callback.
type callbackServer struct {
	log     *slog.Logger
	handler *authsdk.CallbackHandler
	srv     *http.Server
	ln      net.Listener

	once sync.Once
	done chan error
}

func newCallbackServer(session *authsdk.Session, port int, logger *slog.Logger) *callbackServer {
	cs := &callbackServer{
		log:     logger,
		handler: session.NewCallbackHandler(authsdk.CallbackOptions{}),
		done:    make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+authsdk.CallbackPath, cs.handleCallback)
	mux.HandleFunc("GET "+authsdk.LoginPath, cs.handleLoginError)
	mux.HandleFunc("GET /{$}", cs.handleDone)

	cs.srv = &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Handler:           httpx.Chain(mux, slogx.HTTPMiddleware(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return cs
}

// Start binds the port; serving continues in the background.
func (cs *callbackServer) Start() error {
	ln, err := net.Listen("tcp", cs.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for the login callback on %s: %w", cs.srv.Addr, err)
	}
	cs.ln = ln

	go func() {
		if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cs.log.Error("callback server failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until a callback completes or ctx ends.
func (cs *callbackServer) Wait(ctx context.Context) error {
	select {
	case err := <-cs.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("login did not complete: %w", ctx.Err())
	}
}

func (cs *callbackServer) Shutdown(ctx context.Context) error {
	return cs.srv.Shutdown(ctx)
}

func (cs *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Only a redirect from the auth service may use up the handler.
	if q := r.URL.Query(); q.Get("code") == "" && q.Get("error") == "" {
		cs.log.DebugContext(r.Context(), "callback without code or error ignored")
		renderPage(w, http.StatusBadRequest, "Sign in failed", authsdk.MessageMissingCode)
		return
	}

	cs.handler.ServeHTTP(w, r)
	cs.finish(callbackOutcome(r.URL.Query(), cs.handler.Failure()))
}

func (cs *callbackServer) finish(err error) {
	cs.once.Do(func() { cs.done <- err })
}

func callbackOutcome(q url.Values, failure string) error {
	if code := q.Get("error"); code != "" {
		return &authsdk.OAuthProviderError{Code: code}
	}
	if failure != "" {
		return errors.New(failure)
	}
	return nil
}

func (cs *callbackServer) handleLoginError(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusUnauthorized, "Sign in failed", authsdk.LoginErrorMessage(r.URL.Query().Get("error")))
}

func (cs *callbackServer) handleDone(w http.ResponseWriter, _ *http.Request) {
	renderPage(w, http.StatusOK, "Signed in", "You can close this window and return to the terminal.")
}

func renderPage(w http.ResponseWriter, status int, title, message string) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, struct{ Title, Message string }{title, message})
}
