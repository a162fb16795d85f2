package authsdk

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
	"golang.org/x/oauth2"
)

type sessionTokenSource struct {
	ctx context.Context
	s   *Session
}

// Token implements oauth2.TokenSource. The reported expiry is the refresh
// point rather than the real expiry, so a caching layer asks again in time.
func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.s.GetAccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	claims, err := jwtx.Decode(token)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      claims.ExpiresAtTime().Add(-RefreshAhead),
	}, nil
}

// TokenSource exposes the session as an oauth2.TokenSource for use with
// libraries that accept one.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &sessionTokenSource{ctx: ctx, s: s})
}

// AuthenticatedClient returns an HTTP client that adds the bearer token to
// every request and shares the session's cookie jar and timeout.
func (s *Session) AuthenticatedClient(ctx context.Context) *http.Client {
	base := s.client.HTTPClient
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), s.TokenSource(ctx))
	client.Jar = base.Jar
	client.Timeout = base.Timeout
	return client
}
