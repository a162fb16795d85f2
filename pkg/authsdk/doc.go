/*
Package authsdk is a client SDK for applications that sign users in through
a multi-tenant auth service and keep their session alive with a cookie-based
refresh endpoint.

# Overview

The package is organized around a few types:

  - SDKClient: stateless HTTP calls to the auth service and the app backend
  - Session: the authentication state machine for one application instance
  - CallbackHandler: the one-shot OAuth redirect handler
  - ProviderCache: a shared, time-bounded cache of enabled sign-in providers

# Sessions

Create a Session from a Config and start it. Start resolves any missing URLs
(using the auth service's discovery endpoint when AppURL is empty) and then
performs the initial refresh:

	session, err := authsdk.NewSession(authsdk.Config{
		ClientID: "my-app",
		AppURL:   "https://app.example.com",
	}, authsdk.Options{})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		log.Printf("initial refresh failed: %v", err)
	}

	st := session.State()
	if st.IsAuthenticated {
		fmt.Println("signed in to", st.Organization.Name)
	}

A session is authenticated only when it holds a token and the token names an
active organization.

# Token Refresh

After every successful refresh the session schedules the next one a minute
before the token expires, and never sooner than ten seconds out. Only one
refresh request is ever in flight: a concurrent RefreshSession returns ""
immediately. Use GetAccessToken rather than reading the raw token; it returns
the held token while it has more than a minute left and refreshes otherwise.

For libraries that accept an oauth2.TokenSource or an *http.Client:

	client := session.AuthenticatedClient(ctx)
	resp, err := client.Get("https://api.example.com/things")

# Cookies

The refresh credential is a cookie set by the backend during the code
exchange. SDKClient keeps it in its http.CookieJar, in memory by default.
Hosts that need the session to outlive the process supply a persistent jar
through ClientOptions.Jar.

# Callback

Serve a CallbackHandler at the redirect URI path (CallbackPath). It exchanges
the code once, resynchronizes the session and redirects to the path carried
in the state parameter:

	mux.Handle(authsdk.CallbackPath, session.NewCallbackHandler(authsdk.CallbackOptions{}))

# Errors

Refresh, organization list and discovery failures never change the session
beyond what is described on each method; the error is still returned for
callers that want to log it. Non-2xx responses are *APIError values, sign-in
failures reported by the auth service are *OAuthProviderError values.

# Thread Safety

Session, ProviderCache and ProviderWatcher are safe for concurrent use.
Subscribers are called outside internal locks and may call back into the
session.
*/
package authsdk
