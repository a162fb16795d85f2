package authsdk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
)

// Sign-in modes understood by the authorize endpoint.
const (
	ModeSignIn = "signin"
	ModeSignUp = "signup"
)

// LoginOptions customise the authorize redirect.
type LoginOptions struct {
	// Provider hints which upstream identity provider to use, e.g. "github".
	Provider string

	// Mode is ModeSignIn, ModeSignUp or empty.
	Mode string

	// ReturnTo is the path to land on after sign-in. Defaults to the
	// session's current path.
	ReturnTo string
}

// AuthorizeURL builds the auth service URL that starts the OAuth flow.
func (r ResolvedConfig) AuthorizeURL(opts LoginOptions) (string, error) {
	if opts.Mode != "" && opts.Mode != ModeSignIn && opts.Mode != ModeSignUp {
		return "", fmt.Errorf("authsdk: unknown login mode %q", opts.Mode)
	}

	returnTo := opts.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}

	params := url.Values{
		"client_id":    {r.ClientID},
		"redirect_uri": {r.RedirectURI()},
		"state":        {EncodeState(returnTo)},
	}
	if opts.Provider != "" {
		params.Set("provider", opts.Provider)
	}
	if opts.Mode != "" {
		params.Set("mode", opts.Mode)
	}

	return r.AuthURL + "/authorize?" + params.Encode(), nil
}

type callbackState struct {
	ReturnTo string `json:"returnTo"`
}

// EncodeState packs returnTo into the opaque state parameter. The auth
// service echoes it back unmodified; it is not a CSRF token.
func EncodeState(returnTo string) string {
	buf, _ := json.Marshal(callbackState{ReturnTo: returnTo})
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeState extracts returnTo from a state parameter. Anything that does
// not decode yields "/".
func DecodeState(state string) string {
	if state == "" {
		return "/"
	}

	// Query decoding turns an unescaped "+" into a space.
	raw, err := jwtx.DecodeSegment(strings.ReplaceAll(state, " ", "+"))
	if err != nil {
		return "/"
	}

	var st callbackState
	if err := json.Unmarshal(raw, &st); err != nil || st.ReturnTo == "" {
		return "/"
	}
	return st.ReturnTo
}
