package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
)

var (
	// ErrMalformedToken is returned when an access token cannot be decoded.
	ErrMalformedToken = jwtx.ErrMalformedToken

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("authsdk: invalid config")

	// ErrConfigNotResolved is returned by operations that need the app or API
	// URL before Resolve has completed.
	ErrConfigNotResolved = errors.New("authsdk: config not resolved")

	ErrMissingAuthorizationCode = errors.New("authsdk: missing authorization code")
	ErrNotAuthenticated         = errors.New("authsdk: not authenticated")
	ErrNoOrganization           = errors.New("authsdk: no organization selected")
	ErrCallbackHandled          = errors.New("authsdk: callback already handled")
	ErrSessionClosed            = errors.New("authsdk: session closed")
)

// User-facing fallback messages.
const (
	MessageAuthenticationFailed   = "Authentication failed"
	MessageMissingCode            = "Missing authorization code"
	MessageProvidersFetchFailed   = "Failed to fetch providers"
	messageConnectionsFetchFailed = "Failed to fetch connection status"
)

// APIError is a non-2xx response from the auth service or the app backend.
// Message carries the body's "error" field when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authsdk: HTTP %d: %s", e.StatusCode, e.Message)
}

// OAuthProviderError carries the "error" query parameter the auth service
// appends to the callback URL when sign-in failed upstream.
type OAuthProviderError struct {
	Code string
}

func (e *OAuthProviderError) Error() string {
	return "authsdk: sign-in failed: " + e.Code
}

// Message returns the user-facing text for the error code.
func (e *OAuthProviderError) Message() string {
	return LoginErrorMessage(e.Code)
}

var loginErrorMessages = map[string]string{
	"account_not_found": "No account found with that login. Sign up to create one.",
	"oauth_failed":      "Something went wrong during sign in. Please try again.",
	"missing_code":      "Authorization failed. Please try again.",
	"invalid_state":     "Session expired. Please try again.",
}

// LoginErrorMessage maps an auth-service error code to text suitable for a
// sign-in page.
func LoginErrorMessage(code string) string {
	if msg, ok := loginErrorMessages[code]; ok {
		return msg
	}
	return "Authentication error: " + code
}

// SuggestsSignup reports whether the sign-in page should switch to the
// sign-up mode for this error code.
func SuggestsSignup(code string) bool {
	return code == "account_not_found"
}

// ErrorMessage extracts a message for display from any error returned by
// this package, using fallback for transport and decode failures.
func ErrorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var oauthErr *OAuthProviderError
	if errors.As(err, &oauthErr) {
		return oauthErr.Code
	}
	if errors.Is(err, ErrMissingAuthorizationCode) {
		return MessageMissingCode
	}
	return fallback
}

// parseErrorResponse builds an APIError from a non-2xx response body.
func parseErrorResponse(resp *http.Response, body []byte, fallback string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := fallback
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
