package jwtx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

var segmentAlphabet = strings.NewReplacer("+", "-", "/", "_")

// Decode extracts the claims from the payload segment of token without
// verifying its signature, expiry or issuer. That is the auth service's job;
// clients only need to read what they were handed.
//
// Both the URL-safe and the standard base64 alphabet are accepted, padded or
// not. Anything that does not yield a JSON object is ErrMalformedToken.
func Decode(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil, fmt.Errorf("%w: missing payload segment", ErrMalformedToken)
	}

	raw, err := DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}

	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return &claims, nil
}

// DecodeSegment decodes one base64url token segment, tolerating padding and
// the "+" and "/" characters of the standard alphabet.
func DecodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	seg = segmentAlphabet.Replace(seg)
	return base64.RawURLEncoding.DecodeString(seg)
}
