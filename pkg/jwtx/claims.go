package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the lifetime the auth service gives access tokens
// unless configured otherwise.
const DefaultAccessTokenTTL = 15 * time.Minute

var (
	ErrMalformedToken = errors.New("jwtx: malformed token")
)

// Organization role values carried in the "org.role" claim.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// OrgClaim is the active organization embedded in an access token.
type OrgClaim struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Role string `json:"role"`
}

// Claims are the access-token claims issued by the auth service. Only "sub"
// and "exp" come from the registered set, the rest are service specific.
type Claims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`

	// Name and AvatarURL are null for users that never set them.
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	// Org is nil when the user has no active organization membership.
	Org *OrgClaim `json:"org,omitempty"`

	IsSuperAdmin bool `json:"isSuperAdmin"`
}

// NewAccessClaims builds the claim set the auth service would mint for a user.
func NewAccessClaims(
	subject, email, name string,
	org *OrgClaim,
	superAdmin bool,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:        email,
		Name:         name,
		Org:          org,
		IsSuperAdmin: superAdmin,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ExpiresAtTime returns the "exp" claim, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Remaining reports how long the token stays valid relative to now. Tokens
// without an "exp" claim are treated as already expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	exp := c.ExpiresAtTime()
	if exp.IsZero() {
		return 0
	}
	return exp.Sub(now)
}

// Role returns the organization role, falling back to member when the token
// carries no organization.
func (c *Claims) Role() string {
	if c.Org == nil || c.Org.Role == "" {
		return RoleMember
	}
	return c.Org.Role
}
