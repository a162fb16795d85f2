package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Store is the root data access interface for authctl's local state.
// Concrete drivers implement it. Sub-repositories are reached through
// methods so a transaction cannot be opened from inside another one.
type Store interface {
	Cookies() Cookies

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying database handle.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx exposes the repositories inside a transaction.
type Tx interface {
	Cookies() Cookies
}

// CookieKey identifies a stored cookie the way a browser does.
type CookieKey struct {
	Domain string
	Path   string
	Name   string
}

// String is also used as the additional authenticated data when the value
// is sealed, binding a sealed value to its row.
func (k CookieKey) String() string {
	return k.Domain + ";" + k.Path + ";" + k.Name
}

// Cookie is a persisted cookie. The value is only ever stored sealed.
type Cookie struct {
	CookieKey

	SealedValue []byte
	HostOnly    bool
	Secure      bool
	HTTPOnly    bool
	SameSite    string

	// ExpiresAt is nil for session cookies, which authctl keeps until the
	// server expires them or the user logs out.
	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Cookies interface {
	// UpsertCookie inserts or replaces the cookie with the same key.
	UpsertCookie(ctx context.Context, c Cookie) error

	// GetCookie returns ErrNotFound when no row matches.
	GetCookie(ctx context.Context, key CookieKey) (Cookie, error)

	// ListCookies returns cookies that have not expired at now.
	ListCookies(ctx context.Context, now time.Time) ([]Cookie, error)

	DeleteCookie(ctx context.Context, key CookieKey) error

	// DeleteExpiredCookies removes cookies that expired before now and
	// reports how many were removed.
	DeleteExpiredCookies(ctx context.Context, now time.Time) (int64, error)

	DeleteAllCookies(ctx context.Context) error
}
