package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tenantauth/internal/authctl/store"
)

type cookiesRepo struct {
	db dbtx
}

const cookieColumns = `domain, path, name, sealed_value, host_only, secure, http_only, same_site, expires_at, created_at, updated_at`

const upsertCookie = `
INSERT INTO cookies (` + cookieColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (domain, path, name) DO UPDATE SET
    sealed_value = excluded.sealed_value,
    host_only    = excluded.host_only,
    secure       = excluded.secure,
    http_only    = excluded.http_only,
    same_site    = excluded.same_site,
    expires_at   = excluded.expires_at,
    updated_at   = excluded.updated_at`

func (r *cookiesRepo) UpsertCookie(ctx context.Context, c store.Cookie) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx, upsertCookie,
		c.Domain,
		c.Path,
		c.Name,
		c.SealedValue,
		c.HostOnly,
		c.Secure,
		c.HTTPOnly,
		c.SameSite,
		mapOptionalUnix(c.ExpiresAt),
		c.CreatedAt.UTC(),
		now,
	)
	return err
}

func (r *cookiesRepo) GetCookie(ctx context.Context, key store.CookieKey) (store.Cookie, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+cookieColumns+` FROM cookies WHERE domain = ? AND path = ? AND name = ?`,
		key.Domain, key.Path, key.Name,
	)

	c, err := scanCookie(row)
	if err != nil {
		return store.Cookie{}, mapNotFound(err)
	}
	return c, nil
}

func (r *cookiesRepo) ListCookies(ctx context.Context, now time.Time) ([]store.Cookie, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+cookieColumns+` FROM cookies
WHERE expires_at IS NULL OR expires_at > ?
ORDER BY domain, length(path) DESC, created_at`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cookies []store.Cookie
	for rows.Next() {
		c, err := scanCookie(rows)
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

func (r *cookiesRepo) DeleteCookie(ctx context.Context, key store.CookieKey) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE domain = ? AND path = ? AND name = ?`,
		key.Domain, key.Path, key.Name,
	)
	return err
}

func (r *cookiesRepo) DeleteExpiredCookies(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *cookiesRepo) DeleteAllCookies(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cookies`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCookie(s scanner) (store.Cookie, error) {
	var (
		c         store.Cookie
		expiresAt sql.NullInt64
	)

	err := s.Scan(
		&c.Domain,
		&c.Path,
		&c.Name,
		&c.SealedValue,
		&c.HostOnly,
		&c.Secure,
		&c.HTTPOnly,
		&c.SameSite,
		&expiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return store.Cookie{}, err
	}

	c.ExpiresAt = mapNullUnixPtr(expiresAt)
	return c, nil
}

func mapOptionalUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func mapNullUnixPtr(n sql.NullInt64) *time.Time {
	if n.Valid {
		val := time.Unix(n.Int64, 0).UTC()
		return &val
	}
	return nil
}
