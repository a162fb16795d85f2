package slogx

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/tenantauth/pkg/idx"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithRequestID tags both the contextual logger and the context itself with
// reqID, so outbound calls made with the returned context reuse it.
func WithRequestID(ctx context.Context, reqID idx.ID) context.Context {
	l := FromContext(ctx)
	ctx = idx.WithContext(ctx, reqID)
	return WithContext(ctx, l.With("req_id", reqID.String()))
}
