package slogx

import (
	"context"
	"log/slog"
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

func WithRequestID(ctx context.Context, reqID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("req_id", reqID))
}

// WithOperation tags the contextual logger with the logical operation being
// carried out (e.g. "sync", "submit") and the id of the record it concerns.
func WithOperation(ctx context.Context, op, recordID string) context.Context {
	l := FromContext(ctx).With("op", op)
	if recordID != "" {
		l = l.With("record_id", recordID)
	}
	return WithContext(ctx, l)
}
