package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceIDKey
)

// WithContext returns the logger attached to ctx by RequestContextMiddleware,
// or the global logger.
func WithContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return L()
	}
	// zerolog.Ctx answers a disabled logger when nothing is attached
	if l := zerolog.Ctx(ctx); l != zerolog.DefaultContextLogger && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return L()
}

// RequestIDFromContext extracts the request identifier, empty when absent
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// TraceIDFromContext extracts the trace identifier, empty when absent
func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// attach stores the identifiers and a logger carrying them in ctx
func attach(ctx context.Context, reqID, traceID string) context.Context {
	zc := L().With()
	if reqID != "" {
		ctx = context.WithValue(ctx, requestIDKey, reqID)
		zc = zc.Str("request_id", reqID)
	}
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
		zc = zc.Str("trace_id", traceID)
	}
	l := zc.Logger()
	return l.WithContext(ctx)
}
