package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	platformKey  contextKey = "platform"
	orderKey     contextKey = "external_order_id"
	eventIDKey   contextKey = "event_id"
)

// WithContext stores the logger in ctx
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// WithRequestID tags ctx with the HTTP request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithEvent tags ctx with the raw event being reconciled
func WithEvent(ctx context.Context, platform, externalOrderID, eventID string) context.Context {
	ctx = context.WithValue(ctx, platformKey, platform)
	ctx = context.WithValue(ctx, orderKey, externalOrderID)
	return context.WithValue(ctx, eventIDKey, eventID)
}

// GetRequestID returns the request id in ctx, if any
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// GetPlatform returns the platform tag in ctx, if any
func GetPlatform(ctx context.Context) string {
	return stringValue(ctx, platformKey)
}

// GetExternalOrderID returns the external order tag in ctx, if any
func GetExternalOrderID(ctx context.Context) string {
	return stringValue(ctx, orderKey)
}

// GetEventID returns the event tag in ctx, if any
func GetEventID(ctx context.Context) string {
	return stringValue(ctx, eventIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetTraceID returns the active trace id or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Fields collects the correlation fields carried by ctx.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, key := range []contextKey{requestIDKey, platformKey, orderKey, eventIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}

// L returns the logger from ctx enriched with its correlation fields.
//
//	logger.L(ctx).Info("event reconciled", zap.String("outcome", outcome))
func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx).With(Fields(ctx)...)
}

// For enriches base with the correlation fields in ctx. Services that hold
// their own logger use this instead of L.
func For(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = FromContext(ctx)
	}
	return base.With(Fields(ctx)...)
}
