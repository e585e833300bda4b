package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// correlation is the per-unit identity carried through the context for log lines.
// It is copied on every update so parent contexts never observe child IDs.
type correlation struct {
	requestID string
	traceID   string
	spanID    string
	start     time.Time
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, update func(*correlation)) context.Context {
	c := correlationFrom(ctx)
	update(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// GenerateRequestID returns a "req_" prefixed random ID.
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = requestID })
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.traceID = traceID })
}

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.spanID = spanID })
}

func WithStartTime(ctx context.Context, start time.Time) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.start = start })
}

func GetRequestID(ctx context.Context) string { return correlationFrom(ctx).requestID }
func GetTraceID(ctx context.Context) string { return correlationFrom(ctx).traceID }
func GetSpanID(ctx context.Context) string { return correlationFrom(ctx).spanID }

// Duration is the time since WithStartTime, or zero when no start was recorded.
func Duration(ctx context.Context) time.Duration {
	start := correlationFrom(ctx).start
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// LogFields returns the correlation fields present in ctx.
func LogFields(ctx context.Context) logrus.Fields {
	c := correlationFrom(ctx)
	fields := logrus.Fields{}
	if c.requestID != "" {
		fields["request_id"] = c.requestID
	}
	if c.traceID != "" {
		fields["trace_id"] = c.traceID
	}
	return fields
}
