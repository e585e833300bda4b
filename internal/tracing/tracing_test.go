package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(models.TracingConfig{SampleRate: 7}, nil)
	assert.Equal(t, "wadispatch", m.config.ServiceName)
	assert.Equal(t, 1.0, m.config.SampleRate)
	assert.NotNil(t, m.logger)
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(models.TracingConfig{Enabled: false}, quietLogger())
	require.NoError(t, m.Initialize(context.Background()))
	assert.Nil(t, m.tracerProvider)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StdoutLifecycle(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	m := NewManager(models.TracingConfig{Enabled: true, UseStdout: true, SampleRate: 1}, quietLogger())
	require.NoError(t, m.Initialize(context.Background()))
	require.NotNil(t, m.tracerProvider)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestStartUnit_PropagatesIDs(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartUnit(context.Background(), "send", AttrChannel.String("whatsapp"), AttrSendKind.String("text"))
	assert.Len(t, GetTraceID(ctx), 32)
	assert.Len(t, GetSpanID(ctx), 16)
	assert.Equal(t, GetTraceID(ctx), GetOtelTraceID(ctx))
	assert.True(t, strings.HasPrefix(GetRequestID(ctx), "req_"))

	AddSpanAttributes(ctx, AttrStatus.String("sent"))
	EndUnit(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "send", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "whatsapp", attrs["dispatch.channel"])
	assert.Equal(t, "text", attrs["dispatch.send_kind"])
	assert.Equal(t, "sent", attrs["dispatch.status"])
}

func TestStartUnit_KeepsExistingRequestID(t *testing.T) {
	recordSpans(t)
	ctx := WithRequestID(context.Background(), "req_given")
	ctx, span := StartUnit(ctx, "inbound")
	defer span.End()
	assert.Equal(t, "req_given", GetRequestID(ctx))
}

func TestEndUnit_RecordsError(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartUnit(context.Background(), "scheduled.tick")
	RecordError(ctx, nil)
	EndUnit(span, errors.New("provider down"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "provider down", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestGetOtelTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetOtelTraceID(context.Background()))
}

func TestContextHelpers(t *testing.T) {
	start := time.Now().Add(-50 * time.Millisecond)
	ctx := context.Background()
	assert.Zero(t, Duration(ctx))
	assert.Empty(t, LogFields(ctx))

	ctx = WithRequestID(ctx, "req_1")
	ctx = WithTraceID(ctx, "trace")
	ctx = WithSpanID(ctx, "span")
	ctx = WithStartTime(ctx, start)

	assert.Equal(t, "req_1", GetRequestID(ctx))
	assert.Equal(t, "trace", GetTraceID(ctx))
	assert.Equal(t, "span", GetSpanID(ctx))
	assert.GreaterOrEqual(t, Duration(ctx), 50*time.Millisecond)
	assert.Equal(t, logrus.Fields{"request_id": "req_1", "trace_id": "trace"}, LogFields(ctx))
}

func TestCorrelation_ChildDoesNotLeak(t *testing.T) {
	parent := WithRequestID(context.Background(), "req_parent")
	child := WithTraceID(WithRequestID(parent, "req_child"), "trace")

	assert.Equal(t, "req_parent", GetRequestID(parent))
	assert.Empty(t, GetTraceID(parent))
	assert.Equal(t, "req_child", GetRequestID(child))
	assert.Equal(t, "trace", GetTraceID(child))
}

func TestGenerateRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
