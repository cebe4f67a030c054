package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/vinayprograms/eventkit/errors"
)

func TestGetTracer_NoopByDefault(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()

	ctx, span := tr.StartCommandSpan(context.Background(), "PlaceOrder", "orders42.c1")
	tr.EndCommandSpan(span, CommandSpanOptions{Status: "Completed"}, nil)
	require.NotNil(t, ctx)
}

func TestMapCarrier(t *testing.T) {
	c := MapCarrier{}
	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}

func TestInitProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	p, err := InitProvider(ctx, ProviderConfig{
		ServiceName: "test",
		Protocol:    "stdout",
		Writer:      &buf,
	})
	require.NoError(t, err)
	defer SetGlobalTracer(nil)

	tr := p.Tracer()
	_, span := tr.StartAppendSpan(ctx, "orders42", 0, 2)
	tr.EndAppendSpan(span, 2, nil)

	_, span = tr.StartProjectionSpan(ctx, "summary")
	tr.EndProjectionSpan(span, ProjectionSpanOptions{LastEventDone: 1, EventStreamVersion: 2}, errors.New("boom"))

	require.NoError(t, p.Shutdown(ctx))
	out := buf.String()
	assert.Contains(t, out, "stream.append")
	assert.Contains(t, out, "projection.summary")
}

func TestInitProvider_MissingEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	_, err := InitProvider(context.Background(), ProviderConfig{Protocol: "grpc"})
	assert.True(t, errs.Is(err, errs.ErrCodeInvalidInput), "expected INVALID_INPUT without endpoint, got %v", err)
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Protocol: "carrier-pigeon", Endpoint: "http://x:1"})
	assert.True(t, errs.Is(err, errs.ErrCodeInvalidInput), "expected INVALID_INPUT for unknown protocol, got %v", err)
}

func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(CommandsTotal.WithLabelValues("Completed"))
	CommandsTotal.WithLabelValues("Completed").Inc()
	after := testutil.ToFloat64(CommandsTotal.WithLabelValues("Completed"))

	assert.Equal(t, 1.0, after-before)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "0123...", truncate("0123456789", 4))
}
