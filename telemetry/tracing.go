package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with pipeline-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include payloads in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// --- Command Spans ---

// CommandSpanOptions contains the outcome of one command attempt.
type CommandSpanOptions struct {
	Status     string
	RetryCount int
	Events     int
	Payload    string // Only included if debug=true
}

// StartCommandSpan starts a span for one command attempt.
func (t *Tracer) StartCommandSpan(ctx context.Context, commandType, key string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "command."+commandType, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("command.type", commandType),
		attribute.String("command.key", key),
	)
	return ctx, span
}

// EndCommandSpan ends a command span with attributes.
func (t *Tracer) EndCommandSpan(span trace.Span, opts CommandSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("command.status", opts.Status),
		attribute.Int("command.retry_count", opts.RetryCount),
		attribute.Int("command.events", opts.Events),
	)
	if t.debug && opts.Payload != "" {
		span.SetAttributes(attribute.String("command.payload", truncate(opts.Payload, 4000)))
	}
	end(span, err)
}

// --- Stream Spans ---

// StartAppendSpan starts a span for a stream append.
func (t *Tracer) StartAppendSpan(ctx context.Context, stream string, expectedVersion int64, count int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "stream.append", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("stream.name", stream),
		attribute.Int64("stream.expected_version", expectedVersion),
		attribute.Int("stream.messages", count),
	)
	return ctx, span
}

// EndAppendSpan ends a stream append span.
func (t *Tracer) EndAppendSpan(span trace.Span, newVersion int64, err error) {
	if err == nil {
		span.SetAttributes(attribute.Int64("stream.version", newVersion))
	}
	end(span, err)
}

// --- Projection Spans ---

// ProjectionSpanOptions contains the result of one catch-up pass.
type ProjectionSpanOptions struct {
	LastEventDone      int64
	EventStreamVersion int64
	Applied            int
	Retrying           bool
}

// StartProjectionSpan starts a span for a projection catch-up pass.
func (t *Tracer) StartProjectionSpan(ctx context.Context, projection string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "projection."+projection, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("projection.name", projection))
	return ctx, span
}

// EndProjectionSpan ends a projection span with attributes.
func (t *Tracer) EndProjectionSpan(span trace.Span, opts ProjectionSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int64("projection.last_event_done", opts.LastEventDone),
		attribute.Int64("projection.event_stream_version", opts.EventStreamVersion),
		attribute.Int("projection.applied", opts.Applied),
		attribute.Bool("projection.retrying", opts.Retrying),
	)
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
