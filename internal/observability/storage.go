package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"noteprompt/internal/models"
	"noteprompt/internal/storage"
)

var _ storage.Storage = (*InstrumentedStorage)(nil)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("noteprompt/storage")
	meter := otel.Meter("noteprompt/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	var attrs []attribute.KeyValue
	if v != nil {
		attrs = append(attrs, attribute.String("policy", v.Policy))
	}
	ctx, span := s.startSpan(ctx, "RecordViolation", attrs...)
	start := time.Now()
	err := s.inner.RecordViolation(ctx, v)
	s.record(ctx, span, "RecordViolation", start, err)
	return err
}

func (s *InstrumentedStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	ctx, span := s.startSpan(ctx, "Violations",
		attribute.String("policy", filter.Policy),
		attribute.Int("limit", filter.Limit),
	)
	start := time.Now()
	result, err := s.inner.Violations(ctx, filter)
	span.SetAttributes(attribute.Int("result_count", len(result)))
	s.record(ctx, span, "Violations", start, err)
	return result, err
}

func (s *InstrumentedStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PurgeViolations",
		attribute.String("before", before.UTC().Format(time.RFC3339)),
	)
	start := time.Now()
	removed, err := s.inner.PurgeViolations(ctx, before)
	span.SetAttributes(attribute.Int64("removed", removed))
	s.record(ctx, span, "PurgeViolations", start, err)
	return removed, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
