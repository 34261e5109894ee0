package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"noteprompt/internal/ratelimit"
)

// Decision outcomes recorded on the ratelimit.decisions counter.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// InstrumentedLimiter wraps a ratelimit.Limiter with a span per check, a
// decision counter and a latency histogram. When the inner limiter can count
// its entries an observable gauge reports them.
type InstrumentedLimiter struct {
	inner        ratelimit.Limiter
	tracer       trace.Tracer
	decisions    metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
}

var _ ratelimit.Limiter = (*InstrumentedLimiter)(nil)

func NewInstrumentedLimiter(inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	tracer := otel.Tracer("noteprompt/ratelimit")
	meter := otel.Meter("noteprompt/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.check.duration",
		metric.WithDescription("Duration of rate limit checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	l := &InstrumentedLimiter{
		inner:     inner,
		tracer:    tracer,
		decisions: decisions,
		duration:  duration,
	}

	if _, ok := ratelimit.Entries(inner); ok {
		entries, err := meter.Int64ObservableGauge(
			"ratelimit.entries",
			metric.WithDescription("Identifiers currently tracked by the limiter"),
			metric.WithUnit("{entry}"),
		)
		if err != nil {
			return nil, err
		}
		l.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			if n, ok := ratelimit.Entries(inner); ok {
				o.ObserveInt64(entries, int64(n))
			}
			return nil
		}, entries)
		if err != nil {
			return nil, err
		}
	}

	return l, nil
}

// policyName returns the prefix of a key built with ratelimit.Key.
func policyName(identifier string) string {
	if name, _, found := strings.Cut(identifier, ":"); found && name != "" {
		return name
	}
	return "unnamed"
}

func (l *InstrumentedLimiter) Check(ctx context.Context, identifier string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	name := policyName(identifier)
	ctx, span := l.tracer.Start(ctx, "ratelimit.Check",
		trace.WithAttributes(
			attribute.String("ratelimit.policy", name),
			attribute.String("ratelimit.limit", policy.String()),
		),
	)
	defer span.End()

	start := time.Now()
	decision, err := l.inner.Check(ctx, identifier, policy)
	elapsed := time.Since(start).Seconds()

	outcome := OutcomeAllowed
	switch {
	case err != nil:
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !decision.Allowed:
		outcome = OutcomeDenied
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("ratelimit.outcome", outcome),
		attribute.Int("ratelimit.remaining", decision.Remaining),
	)

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("policy", name),
	)
	l.decisions.Add(ctx, 1, attrs)
	l.duration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("policy", name)))

	return decision, err
}

// Unwrap returns the wrapped limiter.
func (l *InstrumentedLimiter) Unwrap() ratelimit.Limiter {
	return l.inner
}

func (l *InstrumentedLimiter) Close() error {
	if l.registration != nil {
		if err := l.registration.Unregister(); err != nil {
			return err
		}
	}
	return l.inner.Close()
}
