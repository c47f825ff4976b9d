package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ratelimiter/internal/ratelimit"
)

const instrumentationName = "ratelimiter/ratelimit"

// LimiterOption configures an InstrumentedLimiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) LimiterOption {
	return func(o *limiterOptions) {
		o.meterProvider = mp
	}
}

// WithTracerProvider records spans through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) LimiterOption {
	return func(o *limiterOptions) {
		o.tracerProvider = tp
	}
}

// InstrumentedLimiter wraps a ratelimit.Limiter with OpenTelemetry tracing
// and metrics. Decisions are counted by outcome, every operation is timed,
// and the number of tracked users is exported as a gauge.
type InstrumentedLimiter struct {
	inner     ratelimit.Limiter
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	decisions metric.Int64Counter
	errors    metric.Int64Counter
	users     metric.Registration
}

var (
	_ ratelimit.Limiter        = (*InstrumentedLimiter)(nil)
	_ ratelimit.ContextLimiter = (*InstrumentedLimiter)(nil)
)

// NewInstrumentedLimiter creates the decorator. Close releases the tracked
// users callback.
func NewInstrumentedLimiter(inner ratelimit.Limiter, opts ...LimiterOption) (*InstrumentedLimiter, error) {
	o := limiterOptions{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)

	duration, err := meter.Float64Histogram(
		"ratelimit.operation.duration",
		metric.WithDescription("Duration of rate limiter operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ratelimit.operation.errors",
		metric.WithDescription("Number of rate limiter operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	tracked, err := meter.Int64ObservableGauge(
		"ratelimit.tracked_users",
		metric.WithDescription("Number of users with a live window"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(tracked, int64(inner.Users()))
		return nil
	}, tracked)
	if err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{
		inner:     inner,
		tracer:    o.tracerProvider.Tracer(instrumentationName),
		duration:  duration,
		decisions: decisions,
		errors:    errCounter,
		users:     reg,
	}, nil
}

// Close unregisters the tracked users gauge callback.
func (l *InstrumentedLimiter) Close() error {
	return l.users.Unregister()
}

func (l *InstrumentedLimiter) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "ratelimit."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("ratelimit.operation", operation),
		}, attrs...)...),
	)
}

func (l *InstrumentedLimiter) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	l.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		l.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// AllowContext decides a request like Allow and parents its span on ctx.
func (l *InstrumentedLimiter) AllowContext(ctx context.Context, key string) (bool, ratelimit.Status, error) {
	ctx, span := l.startSpan(ctx, "Allow", attribute.String("ratelimit.key", key))
	start := time.Now()
	allowed, status, err := l.inner.Allow(key)
	if err == nil {
		l.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status.Outcome.String())))
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", allowed),
			attribute.Int("ratelimit.current", status.CurrentRequests),
			attribute.Int("ratelimit.remaining", status.RemainingRequests),
		)
	}
	l.record(ctx, span, "Allow", start, err)
	return allowed, status, err
}

func (l *InstrumentedLimiter) Allow(key string) (bool, ratelimit.Status, error) {
	return l.AllowContext(context.Background(), key)
}

func (l *InstrumentedLimiter) Status(key string) (ratelimit.Status, error) {
	ctx, span := l.startSpan(context.Background(), "Status", attribute.String("ratelimit.key", key))
	start := time.Now()
	status, err := l.inner.Status(key)
	l.record(ctx, span, "Status", start, err)
	return status, err
}

func (l *InstrumentedLimiter) ResetUser(key string) error {
	ctx, span := l.startSpan(context.Background(), "ResetUser", attribute.String("ratelimit.key", key))
	start := time.Now()
	err := l.inner.ResetUser(key)
	l.record(ctx, span, "ResetUser", start, err)
	return err
}

func (l *InstrumentedLimiter) ResetAll() {
	ctx, span := l.startSpan(context.Background(), "ResetAll")
	start := time.Now()
	l.inner.ResetAll()
	l.record(ctx, span, "ResetAll", start, nil)
}

func (l *InstrumentedLimiter) MaxRequests() int {
	return l.inner.MaxRequests()
}

func (l *InstrumentedLimiter) Window() time.Duration {
	return l.inner.Window()
}

func (l *InstrumentedLimiter) Users() int {
	return l.inner.Users()
}
