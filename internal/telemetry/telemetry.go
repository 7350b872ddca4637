package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry holds the providers built for one skillloop process.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    *sdklog.LoggerProvider

	mu       sync.Mutex
	problems []string
	closed   bool
}

// HealthStatus is reported on /health. Problems names each provider that
// could not be built.
type HealthStatus struct {
	Healthy  bool     `json:"healthy"`
	Degraded bool     `json:"degraded"`
	Problems []string `json:"problems,omitempty"`
}

// New builds the providers described by cfg and installs the tracer and
// meter providers as OTel globals. Only an invalid cfg is an error.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	t := &Telemetry{config: cfg, logger: logger.Named("telemetry")}
	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o); err != nil {
		t.degrade("traces", err)
	} else if tp != nil {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, o); err != nil {
		t.degrade("metrics", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	if o.logExporter != nil {
		t.logProvider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(o.logExporter)),
		)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider feeds the otelzap bridge used by logging.output.otel.
// Without a log exporter it is the global provider.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.logProvider == nil {
		return global.GetLoggerProvider()
	}
	return t.logProvider
}

// Shutdown stops logs, then traces, then metrics, so entries written while
// spans close are still exported. A ctx without deadline gets
// shutdown.timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout)
		defer cancel()
	}

	var errs []error
	for _, p := range t.stages() {
		if err := p.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// ForceFlush exports whatever the providers are holding.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, p := range t.stages() {
		if err := p.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true, Problems: []string{"telemetry not initialized"}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Healthy:  !t.closed,
		Degraded: len(t.problems) > 0,
		Problems: slices.Clone(t.problems),
	}
}

type stage struct {
	name     string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

func (t *Telemetry) stages() []stage {
	var out []stage
	if t.logProvider != nil {
		out = append(out, stage{"logs", t.logProvider.ForceFlush, t.logProvider.Shutdown})
	}
	if t.tracerProvider != nil {
		out = append(out, stage{"traces", t.tracerProvider.ForceFlush, t.tracerProvider.Shutdown})
	}
	if t.meterProvider != nil {
		out = append(out, stage{"metrics", t.meterProvider.ForceFlush, t.meterProvider.Shutdown})
	}
	return out
}

func (t *Telemetry) degrade(signal string, err error) {
	t.mu.Lock()
	t.problems = append(t.problems, fmt.Sprintf("%s: %v", signal, err))
	t.mu.Unlock()
	t.logger.Warn("telemetry provider unavailable", zap.String("signal", signal), zap.Error(err))
}
