package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Option configures provider construction.
type Option func(*options)

type options struct {
	registerer    prometheus.Registerer
	spanExporter  sdktrace.SpanExporter
	logExporter   sdklog.Exporter
	metricReaders []sdkmetric.Reader
}

// WithRegisterer registers the Prometheus exporter somewhere other than
// prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithSpanExporter replaces the OTLP span exporter and enables tracing
// regardless of Config.Enabled.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithLogExporter gives LoggerProvider an SDK provider that batches
// bridged log entries to exp.
func WithLogExporter(exp sdklog.Exporter) Option {
	return func(o *options) { o.logExporter = exp }
}

// WithMetricReader adds a reader next to the Prometheus one.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReaders = append(o.metricReaders, r) }
}

// newResource describes the service. A standalone resource avoids schema
// URL conflicts with resource.Default().
func newResource(cfg *Config) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newSampler(rate float64) sdktrace.Sampler {
	var s sdktrace.Sampler
	switch {
	case rate >= 1.0:
		s = sdktrace.AlwaysSample()
	case rate <= 0:
		s = sdktrace.NeverSample()
	default:
		s = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(s)
}

// newTracerProvider returns nil when neither OTLP export nor an injected
// exporter is configured.
func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*sdktrace.TracerProvider, error) {
	exporter := o.spanExporter
	if exporter == nil {
		if !cfg.Enabled {
			return nil, nil
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(stripScheme(cfg.Endpoint))}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		exporter = exp
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.Sampling.Rate)),
	), nil
}

// newMeterProvider wires the Prometheus reader, the OTLP push reader when
// export is enabled, and any injected readers.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource, o *options) (*sdkmetric.MeterProvider, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}

	registerer := o.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Enabled {
		// Cumulative temporality keeps Prometheus-compatible backends happy.
		cumulative := func(sdkmetric.InstrumentKind) metricdata.Temporality {
			return metricdata.CumulativeTemporality
		}
		httpOpts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(stripScheme(cfg.Endpoint)),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlpmetrichttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			httpOpts = append(httpOpts, otlpmetrichttp.WithHeaders(cfg.Headers))
		}
		exp, err := otlpmetrichttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.Metrics.PushInterval)),
		))
	}

	for _, r := range o.metricReaders {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}
