package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/skillloop/internal/http"

// unmatchedRoute labels requests no route matched.
const unmatchedRoute = "unmatched"

// HTTPMetrics records per-route request metrics.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the request instruments. A nil meter uses the
// global provider. Instruments that fail to register are logged and skipped.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{}
	var err error
	if m.requests, err = meter.Int64Counter("skillloop.http.server.requests",
		metric.WithDescription("HTTP requests by route template, method and status class"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create request counter", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("skillloop.http.server.duration",
		metric.WithDescription("HTTP request latency by route template"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	if m.inflight, err = meter.Int64UpDownCounter("skillloop.http.server.inflight",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create inflight counter", zap.Error(err))
	}
	return m
}

// MetricsMiddleware records one data point per request. It must run after
// routing so c.Path() holds the route template, which keeps skill ids and
// signal ids out of label values.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			route := routeLabel(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("method", c.Request().Method),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(),
					metric.WithAttributes(attribute.String("route", route)))
			}
			return nil
		}
	}
}

func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return unmatchedRoute
	}
	return path
}

// statusClass maps 404 to "4xx", 503 to "5xx" and so on.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
