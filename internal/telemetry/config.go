package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config is the telemetry section of the skillloop config file.
type Config struct {
	// Enabled adds OTLP/HTTP push of spans and metrics. Prometheus pull
	// is governed by Metrics.Enabled alone.
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Insecure       bool   `koanf:"insecure"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	// Environment becomes the deployment.environment resource attribute.
	Environment string `koanf:"environment"`
	// Headers are sent with every OTLP request, e.g. a collector API key.
	Headers  map[string]string `koanf:"headers"`
	Sampling SamplingConfig    `koanf:"sampling"`
	Metrics  MetricsConfig     `koanf:"metrics"`
	Shutdown ShutdownConfig    `koanf:"shutdown"`
}

type SamplingConfig struct {
	// Rate is the parent-based trace sampling ratio in [0, 1].
	Rate float64 `koanf:"rate"`
}

type MetricsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PushInterval time.Duration `koanf:"push_interval"`
}

type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// NewDefaultConfig serves Prometheus metrics locally and pushes nothing.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4318",
		Insecure:       true,
		ServiceName:    "skillloop",
		ServiceVersion: "0.1.0",
		Environment:    "local",
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics:        MetricsConfig{Enabled: true, PushInterval: 15 * time.Second},
		Shutdown:       ShutdownConfig{Timeout: 5 * time.Second},
	}
}

// Validate reports every problem at once. Export settings are only checked
// when Enabled is set.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	if !c.Enabled {
		return errors.Join(errs...)
	}

	switch {
	case c.Endpoint == "":
		errs = append(errs, errors.New("endpoint is required when telemetry is enabled"))
	case c.Insecure && !c.isLocalEndpoint():
		errs = append(errs, fmt.Errorf("insecure export to remote endpoint %q is not allowed; set insecure=false or use localhost", c.Endpoint))
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		errs = append(errs, fmt.Errorf("sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate))
	}
	if c.Metrics.Enabled && c.Metrics.PushInterval <= 0 {
		errs = append(errs, errors.New("metrics.push_interval must be positive when metrics are enabled"))
	}
	for k := range c.Headers {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("headers: empty header name"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripScheme turns "http://host:port" into the host:port form the OTLP
// HTTP exporters take.
func stripScheme(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	return strings.TrimSuffix(endpoint, "/")
}
