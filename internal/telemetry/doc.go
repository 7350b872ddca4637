// Package telemetry owns the OpenTelemetry meter, tracer and log providers.
//
// Meters always feed a Prometheus exporter. The registerer is the process
// default unless WithRegisterer supplies one, which is how each command
// keeps its own registry. An enabled OTLP endpoint adds OTLP/HTTP push for
// spans and metrics alongside the pull path.
//
// New never fails on exporter trouble: a provider that cannot be built is
// reported through Health and the global no-op provider stays installed, so
// a loop run is never blocked by a missing collector.
package telemetry
