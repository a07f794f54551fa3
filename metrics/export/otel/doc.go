// Package otel provides OpenTelemetry metric exporter bindings for authcore
// counters.
//
// [NewExporter] registers a Float64ObservableCounter for each
// [metrics.Collectors] family and an Int64ObservableCounter for dropped audit
// events. A single callback reads the Prometheus vectors on each collection
// cycle, so both exporters always report the same values.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
