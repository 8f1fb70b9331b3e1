// Package otel exports dashauth session metrics through an OpenTelemetry
// Meter.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket. A single callback reads
// [dashauth.Manager.MetricsSnapshot] on each collection. A live manager also
// reports whether the session is authenticated and its staleness bound.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate manager state.
package otel
