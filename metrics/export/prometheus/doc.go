// Package prometheus exposes dashauth session metrics to Prometheus.
//
// [Collector] implements prometheus.Collector over a [dashauth.Manager]
// snapshot. Counters are named dashauth_*_total; backend call latency is
// the dashauth_transport_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the
//     collector or mount [Collector.Handler].
//   - Mutate manager state.
package prometheus
