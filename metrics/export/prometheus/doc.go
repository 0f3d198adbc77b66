// Package prometheus exposes tabsync client metrics to Prometheus.
//
// [PrometheusExporter.Render] and [PrometheusExporter.Handler] produce the text
// exposition format directly. [PrometheusExporter.Collector] adapts the same
// snapshot to a client_golang registry for services that already run one.
// Counter names are prefixed tabsync_*_total; the single histogram is
// tabsync_relay_handle_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount the
//     Handler or register the Collector themselves.
//   - Mutate client state.
package prometheus
