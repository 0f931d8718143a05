// Package prometheus exposes pinflow engine metrics to Prometheus.
//
// [Exporter] is a prometheus.Collector that reads [pinflow.Engine.MetricsSnapshot] on each
// scrape. Counters are named pinflow_*_total; the single histogram is
// pinflow_refresh_latency_seconds. [Exporter.Handler] serves a private registry, so
// nothing is registered globally unless the caller does it.
package prometheus
