// Package otel binds pinflow engine metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [pinflow.Engine.MetricsSnapshot] on each collection. Callers own the MeterProvider.
package otel
