// Package otel binds tab client counters to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per histogram bucket. One callback reads
// [authsync.Client.MetricsSnapshot] on each collection cycle. Callers own
// the MeterProvider.
package otel
