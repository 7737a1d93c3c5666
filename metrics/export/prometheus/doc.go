// Package prometheus exposes tab client counters as a prometheus.Collector.
//
// [NewCollector] reads [authsync.Client.MetricsSnapshot] on every scrape.
// Counter names are prefixed authsync_*_total; the refresh latency histogram
// is authsync_refresh_latency_seconds. The collector is never registered in
// the global registry: callers register it or mount [Collector.Handler].
package prometheus
