package internaldefs

import (
	authsync "github.com/William-g7/Airnest-sub001"
)

// CounterDef names one counter for every exporter.
type CounterDef struct {
	ID   authsync.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for every exporter.
type HistogramDef struct {
	ID   authsync.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authsync.MetricLoginSuccess, Name: "authsync_login_success_total", Help: "Logins completed by this tab."},
	{ID: authsync.MetricLoginFailure, Name: "authsync_login_failure_total", Help: "Logins rejected or aborted."},
	{ID: authsync.MetricLogout, Name: "authsync_logout_total", Help: "Logouts initiated by this tab."},
	{ID: authsync.MetricEventPublished, Name: "authsync_event_published_total", Help: "Auth events published to other tabs."},
	{ID: authsync.MetricEventReceived, Name: "authsync_event_received_total", Help: "Auth events received from other tabs."},
	{ID: authsync.MetricEventDropped, Name: "authsync_event_dropped_total", Help: "Inbound payloads that failed to decode."},
	{ID: authsync.MetricHandlerPanic, Name: "authsync_handler_panic_total", Help: "Recovered channel handler panics."},
	{ID: authsync.MetricFallbackActivated, Name: "authsync_fallback_activated_total", Help: "Channel inits that used the storage fallback."},
	{ID: authsync.MetricRefreshSuccess, Name: "authsync_refresh_success_total", Help: "Rotated token pairs."},
	{ID: authsync.MetricRefreshSoftFailure, Name: "authsync_refresh_soft_failure_total", Help: "Transient refresh failures."},
	{ID: authsync.MetricRefreshRejected, Name: "authsync_refresh_rejected_total", Help: "Refreshes rejected by the server."},
	{ID: authsync.MetricSessionExpired, Name: "authsync_session_expired_total", Help: "Session expiries observed."},
	{ID: authsync.MetricRemoteLogout, Name: "authsync_remote_logout_total", Help: "Logouts received from other tabs."},
	{ID: authsync.MetricRedirect, Name: "authsync_redirect_total", Help: "Protected-route redirects."},
	{ID: authsync.MetricRedirectSuppressed, Name: "authsync_redirect_suppressed_total", Help: "Redirects suppressed by debouncing."},
	{ID: authsync.MetricNotificationSuppressed, Name: "authsync_notification_suppressed_total", Help: "Notifications suppressed by the cooldown."},
}

var HistogramDefs = []HistogramDef{
	{ID: authsync.MetricRefreshLatency, Name: "authsync_refresh_latency_seconds", Help: "Token refresh round-trip latency."},
}

// NotifyDroppedName is the counter for notifications dropped by a full
// dispatcher.
const (
	NotifyDroppedName = "authsync_notify_dropped_total"
	NotifyDroppedHelp = "Notifications dropped due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
