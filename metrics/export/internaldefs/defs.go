package internaldefs

import (
	"github.com/MrEthical07/tabsync"
)

// CounterDef names one client counter.
type CounterDef struct {
	ID   tabsync.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram.
type HistogramDef struct {
	ID   tabsync.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: tabsync.MetricRelaySent, Name: "tabsync_relay_sent_total", Help: "Relay messages sent by this context."},
	{ID: tabsync.MetricRelayHandled, Name: "tabsync_relay_handled_total", Help: "Relay messages from other contexts that were applied."},
	{ID: tabsync.MetricRelayIgnored, Name: "tabsync_relay_ignored_total", Help: "Malformed relay messages that were dropped."},
	{ID: tabsync.MetricRemoteChange, Name: "tabsync_remote_change_total", Help: "Application keys changed by another context."},
	{ID: tabsync.MetricStorageReady, Name: "tabsync_storage_ready_total", Help: "Completed startup handshakes."},
	{ID: tabsync.MetricLoginSuccess, Name: "tabsync_login_success_total", Help: "Successful logins."},
	{ID: tabsync.MetricLoginFailure, Name: "tabsync_login_failure_total", Help: "Failed logins."},
	{ID: tabsync.MetricLogout, Name: "tabsync_logout_total", Help: "Logouts."},
	{ID: tabsync.MetricLoginStatusChanged, Name: "tabsync_login_status_changed_total", Help: "Login status transitions."},
	{ID: tabsync.MetricSessionExpired, Name: "tabsync_session_expired_total", Help: "Reads that found an expired session."},
	{ID: tabsync.MetricReservedKeyRejected, Name: "tabsync_reserved_key_rejected_total", Help: "Storage calls refused for using a reserved key."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: tabsync.MetricRelayHandleLatency, Name: "tabsync_relay_handle_latency_seconds", Help: "Time spent applying one relay message."},
}

// HistogramBounds are the upper bounds, in seconds, of the histogram buckets.
var HistogramBounds = []string{
	"0.00005",
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{
	0.00005,
	0.0001,
	0.00025,
	0.0005,
	0.001,
	0.005,
	0.025,
}

// NormalizeBuckets copies raw into a fixed eight bucket array.
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
