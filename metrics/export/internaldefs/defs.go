package internaldefs

import (
	"github.com/MrEthical07/pinflow"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   pinflow.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   pinflow.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for [pinflow.Engine.AuditDropped].
const AuditDroppedName = "pinflow_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: pinflow.MetricFlowInitiated, Name: "pinflow_flow_initiated_total", Help: "Flows started."},
	{ID: pinflow.MetricFlowTransition, Name: "pinflow_flow_transition_total", Help: "Step transitions evaluated."},
	{ID: pinflow.MetricFlowCompleted, Name: "pinflow_flow_completed_total", Help: "Flows that reached completion."},
	{ID: pinflow.MetricFlowRejected, Name: "pinflow_flow_rejected_total", Help: "Step payloads rejected with a user-facing message."},
	{ID: pinflow.MetricPinValidationSuccess, Name: "pinflow_pin_validation_success_total", Help: "Correct PIN entries."},
	{ID: pinflow.MetricPinValidationFailure, Name: "pinflow_pin_validation_failure_total", Help: "Wrong PIN entries."},
	{ID: pinflow.MetricPinLocked, Name: "pinflow_pin_locked_total", Help: "PIN lockouts started."},
	{ID: pinflow.MetricPinSet, Name: "pinflow_pin_set_total", Help: "PINs created or changed."},
	{ID: pinflow.MetricSessionCreated, Name: "pinflow_session_created_total", Help: "Sessions created."},
	{ID: pinflow.MetricSessionLocked, Name: "pinflow_session_locked_total", Help: "Sessions locked."},
	{ID: pinflow.MetricSessionVoided, Name: "pinflow_session_voided_total", Help: "Sessions voided."},
	{ID: pinflow.MetricSessionExpired, Name: "pinflow_session_expired_total", Help: "Sessions found expired on load."},
	{ID: pinflow.MetricSessionCorrupt, Name: "pinflow_session_corrupt_total", Help: "Unreadable session records discarded."},
	{ID: pinflow.MetricRefreshSuccess, Name: "pinflow_refresh_success_total", Help: "Successful token refresh cycles."},
	{ID: pinflow.MetricRefreshFailure, Name: "pinflow_refresh_failure_total", Help: "Failed token refresh cycles."},
	{ID: pinflow.MetricLogout, Name: "pinflow_logout_total", Help: "Logouts."},
}

var HistogramDefs = []HistogramDef{
	{ID: pinflow.MetricRefreshLatency, Name: "pinflow_refresh_latency_seconds", Help: "Token refresh cycle latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundValues are HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundSuffix names each bound in instrument names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
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
