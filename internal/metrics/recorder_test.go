package metrics

import (
	"testing"
	"time"
)

// Compile-time checks that both implementations satisfy the interface.
var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveDispatchDuration("71", time.Second)
	r.IncDispatchResult("71", ResultCompleted)
	r.IncSubRangeSkipped("71", "repeated-3")
	r.AddKeysScanned("71", 1e9)
	r.AddKeysSkipped("71", 1e9)
	r.SetScanSpeed("71", 226.0)
	r.SetCoverageRatio("71", 0.25)
	r.IncPoolSync(true)
	r.ObservePoolSyncDuration(time.Second)
	r.IncDispatchRetry("71")
	r.IncFatalBlock("71")
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveDispatchDuration("71", time.Second)
	pr.IncDispatchResult("71", ResultCrashed)
	pr.SetScanSpeed("71", 100)
	pr.IncPoolSync(false)
}
