package metrics

import "time"

// ResultLabel enumerates dispatch result categories for counters.
type ResultLabel string

const (
	ResultCompleted ResultLabel = "completed"
	ResultFoundKey  ResultLabel = "found_key"
	ResultCrashed   ResultLabel = "crashed"
	ResultCancelled ResultLabel = "cancelled"
)

// Recorder defines observability hooks for scan and dispatch metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for concurrent use; the NoopRecorder default allows optional
// injection without nil checks.
type Recorder interface {
	ObserveDispatchDuration(puzzle string, d time.Duration)
	IncDispatchResult(puzzle string, result ResultLabel)
	IncSubRangeSkipped(puzzle, rule string)
	AddKeysScanned(puzzle string, n float64)
	AddKeysSkipped(puzzle string, n float64)
	SetScanSpeed(puzzle string, mkeysPerSec float64)
	SetCoverageRatio(puzzle string, ratio float64)
	IncPoolSync(success bool)
	ObservePoolSyncDuration(d time.Duration)
	IncDispatchRetry(puzzle string)
	IncFatalBlock(puzzle string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveDispatchDuration(string, time.Duration) {}
func (NoopRecorder) IncDispatchResult(string, ResultLabel)         {}
func (NoopRecorder) IncSubRangeSkipped(string, string)             {}
func (NoopRecorder) AddKeysScanned(string, float64)                {}
func (NoopRecorder) AddKeysSkipped(string, float64)                {}
func (NoopRecorder) SetScanSpeed(string, float64)                  {}
func (NoopRecorder) SetCoverageRatio(string, float64)              {}
func (NoopRecorder) IncPoolSync(bool)                              {}
func (NoopRecorder) ObservePoolSyncDuration(time.Duration)         {}
func (NoopRecorder) IncDispatchRetry(string)                       {}
func (NoopRecorder) IncFatalBlock(string)                          {}
