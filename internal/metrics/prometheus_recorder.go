package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	dispatchDuration *prom.HistogramVec
	dispatchResults  *prom.CounterVec
	subRangeSkips    *prom.CounterVec
	keysScanned      *prom.CounterVec
	keysSkipped      *prom.CounterVec
	scanSpeed        *prom.GaugeVec
	coverageRatio    *prom.GaugeVec
	poolSyncs        *prom.CounterVec
	poolSyncDuration prom.Histogram
	dispatchRetries  *prom.CounterVec
	fatalBlocks      *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.dispatchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "scancoord",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of individual sub-range dispatches",
			Buckets:   prom.ExponentialBuckets(1, 4, 10),
		}, []string{"puzzle"})
		pr.dispatchResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "dispatch_results_total",
			Help:      "Dispatch result counts by outcome",
		}, []string{"puzzle", "result"})
		pr.subRangeSkips = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "sub_range_skips_total",
			Help:      "Sub-ranges skipped by the pattern filter, per rule",
		}, []string{"puzzle", "rule"})
		pr.keysScanned = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "keys_scanned_total",
			Help:      "Keys covered by locally completed sub-ranges",
		}, []string{"puzzle"})
		pr.keysSkipped = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "keys_skipped_total",
			Help:      "Keys passed over by filter decisions",
		}, []string{"puzzle"})
		pr.scanSpeed = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "scancoord",
			Name:      "scan_speed_mkeys",
			Help:      "Last reported search process speed in Mk/s",
		}, []string{"puzzle"})
		pr.coverageRatio = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "scancoord",
			Name:      "coverage_ratio",
			Help:      "Fraction of the puzzle keyspace covered by merged pool+local intervals",
		}, []string{"puzzle"})
		pr.poolSyncs = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "pool_syncs_total",
			Help:      "Pool sync attempts by result",
		}, []string{"result"})
		pr.poolSyncDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "scancoord",
			Name:      "pool_sync_duration_seconds",
			Help:      "Duration of pool page fetch and decode",
			Buckets:   prom.DefBuckets,
		})
		pr.dispatchRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "dispatch_retries_total",
			Help:      "Re-dispatches of crashed sub-ranges",
		}, []string{"puzzle"})
		pr.fatalBlocks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "scancoord",
			Name:      "fatal_blocks_total",
			Help:      "Blocks escalated to the operator after exhausted retries",
		}, []string{"puzzle"})
		reg.MustRegister(pr.dispatchDuration, pr.dispatchResults, pr.subRangeSkips,
			pr.keysScanned, pr.keysSkipped, pr.scanSpeed, pr.coverageRatio,
			pr.poolSyncs, pr.poolSyncDuration, pr.dispatchRetries, pr.fatalBlocks)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveDispatchDuration(puzzle string, d time.Duration) {
	if p == nil || p.dispatchDuration == nil {
		return
	}
	p.dispatchDuration.WithLabelValues(puzzle).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDispatchResult(puzzle string, result ResultLabel) {
	if p == nil || p.dispatchResults == nil {
		return
	}
	p.dispatchResults.WithLabelValues(puzzle, string(result)).Inc()
}

func (p *PrometheusRecorder) IncSubRangeSkipped(puzzle, rule string) {
	if p == nil || p.subRangeSkips == nil {
		return
	}
	p.subRangeSkips.WithLabelValues(puzzle, rule).Inc()
}

func (p *PrometheusRecorder) AddKeysScanned(puzzle string, n float64) {
	if p == nil || p.keysScanned == nil || n <= 0 {
		return
	}
	p.keysScanned.WithLabelValues(puzzle).Add(n)
}

func (p *PrometheusRecorder) AddKeysSkipped(puzzle string, n float64) {
	if p == nil || p.keysSkipped == nil || n <= 0 {
		return
	}
	p.keysSkipped.WithLabelValues(puzzle).Add(n)
}

func (p *PrometheusRecorder) SetScanSpeed(puzzle string, mkeysPerSec float64) {
	if p == nil || p.scanSpeed == nil {
		return
	}
	p.scanSpeed.WithLabelValues(puzzle).Set(mkeysPerSec)
}

func (p *PrometheusRecorder) SetCoverageRatio(puzzle string, ratio float64) {
	if p == nil || p.coverageRatio == nil {
		return
	}
	p.coverageRatio.WithLabelValues(puzzle).Set(ratio)
}

func (p *PrometheusRecorder) IncPoolSync(success bool) {
	if p == nil || p.poolSyncs == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.poolSyncs.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) ObservePoolSyncDuration(d time.Duration) {
	if p == nil || p.poolSyncDuration == nil {
		return
	}
	p.poolSyncDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDispatchRetry(puzzle string) {
	if p == nil || p.dispatchRetries == nil {
		return
	}
	p.dispatchRetries.WithLabelValues(puzzle).Inc()
}

func (p *PrometheusRecorder) IncFatalBlock(puzzle string) {
	if p == nil || p.fatalBlocks == nil {
		return
	}
	p.fatalBlocks.WithLabelValues(puzzle).Inc()
}
