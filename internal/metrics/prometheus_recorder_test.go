package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveDispatchDuration("71", 150*time.Millisecond)
	pr.IncDispatchResult("71", ResultCompleted)
	pr.IncSubRangeSkipped("71", "repeated-3")
	pr.AddKeysScanned("71", 68719476736)
	pr.AddKeysSkipped("71", 68719476736)
	pr.SetScanSpeed("71", 226.5)
	pr.SetCoverageRatio("71", 0.031)
	pr.IncPoolSync(true)
	pr.ObservePoolSyncDuration(1200 * time.Millisecond)
	pr.IncDispatchRetry("71")
	pr.IncFatalBlock("71")

	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestAddKeysIgnoresNonPositive(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.AddKeysScanned("71", 0)
	pr.AddKeysScanned("71", -5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "scancoord_keys_scanned_total" {
			t.Fatalf("counter should not exist before a positive add")
		}
	}
}
