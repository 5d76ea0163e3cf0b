// Package metrics provides observability hooks for scan coordination.
//
// It implements the Null Object pattern so components never need nil checks:
// every consumer defaults to NoopRecorder, and the daemon swaps in a
// PrometheusRecorder when its HTTP server is running. Components receive a
// Recorder through dependency injection:
//
//	loop := scheduler.New(p, deps, scheduler.Options{Recorder: metrics.NoopRecorder{}})
//
// To expose metrics, build a recorder against a registry and serve it:
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	mux.Handle("/metrics", metrics.HTTPHandler(reg))
//
// Keys-scanned counters are float64 and therefore lossy above 2^53; they are
// operator telemetry, never the basis for dedup decisions (the interval store
// is).
package metrics
