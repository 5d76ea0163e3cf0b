package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/scancoord/internal/logfields"
	"git.home.luguber.info/inful/scancoord/internal/metrics"
	"git.home.luguber.info/inful/scancoord/internal/scheduler"
)

// statusServer exposes health, per-puzzle status and Prometheus metrics.
type statusServer struct {
	daemon *Daemon
	ln     net.Listener
	srv    *http.Server
}

// newStatusServer binds the listener up front so a taken port fails the
// daemon start instead of surfacing later as a background log line.
func newStatusServer(addr string, d *Daemon) (*statusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status server %s: %w", addr, err)
	}

	s := &statusServer{daemon: d, ln: ln}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", metrics.HTTPHandler(d.registry))

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *statusServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", slog.String("addr", s.ln.Addr().String()))
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Status server shutdown", logfields.Error(err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *statusServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusResponse is the /status payload.
type statusResponse struct {
	Uptime  string         `json:"uptime"`
	Filter  filterStatus   `json:"filter"`
	Puzzles []puzzleStatus `json:"puzzles"`
}

// filterStatus reports the smart filter shared by all puzzle loops.
type filterStatus struct {
	Enabled            bool    `json:"enabled"`
	SkipRatio          float64 `json:"skip_ratio"`
	EstimatedReduction float64 `json:"estimated_reduction"`
}

type puzzleStatus struct {
	scheduler.Snapshot
	KeysCheckedHuman string `json:"keys_checked_human"`
	CoveragePercent  string `json:"coverage_percent"`
}

func (s *statusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snaps := s.daemon.Snapshots()

	resp := statusResponse{
		Uptime:  time.Since(s.daemon.startTime).Round(time.Second).String(),
		Puzzles: make([]puzzleStatus, 0, len(snaps)),
	}
	if flt := s.daemon.activeFilter(); flt != nil {
		resp.Filter = filterStatus{
			Enabled:            flt.Enabled(),
			SkipRatio:          flt.Accounting().SkipRatio(),
			EstimatedReduction: flt.EstimatedReduction(),
		}
	}
	for _, snap := range snaps {
		resp.Puzzles = append(resp.Puzzles, puzzleStatus{
			Snapshot:         snap,
			KeysCheckedHuman: humanize.Comma(snap.KeysChecked),
			CoveragePercent:  fmt.Sprintf("%.4f%%", snap.CoverageRatio*100),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Encoding status response", logfields.Error(err))
	}
}
