package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/pool"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// runSync fetches the pool's coverage for one puzzle and records it.
func runSync(cfg *config.Config, puzzleID int) error {
	if !cfg.Pool.IsEnabled() || cfg.Pool.BaseURL == "" {
		return fmt.Errorf("pool is disabled in the configuration")
	}

	reg, err := puzzle.FromConfig(cfg)
	if err != nil {
		return err
	}
	p, ok := reg.Get(puzzleID)
	if !ok {
		return fmt.Errorf("puzzle %d is not configured", puzzleID)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	timeout := cfg.Pool.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPoolTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := pool.NewClient(cfg.Pool)
	spans, err := client.Sync(ctx, p)
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		slog.Info("Pool reported no coverage", "puzzle", p.ID)
		return nil
	}

	ivs := make([]store.ScannedInterval, 0, len(spans))
	for _, s := range spans {
		ivs = append(ivs, store.ScannedInterval{
			PuzzleID: p.ID,
			Span:     s,
			Source:   store.SourcePool,
		})
	}
	if err := st.RecordBatch(ctx, ivs); err != nil {
		return err
	}
	if err := st.AppendEvent(ctx, p.ID, store.EventPoolSync, fmt.Sprintf("%d spans", len(spans))); err != nil {
		slog.Warn("Failed to append audit event", "error", err)
	}

	slog.Info("Pool coverage recorded", "puzzle", p.ID, "spans", len(spans),
		"keys", humanize.BigComma(interval.Sum(spans)))
	return nil
}
