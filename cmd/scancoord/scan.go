package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/dispatch"
	"git.home.luguber.info/inful/scancoord/internal/filter"
	"git.home.luguber.info/inful/scancoord/internal/pool"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/retry"
	"git.home.luguber.info/inful/scancoord/internal/scheduler"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// runScan drives one puzzle in the foreground until the keyspace is
// exhausted, a key is found, or the operator interrupts. Unlike daemon mode
// the loop schedules its own pool syncs.
func runScan(cfg *config.Config, puzzleID int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := puzzle.FromConfig(cfg)
	if err != nil {
		return err
	}
	p, ok := reg.Get(puzzleID)
	if !ok {
		return fmt.Errorf("puzzle %d is not configured", puzzleID)
	}
	params, err := cfg.Scan.Params()
	if err != nil {
		return err
	}
	flt, err := filter.FromConfig(cfg.Filter)
	if err != nil {
		return err
	}
	if flt.Enabled() {
		slog.Info("Smart filter active",
			"strategies", len(cfg.Filter.Strategies),
			"estimated_reduction", flt.EstimatedReduction())
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock, err := session.AcquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sessions, err := session.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}

	deps := scheduler.Deps{
		Store:      st,
		Sessions:   sessions,
		Dispatcher: dispatch.New(cfg.Dispatch, nil, nil),
		Filter:     flt,

		PoolSyncInterval: cfg.Pool.SyncInterval,
		PoolTimeout:      cfg.Pool.Timeout,

		DispatchRetry: retry.ForDispatch(cfg.Dispatch),
		FoundLog:      filepath.Join(cfg.DataDir, daemon.FoundLogName),
	}
	if cfg.Pool.IsEnabled() && cfg.Pool.BaseURL != "" {
		deps.Pool = pool.NewClient(cfg.Pool)
	}

	loop, err := scheduler.New(p, params, deps)
	if err != nil {
		return err
	}

	slog.Info("Scanning puzzle in the foreground",
		"puzzle", p.ID,
		"address", p.Address,
		"range", p.Range.String())

	if err := loop.Run(ctx); err != nil {
		return err
	}

	snap := loop.Snapshot()
	slog.Info("Scan finished",
		"puzzle", snap.PuzzleID,
		"state", string(snap.State),
		"cursor", snap.Cursor,
		"keys_checked", snap.KeysChecked)
	return nil
}
