package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
	"git.home.luguber.info/inful/scancoord/internal/pool"
	"git.home.luguber.info/inful/scancoord/internal/scheduler"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// startPoolSync schedules one periodic pool sync job per puzzle loop.
// Returns nil when the pool is disabled.
func (d *Daemon) startPoolSync(cfg *config.Config, client *pool.Client, loops map[int]*scheduler.Loop) (gocron.Scheduler, error) {
	if client == nil {
		return nil, nil
	}
	interval := cfg.Pool.SyncInterval
	if interval <= 0 {
		interval = config.DefaultPoolInterval
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create pool sync scheduler: %w", err)
	}

	for _, l := range loops {
		_, err := s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(d.syncPuzzle, client, l),
			gocron.WithName(fmt.Sprintf("pool-sync-%d", l.Puzzle().ID)),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("schedule pool sync: %w", err)
		}
	}

	s.Start()
	slog.Info("Pool sync scheduled",
		slog.Int("puzzles", len(loops)),
		slog.Duration("interval", interval))
	return s, nil
}

// syncPuzzle performs one out-of-band pool sync for a running loop. Fresh
// coverage is persisted and, when it overlaps the loop's in-flight dispatch,
// the dispatch is aborted so the loop re-seeks around it.
func (d *Daemon) syncPuzzle(client *pool.Client, l *scheduler.Loop) {
	p := l.Puzzle()
	timeout := d.config().Pool.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPoolTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	spans, err := client.Sync(ctx, p)
	d.recorder.ObservePoolSyncDuration(time.Since(start))
	if err != nil {
		d.recorder.IncPoolSync(false)
		slog.Warn("Scheduled pool sync failed",
			logfields.Puzzle(p.ID), logfields.Error(err))
		return
	}
	d.recorder.IncPoolSync(true)
	if len(spans) == 0 {
		return
	}

	ivs := make([]store.ScannedInterval, 0, len(spans))
	for _, sp := range spans {
		ivs = append(ivs, store.ScannedInterval{
			PuzzleID: p.ID,
			Span:     sp,
			Source:   store.SourcePool,
		})
	}
	if err := d.store.RecordBatch(ctx, ivs); err != nil {
		slog.Warn("Failed to persist pool coverage",
			logfields.Puzzle(p.ID), logfields.Error(err))
		return
	}
	if err := d.store.AppendEvent(ctx, p.ID, store.EventPoolSync, fmt.Sprintf("%d spans", len(spans))); err != nil {
		slog.Warn("Failed to append audit event",
			logfields.Puzzle(p.ID), logfields.Error(err))
	}
	d.emitter.EmitPoolSynced(p.ID, len(spans))

	// The loop audits the collision itself when the aborted dispatch
	// comes back.
	l.AbortIfCovered(spans)

	slog.Info("Scheduled pool sync completed",
		logfields.Puzzle(p.ID), slog.Int("spans", len(spans)))
}
