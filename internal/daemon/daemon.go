// Package daemon runs the coordinator as a long-lived service: one scheduler
// loop per selected puzzle, periodic out-of-band pool syncs, a status HTTP
// server and an optional NATS event emitter.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/dispatch"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/events"
	"git.home.luguber.info/inful/scancoord/internal/filter"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
	"git.home.luguber.info/inful/scancoord/internal/metrics"
	"git.home.luguber.info/inful/scancoord/internal/pool"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/retry"
	"git.home.luguber.info/inful/scancoord/internal/scheduler"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// DBFileName is the interval store's file under the data directory.
const DBFileName = "scancoord.db"

// FoundLogName is the local found-keys mirror under the data directory.
const FoundLogName = "found_keys.txt"

// Daemon owns the shared infrastructure and supervises the per-puzzle loops.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string
	loops      map[int]*scheduler.Loop
	filter     *filter.Filter

	store    *store.SQLiteStore
	sessions *session.Manager
	lock     *session.Lock
	emitter  *events.Emitter
	registry *prom.Registry
	recorder metrics.Recorder

	// runner overrides the process runner for all dispatchers; nil means
	// the real exec-based runner.
	runner dispatch.Runner

	reloadCh  chan *config.Config
	startTime time.Time
}

// New builds the daemon's shared infrastructure: data dir, instance lock,
// interval store, session manager, metrics registry and the optional NATS
// emitter. configPath enables live reload when non-empty.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock, err := session.AcquireLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, DBFileName))
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	sessions, err := session.NewManager(cfg.DataDir)
	if err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, err
	}

	// The event stream is advisory. A configured but unreachable broker
	// must not keep the scan from starting.
	emitter, err := events.Connect(cfg.Daemon.NATS)
	if err != nil {
		slog.Warn("NATS unavailable, events disabled", logfields.Error(err))
		emitter = nil
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		promcollect.NewGoCollector(),
		promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}),
	)

	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		sessions:   sessions,
		lock:       lock,
		emitter:    emitter,
		registry:   registry,
		recorder:   metrics.NewPrometheusRecorder(registry),
		reloadCh:   make(chan *config.Config, 1),
		startTime:  time.Now(),
	}, nil
}

// Run blocks until ctx is cancelled or a component fails to start. Loop
// failures are contained per puzzle; sibling loops keep scanning.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	slog.Info("Daemon starting",
		slog.String("data_dir", d.config().DataDir),
		slog.Int("puzzles", len(d.config().Puzzles)+len(d.config().CustomPuzzles)))

	g, gctx := errgroup.WithContext(ctx)

	if addr := d.config().Daemon.HTTPAddr; addr != "" {
		srv, err := newStatusServer(addr, d)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.run(gctx) })
	}

	if d.configPath != "" {
		watcher, err := newConfigWatcher(d.configPath, d)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.run(gctx) })
	}

	g.Go(func() error { return d.superviseLoops(gctx) })

	err := g.Wait()
	slog.Info("Daemon stopped")
	return err
}

// superviseLoops runs the per-puzzle loops, restarting the whole set when a
// config reload arrives. Each restart is a clean pause/reconfigure/resume:
// loops checkpoint on pause, so nothing in flight is lost.
func (d *Daemon) superviseLoops(ctx context.Context) error {
	for {
		cfg := d.config()
		loops, poolClient, flt, err := d.buildLoops(cfg)
		if err != nil {
			return err
		}
		d.setLoops(loops, flt)

		syncer, err := d.startPoolSync(cfg, poolClient, loops)
		if err != nil {
			return err
		}

		genCtx, cancel := context.WithCancel(ctx)
		var lg errgroup.Group
		for _, l := range loops {
			lg.Go(func() error {
				d.runLoop(genCtx, l)
				return nil
			})
		}
		done := make(chan struct{})
		go func() { _ = lg.Wait(); close(done) }()

		var next *config.Config
		select {
		case <-ctx.Done():
		case next = <-d.reloadCh:
			slog.Info("Configuration changed, restarting puzzle loops")
		case <-done:
			slog.Info("All puzzle loops stopped; daemon stays up for status queries")
			select {
			case <-ctx.Done():
			case next = <-d.reloadCh:
				slog.Info("Configuration changed, restarting puzzle loops")
			}
		}

		cancel()
		<-done
		if syncer != nil {
			if err := syncer.Shutdown(); err != nil {
				slog.Warn("Pool sync scheduler shutdown", logfields.Error(err))
			}
		}
		if next == nil {
			return nil
		}
		d.setConfig(next)
	}
}

// buildLoops wires one scheduler loop per selected puzzle from the given
// config. The returned filter is shared by every loop, so its accounting
// spans the whole generation.
func (d *Daemon) buildLoops(cfg *config.Config) (map[int]*scheduler.Loop, *pool.Client, *filter.Filter, error) {
	reg, err := puzzle.FromConfig(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	params, err := cfg.Scan.Params()
	if err != nil {
		return nil, nil, nil, err
	}
	flt, err := filter.FromConfig(cfg.Filter)
	if err != nil {
		return nil, nil, nil, err
	}
	if flt.Enabled() {
		slog.Info("Smart filter active",
			slog.Int("strategies", len(cfg.Filter.Strategies)),
			slog.Float64("estimated_reduction", flt.EstimatedReduction()))
	}

	var poolClient *pool.Client
	if cfg.Pool.IsEnabled() && cfg.Pool.BaseURL != "" {
		poolClient = pool.NewClient(cfg.Pool)
	}

	dispatcher := dispatch.New(cfg.Dispatch, d.runner, d.recorder)
	dispatchRetry := retry.ForDispatch(cfg.Dispatch)

	loops := make(map[int]*scheduler.Loop, len(reg.All()))
	for _, p := range reg.All() {
		deps := scheduler.Deps{
			Store:      d.store,
			Sessions:   d.sessions,
			Dispatcher: dispatcher,
			Filter:     flt,
			Metrics:    d.recorder,
			Events:     emitterOrNil(d.emitter),

			// The gocron job owns the periodic cadence; the loop itself
			// syncs once at startup so seeking never begins blind.
			Pool:             poolSyncerOrNil(poolClient),
			PoolSyncInterval: 0,
			PoolTimeout:      cfg.Pool.Timeout,

			DispatchRetry: dispatchRetry,
			FoundLog:      filepath.Join(cfg.DataDir, FoundLogName),
		}
		loop, err := scheduler.New(p, params, deps)
		if err != nil {
			return nil, nil, nil, err
		}
		loops[p.ID] = loop
	}
	return loops, poolClient, flt, nil
}

// runLoop contains one puzzle's failures so siblings keep going.
func (d *Daemon) runLoop(ctx context.Context, l *scheduler.Loop) {
	p := l.Puzzle()
	slog.Info("Puzzle loop starting", logfields.Puzzle(p.ID),
		logfields.RangeStart(fmt.Sprintf("%X", p.Range.Start)),
		logfields.RangeEnd(fmt.Sprintf("%X", p.Range.End)))

	if err := l.Run(ctx); err != nil {
		if errdefs.IsKind(err, errdefs.KindCorruptState) {
			slog.Error("Puzzle loop failed on corrupt state; 'scancoord reset' clears an unreadable session checkpoint",
				logfields.Puzzle(p.ID), logfields.Error(err))
			return
		}
		slog.Error("Puzzle loop failed", logfields.Puzzle(p.ID), logfields.Error(err))
		return
	}
	slog.Info("Puzzle loop finished", logfields.Puzzle(p.ID),
		logfields.State(string(l.State())))
}

// Snapshots returns the current per-puzzle status, ordered by puzzle ID.
func (d *Daemon) Snapshots() []scheduler.Snapshot {
	d.mu.RLock()
	loops := d.loops
	d.mu.RUnlock()

	out := make([]scheduler.Snapshot, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.Snapshot())
	}
	sortSnapshots(out)
	return out
}

func sortSnapshots(s []scheduler.Snapshot) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].PuzzleID > s[j].PuzzleID; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) setConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Daemon) setLoops(loops map[int]*scheduler.Loop, flt *filter.Filter) {
	d.mu.Lock()
	d.loops = loops
	d.filter = flt
	d.mu.Unlock()
}

// activeFilter returns the current generation's shared filter, nil before
// the first loops are built.
func (d *Daemon) activeFilter() *filter.Filter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter
}

// requestReload hands a validated config to the supervisor. A newer config
// replaces one still waiting.
func (d *Daemon) requestReload(cfg *config.Config) {
	for {
		select {
		case d.reloadCh <- cfg:
			return
		default:
			select {
			case <-d.reloadCh:
			default:
			}
		}
	}
}

func (d *Daemon) close() {
	d.emitter.Close()
	if err := d.store.Close(); err != nil {
		slog.Warn("Closing interval store", logfields.Error(err))
	}
	if err := d.lock.Release(); err != nil {
		slog.Warn("Releasing instance lock", logfields.Error(err))
	}
}

// emitterOrNil avoids handing a typed-nil *events.Emitter to the scheduler's
// Events interface, which would defeat its emitter == nil checks.
func emitterOrNil(e *events.Emitter) scheduler.Events {
	if e == nil {
		return nil
	}
	return e
}

func poolSyncerOrNil(c *pool.Client) scheduler.PoolSyncer {
	if c == nil {
		return nil
	}
	return c
}
