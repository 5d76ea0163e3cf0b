// Package scheduler drives one puzzle's scan loop: merge pool and local
// coverage, seek the next unscanned gap, filter, dispatch the external
// search process, record the result, checkpoint, repeat.
package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/dispatch"
	"git.home.luguber.info/inful/scancoord/internal/filter"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/metrics"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/retry"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// State is where the loop currently stands. Transitions follow
// idle → syncing → seeking → filtering → dispatching → recording →
// checkpointing → seeking…, ending in exhausted, paused, halted or failed.
type State string

const (
	StateIdle          State = "idle"
	StateSyncing       State = "syncing"
	StateSeeking       State = "seeking"
	StateFiltering     State = "filtering"
	StateDispatching   State = "dispatching"
	StateRecording     State = "recording"
	StateCheckpointing State = "checkpointing"
	// StatePaused: the operator stopped the session; resumable.
	StatePaused State = "paused"
	// StateExhausted: no gap left between cursor and range end.
	StateExhausted State = "exhausted"
	// StateHalted: key material surfaced; the puzzle waits for review.
	StateHalted State = "halted"
	// StateFailed: a fatal error stopped this puzzle's loop.
	StateFailed State = "failed"
)

// Store is the slice of the interval store the loop depends on.
type Store interface {
	Record(ctx context.Context, iv store.ScannedInterval) error
	RecordBatch(ctx context.Context, intervals []store.ScannedInterval) error
	Coverage(ctx context.Context, puzzleID int, sources ...store.Source) ([]interval.Span, error)
	AppendEvent(ctx context.Context, puzzleID int, kind, detail string) error
}

// Sessions persists scan progress between runs.
type Sessions interface {
	Load(puzzleID int) (*session.State, error)
	Checkpoint(st *session.State) error
}

// PoolSyncer fetches the pool's reported coverage for a puzzle.
type PoolSyncer interface {
	Sync(ctx context.Context, p puzzle.Puzzle) ([]interval.Span, error)
}

// Dispatcher runs the external search process over one sub-range.
type Dispatcher interface {
	Run(ctx context.Context, p puzzle.Puzzle, sub interval.Span) dispatch.Result
}

// Events publishes coordinator milestones.
type Events interface {
	EmitKeyFound(puzzleID int, address, dispatchID string, sub interval.Span, rawLines []string)
	EmitBlockCompleted(puzzleID int, block interval.Span, keysScanned, keysSkipped *big.Int)
	EmitPoolSynced(puzzleID, spans int)
}

// Deps wires one loop's collaborators. Store, Sessions and Dispatcher are
// required; everything else degrades to a no-op when absent.
type Deps struct {
	Store      Store
	Sessions   Sessions
	Pool       PoolSyncer
	Dispatcher Dispatcher
	Filter     *filter.Filter
	Events     Events
	Metrics    metrics.Recorder

	// PoolSyncInterval spaces the loop's own syncs; zero or negative syncs
	// once at startup only. PoolTimeout bounds each sync call.
	PoolSyncInterval time.Duration
	PoolTimeout      time.Duration

	DispatchRetry retry.Policy
	StorageRetry  retry.Policy

	// FoundLog is an append-only file mirroring raw found-key output.
	// Empty disables the mirror.
	FoundLog string
}

// Loop runs one puzzle. Run owns all session and cursor mutation; the
// snapshot fields below the mutex exist only for concurrent observers.
type Loop struct {
	puzzle puzzle.Puzzle
	params config.ScanParams
	deps   Deps
	label  string

	mu            sync.Mutex
	state         State
	cursor        *big.Int
	keysChecked   int64
	speed         float64
	coverageRatio float64
	lastSync      time.Time
	lastErr       error

	active       *interval.Span
	cancelActive context.CancelFunc
	collision    bool
}

// New validates the wiring and builds a loop in the idle state.
func New(p puzzle.Puzzle, params config.ScanParams, deps Deps) (*Loop, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("scheduler: store, sessions and dispatcher are required")
	}
	if params.BlockSize == nil || params.BlockSize.Sign() <= 0 {
		return nil, fmt.Errorf("scheduler: block size must be positive")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.Filter == nil {
		deps.Filter = filter.New(false)
	}
	if deps.DispatchRetry == (retry.Policy{}) {
		deps.DispatchRetry = retry.DefaultPolicy()
	} else if err := deps.DispatchRetry.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: dispatch retry policy: %w", err)
	}
	if deps.StorageRetry == (retry.Policy{}) {
		deps.StorageRetry = retry.StoragePolicy()
	} else if err := deps.StorageRetry.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: storage retry policy: %w", err)
	}

	return &Loop{
		puzzle: p,
		params: params,
		deps:   deps,
		label:  strconv.Itoa(p.ID),
		state:  StateIdle,
		cursor: new(big.Int).Set(p.Range.Start),
	}, nil
}

// Puzzle returns the loop's scan target.
func (l *Loop) Puzzle() puzzle.Puzzle { return l.puzzle }

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) setCursor(c *big.Int) {
	l.mu.Lock()
	l.cursor = new(big.Int).Set(c)
	l.mu.Unlock()
}

func (l *Loop) setKeysChecked(n int64) {
	l.mu.Lock()
	l.keysChecked = n
	l.mu.Unlock()
}

func (l *Loop) setSpeed(mks float64) {
	l.mu.Lock()
	l.speed = mks
	l.mu.Unlock()
}
