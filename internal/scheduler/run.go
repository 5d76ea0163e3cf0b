package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/dispatch"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// Run drives the loop until the keyspace is exhausted, a key is found, the
// context is cancelled, or a fatal error stops this puzzle. Deliberate stops
// (paused, exhausted, halted) return nil; fatal storage and state conditions
// come back as errors carrying the failure kind.
func (l *Loop) Run(ctx context.Context) error {
	st, err := l.deps.Sessions.Load(l.puzzle.ID)
	if err != nil {
		return l.fail(err)
	}
	if st == nil {
		st = &session.State{
			PuzzleID: l.puzzle.ID,
			Cursor:   new(big.Int).Set(l.puzzle.Range.Start),
		}
		slog.Info("Starting fresh session",
			logfields.Puzzle(l.puzzle.ID),
			logfields.Cursor(fmt.Sprintf("%X", st.Cursor)))
	} else {
		// A checkpoint can predate a range change in the config; a cursor
		// below the configured start would seek outside the range.
		if st.Cursor.Cmp(l.puzzle.Range.Start) < 0 {
			slog.Warn("Checkpoint cursor below the range start, clamping",
				logfields.Puzzle(l.puzzle.ID),
				logfields.Cursor(fmt.Sprintf("%X", st.Cursor)),
				logfields.RangeStart(fmt.Sprintf("%X", l.puzzle.Range.Start)))
			st.Cursor = new(big.Int).Set(l.puzzle.Range.Start)
		}
		slog.Info("Resuming session",
			logfields.Puzzle(l.puzzle.ID),
			logfields.Cursor(fmt.Sprintf("%X", st.Cursor)),
			logfields.KeysChecked(st.KeysChecked))
		l.audit(store.EventSessionRestart, fmt.Sprintf("resumed at cursor %X", st.Cursor))
	}
	// The configured sizes win; the state file only records what the last
	// checkpoint ran with.
	st.BlockSize = l.params.BlockSize
	st.SubRangeSize = l.params.SubRangeSize
	st.Stride = l.params.Stride
	st.InterRangeDelay = l.params.InterRangeDelay
	l.setCursor(st.Cursor)
	l.setKeysChecked(st.KeysChecked)

	for {
		if ctx.Err() != nil {
			return l.pause()
		}

		l.maybeSync(ctx)

		l.setState(StateSeeking)
		covered, err := l.coverage(ctx)
		if err != nil {
			return l.fail(err)
		}
		l.updateCoverageRatio(covered)

		gap := interval.NextGap(covered, st.Cursor, l.puzzle.Range.End)
		if gap == nil {
			l.setState(StateExhausted)
			slog.Info("Keyspace exhausted", logfields.Puzzle(l.puzzle.ID),
				logfields.KeysChecked(st.KeysChecked))
			return nil
		}
		block := interval.Clip(*gap, st.BlockSize)

		outcome, err := l.processBlock(ctx, st, block)
		if err != nil {
			return l.fail(err)
		}
		switch outcome {
		case blockPaused:
			return l.pause()
		case blockFound:
			l.setState(StateHalted)
			slog.Warn("Scan halted for operator review", logfields.Puzzle(l.puzzle.ID))
			return nil
		case blockCollision:
			// Fresh pool coverage overlaps the in-flight work; seek again
			// from the unchanged cursor, the merged coverage now routes
			// around the collided territory.
			continue
		}

		st.Cursor = l.nextCursor(st, block)
		l.setCursor(st.Cursor)
		l.setState(StateCheckpointing)
		if err := l.checkpoint(ctx, st); err != nil {
			return l.fail(err)
		}

		if !l.sleep(ctx, l.params.InterRangeDelay) {
			return l.pause()
		}
	}
}

type blockOutcome int

const (
	blockDone blockOutcome = iota
	blockPaused
	blockFound
	blockCollision
)

// processBlock walks the block sub-range by sub-range. Skipped sub-ranges
// are audited but never recorded as coverage: the store holds only what was
// actually scanned, so an exhaustive re-run after a session reset still
// visits them.
func (l *Loop) processBlock(ctx context.Context, st *session.State, block interval.Span) (blockOutcome, error) {
	scanned := new(big.Int)
	skipped := new(big.Int)

	for _, sub := range interval.Carve(block, st.SubRangeSize) {
		if ctx.Err() != nil {
			return blockPaused, nil
		}

		l.setState(StateFiltering)
		if d := l.deps.Filter.Evaluate(sub); !d.Scan {
			skipped.Add(skipped, sub.Length())
			l.deps.Metrics.IncSubRangeSkipped(l.label, d.Rule)
			l.deps.Metrics.AddKeysSkipped(l.label, lengthFloat(sub))
			l.audit(store.EventFilterSkip, fmt.Sprintf("%s rule %s", sub, d.Rule))
			continue
		}

		res, outcome := l.dispatchWithRetry(ctx, sub)
		switch outcome {
		case dispatchPaused:
			return blockPaused, nil
		case dispatchCollision:
			l.audit(store.EventPoolCollision, fmt.Sprintf("aborted %s", sub))
			return blockCollision, nil
		case dispatchFound:
			l.recordFound(res)
			return blockFound, nil
		case dispatchFatal:
			l.deps.Metrics.IncFatalBlock(l.label)
			l.audit(store.EventFatalBlock, fmt.Sprintf("%s: %v", sub, res.Err))
			return blockDone, res.Err
		}

		l.setState(StateRecording)
		if err := l.record(ctx, sub); err != nil {
			return blockDone, err
		}
		scanned.Add(scanned, sub.Length())
		st.KeysChecked += lengthInt64(sub)
		l.setKeysChecked(st.KeysChecked)
		l.deps.Metrics.AddKeysScanned(l.label, lengthFloat(sub))

		l.setState(StateCheckpointing)
		if err := l.checkpoint(ctx, st); err != nil {
			return blockDone, err
		}
	}

	if l.deps.Events != nil {
		l.deps.Events.EmitBlockCompleted(l.puzzle.ID, block, scanned, skipped)
	}
	return blockDone, nil
}

type dispatchOutcome int

const (
	dispatchCompleted dispatchOutcome = iota
	dispatchPaused
	dispatchCollision
	dispatchFound
	dispatchFatal
)

// dispatchWithRetry runs one sub-range, retrying crashes per policy before
// escalating a fatal block.
func (l *Loop) dispatchWithRetry(ctx context.Context, sub interval.Span) (dispatch.Result, dispatchOutcome) {
	for attempt := 0; ; attempt++ {
		dctx, cancel := context.WithCancel(ctx)
		l.setActive(sub, cancel)
		l.setState(StateDispatching)
		res := l.deps.Dispatcher.Run(dctx, l.puzzle, sub)
		collided := l.clearActive()
		cancel()

		if res.SpeedMks > 0 {
			l.setSpeed(res.SpeedMks)
		}

		switch res.Status {
		case dispatch.StatusFoundKey:
			return res, dispatchFound
		case dispatch.StatusCancelled:
			if ctx.Err() != nil {
				return res, dispatchPaused
			}
			if collided {
				return res, dispatchCollision
			}
			fallthrough
		case dispatch.StatusCrashed:
			if attempt >= l.deps.DispatchRetry.MaxRetries {
				return res, dispatchFatal
			}
			slog.Warn("Search process crashed, retrying sub-range",
				logfields.Puzzle(l.puzzle.ID),
				slog.String("range", sub.String()),
				logfields.Attempt(attempt+1),
				logfields.Error(res.Err))
			l.deps.Metrics.IncDispatchRetry(l.label)
			if !l.sleep(ctx, l.deps.DispatchRetry.Delay(attempt+1)) {
				return res, dispatchPaused
			}
		default:
			return res, dispatchCompleted
		}
	}
}

// maybeSync runs a bounded pool sync when one is due. Failures degrade to
// local-only coverage and never stall the loop.
func (l *Loop) maybeSync(ctx context.Context) {
	if l.deps.Pool == nil {
		return
	}
	l.mu.Lock()
	last := l.lastSync
	l.mu.Unlock()
	if !last.IsZero() && (l.deps.PoolSyncInterval <= 0 || time.Since(last) < l.deps.PoolSyncInterval) {
		return
	}

	l.setState(StateSyncing)
	timeout := l.deps.PoolTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	spans, err := l.deps.Pool.Sync(sctx, l.puzzle)
	l.mu.Lock()
	l.lastSync = time.Now()
	l.mu.Unlock()
	l.deps.Metrics.ObservePoolSyncDuration(time.Since(start))

	if err != nil {
		l.deps.Metrics.IncPoolSync(false)
		slog.Warn("Pool sync failed, continuing on local coverage",
			logfields.Puzzle(l.puzzle.ID), logfields.Error(err))
		return
	}
	l.deps.Metrics.IncPoolSync(true)

	if len(spans) > 0 {
		ivs := make([]store.ScannedInterval, 0, len(spans))
		for _, s := range spans {
			ivs = append(ivs, store.ScannedInterval{
				PuzzleID: l.puzzle.ID,
				Span:     s,
				Source:   store.SourcePool,
			})
		}
		if err := l.withStorageRetry(ctx, "record pool batch", func() error {
			return l.deps.Store.RecordBatch(ctx, ivs)
		}); err != nil {
			slog.Warn("Failed to persist pool coverage",
				logfields.Puzzle(l.puzzle.ID), logfields.Error(err))
			return
		}
	}

	l.audit(store.EventPoolSync, fmt.Sprintf("%d spans", len(spans)))
	if l.deps.Events != nil {
		l.deps.Events.EmitPoolSynced(l.puzzle.ID, len(spans))
	}
	slog.Info("Pool sync completed",
		logfields.Puzzle(l.puzzle.ID), slog.Int("spans", len(spans)))
}

func (l *Loop) coverage(ctx context.Context) ([]interval.Span, error) {
	var covered []interval.Span
	err := l.withStorageRetry(ctx, "coverage", func() error {
		var err error
		covered, err = l.deps.Store.Coverage(ctx, l.puzzle.ID)
		return err
	})
	return covered, err
}

func (l *Loop) record(ctx context.Context, sub interval.Span) error {
	return l.withStorageRetry(ctx, "record", func() error {
		return l.deps.Store.Record(ctx, store.ScannedInterval{
			PuzzleID:    l.puzzle.ID,
			Span:        sub,
			Source:      store.SourceLocal,
			KeysChecked: lengthInt64(sub),
		})
	})
}

func (l *Loop) checkpoint(ctx context.Context, st *session.State) error {
	return l.withStorageRetry(ctx, "checkpoint", func() error {
		return l.deps.Sessions.Checkpoint(st)
	})
}

// withStorageRetry retries transient persistence failures per policy, then
// gives up with the last error. Errors classified as non-retryable escalate
// immediately; unclassified errors are treated as transient. Each result it
// protects was expensive to produce, so losing it is fatal for the puzzle,
// not for the process.
func (l *Loop) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errdefs.GetKind(err) != errdefs.KindInternal && !errdefs.IsRetryable(err) {
			return err
		}
		if attempt >= l.deps.StorageRetry.MaxRetries {
			return err
		}
		slog.Warn("Store operation failed, retrying",
			logfields.Puzzle(l.puzzle.ID),
			slog.String("operation", op),
			logfields.Attempt(attempt+1),
			logfields.Error(err))
		if !l.sleep(ctx, l.deps.StorageRetry.Delay(attempt+1)) {
			return err
		}
	}
}

// nextCursor advances past the completed block. A full-size block with a
// wider stride jumps from the block start, leaving a deliberate interleave
// gap for sibling instances; partial blocks (clipped by coverage or the
// range end) always continue right after their end so no key is silently
// orphaned.
func (l *Loop) nextCursor(st *session.State, block interval.Span) *big.Int {
	if st.Stride != nil && st.BlockSize != nil &&
		st.Stride.Cmp(st.BlockSize) > 0 &&
		block.Length().Cmp(st.BlockSize) == 0 {
		return new(big.Int).Add(block.Start, st.Stride)
	}
	return new(big.Int).Add(block.End, big.NewInt(1))
}

func (l *Loop) recordFound(res dispatch.Result) {
	slog.Warn("KEY FOUND, halting puzzle for review",
		logfields.Puzzle(l.puzzle.ID),
		logfields.DispatchID(res.DispatchID),
		slog.String("range", res.SubRange.String()))

	detail := fmt.Sprintf("dispatch %s range %s\n%s",
		res.DispatchID, res.SubRange, strings.Join(res.FoundLines, "\n"))
	l.audit(store.EventFoundKey, detail)
	l.mirrorFound(res)

	if l.deps.Events != nil {
		l.deps.Events.EmitKeyFound(l.puzzle.ID, l.puzzle.Address, res.DispatchID, res.SubRange, res.FoundLines)
	}
}

// mirrorFound appends the raw find to the local found-keys log. The search
// binary writes its own found file; this copy survives even if that write
// raced the kill.
func (l *Loop) mirrorFound(res dispatch.Result) {
	if l.deps.FoundLog == "" {
		return
	}
	f, err := os.OpenFile(l.deps.FoundLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Error("Cannot open found-keys log",
			slog.String("path", l.deps.FoundLog), logfields.Error(err))
		return
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(f, "[%s] puzzle %d dispatch %s range %s\n",
		time.Now().UTC().Format(time.RFC3339), l.puzzle.ID, res.DispatchID, res.SubRange)
	for _, line := range res.FoundLines {
		fmt.Fprintln(f, line)
	}
}

// audit appends to the scan audit log, best-effort. A background context
// keeps audit rows flowing even while the loop is shutting down.
func (l *Loop) audit(kind, detail string) {
	if err := l.deps.Store.AppendEvent(context.Background(), l.puzzle.ID, kind, detail); err != nil {
		slog.Warn("Failed to append audit event",
			logfields.Puzzle(l.puzzle.ID), slog.String("kind", kind), logfields.Error(err))
	}
}

func (l *Loop) pause() error {
	l.setState(StatePaused)
	slog.Info("Scan paused", logfields.Puzzle(l.puzzle.ID),
		logfields.Cursor(l.Snapshot().Cursor))
	return nil
}

func (l *Loop) fail(err error) error {
	l.mu.Lock()
	l.state = StateFailed
	l.lastErr = err
	cursor := ""
	if l.cursor != nil {
		cursor = fmt.Sprintf("%X", l.cursor)
	}
	l.mu.Unlock()

	slog.Error("Puzzle loop stopped",
		logfields.Puzzle(l.puzzle.ID),
		logfields.Cursor(cursor),
		slog.String("kind", string(errdefs.GetKind(err))),
		logfields.Error(err))
	return err
}

func (l *Loop) updateCoverageRatio(covered []interval.Span) {
	total := l.puzzle.KeyspaceSize()
	if total.Sign() <= 0 {
		return
	}
	sum := new(big.Int)
	for _, s := range covered {
		if c, ok := interval.Clamp(s, l.puzzle.Range); ok {
			sum.Add(sum, c.Length())
		}
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(sum), new(big.Float).SetInt(total)).Float64()

	l.mu.Lock()
	l.coverageRatio = ratio
	l.mu.Unlock()
	l.deps.Metrics.SetCoverageRatio(l.label, ratio)
}

// sleep waits d, returning false when the context ended first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func lengthInt64(s interval.Span) int64 {
	n := s.Length()
	if n.IsInt64() {
		return n.Int64()
	}
	return math.MaxInt64
}

func lengthFloat(s interval.Span) float64 {
	f, _ := new(big.Float).SetInt(s.Length()).Float64()
	return f
}
