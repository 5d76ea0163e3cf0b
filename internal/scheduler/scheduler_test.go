package scheduler

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/dispatch"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/filter"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/retry"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// decSpan builds a span from small decimal bounds; tests stay readable in
// base 10 while the loop works in hex.
func decSpan(t *testing.T, start, end int64) interval.Span {
	t.Helper()
	s, err := interval.New(big.NewInt(start), big.NewInt(end))
	require.NoError(t, err)
	return s
}

func testPuzzle(t *testing.T, rangeEnd int64) puzzle.Puzzle {
	t.Helper()
	return puzzle.Puzzle{
		ID:      999,
		Bits:    10,
		Address: "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
		Range:   decSpan(t, 0, rangeEnd),
	}
}

func testParams(block, sub int64) config.ScanParams {
	return config.ScanParams{
		BlockSize:    big.NewInt(block),
		SubRangeSize: big.NewInt(sub),
	}
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{
		Mode:       config.RetryBackoffFixed,
		Initial:    time.Millisecond,
		Max:        time.Millisecond,
		MaxRetries: maxRetries,
	}
}

type loopEnv struct {
	store    *store.SQLiteStore
	sessions *session.Manager
	runner   *dispatch.ScriptRunner
	dir      string
}

func newLoopEnv(t *testing.T, scripts ...dispatch.Script) *loopEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr, err := session.NewManager(dir)
	require.NoError(t, err)

	return &loopEnv{
		store:    st,
		sessions: mgr,
		runner:   dispatch.NewScriptRunner(scripts...),
		dir:      dir,
	}
}

func (e *loopEnv) deps() Deps {
	cfg := config.DispatchConfig{
		Binary:    "./KeyHunt-Cuda",
		Threads:   4,
		Mode:      "address",
		Coin:      "BTC",
		FoundFile: "Found.txt",
	}
	return Deps{
		Store:         e.store,
		Sessions:      e.sessions,
		Dispatcher:    dispatch.New(cfg, e.runner, nil),
		DispatchRetry: fastPolicy(1),
		StorageRetry:  fastPolicy(1),
	}
}

// dispatchedRanges extracts the --range value of every started process, in
// start order.
func (e *loopEnv) dispatchedRanges() []string {
	var out []string
	for _, spec := range e.runner.Started() {
		for i, a := range spec.Args {
			if a == "--range" && i+1 < len(spec.Args) {
				out = append(out, spec.Args[i+1])
			}
		}
	}
	return out
}

func (e *loopEnv) auditKinds(t *testing.T, puzzleID int) []string {
	t.Helper()
	events, err := e.store.EventsByPuzzle(context.Background(), puzzleID, 100)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type stubPool struct {
	spans []interval.Span
	err   error
	block bool
	calls int
}

func (p *stubPool) Sync(ctx context.Context, _ puzzle.Puzzle) ([]interval.Span, error) {
	p.calls++
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.spans, p.err
}

// spanBlocker skips any sub-range overlapping a fixed span.
type spanBlocker struct{ span interval.Span }

func (b spanBlocker) Name() string { return "span_blocker" }
func (b spanBlocker) Skip(s interval.Span) (bool, string) {
	if s.Overlaps(b.span) {
		return true, "inside blocked span"
	}
	return false, ""
}
func (b spanBlocker) Reduction() float64 { return 0.1 }

// flakyStore fails the first Record calls with a fixed error, then delegates.
type flakyStore struct {
	Store
	failures int
	err      error
	calls    int
}

func (f *flakyStore) Record(ctx context.Context, iv store.ScannedInterval) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.Store.Record(ctx, iv)
}

func TestRunExhaustsFreshKeyspace(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 999)

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())

	want := make([]string, 0, 10)
	for i := int64(0); i < 10; i++ {
		want = append(want, decSpan(t, i*100, i*100+99).String())
	}
	assert.Equal(t, want, env.dispatchedRanges())

	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, covered, 1)
	assert.True(t, covered[0].Equal(decSpan(t, 0, 999)))

	st, err := env.sessions.Load(p.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(1000), st.KeysChecked)
	assert.Equal(t, big.NewInt(1000), st.Cursor)

	snap := loop.Snapshot()
	assert.Equal(t, StateExhausted, snap.State)
	assert.InDelta(t, 1.0, snap.CoverageRatio, 0.001)
}

func TestRunSeeksPastRecordedCoverage(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 299)

	ctx := context.Background()
	require.NoError(t, env.store.Record(ctx, store.ScannedInterval{
		PuzzleID: p.ID, Span: decSpan(t, 0, 49), Source: store.SourceLocal,
	}))
	require.NoError(t, env.store.Record(ctx, store.ScannedInterval{
		PuzzleID: p.ID, Span: decSpan(t, 40, 89), Source: store.SourcePool,
	}))

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(ctx))

	ranges := env.dispatchedRanges()
	require.NotEmpty(t, ranges)
	assert.Equal(t, decSpan(t, 90, 189).String(), ranges[0])
	assert.Equal(t, StateExhausted, loop.State())
}

func TestRunHaltsOnFoundKey(t *testing.T) {
	scripts := make([]dispatch.Script, 0, 6)
	for i := 0; i < 5; i++ {
		scripts = append(scripts, dispatch.Script{})
	}
	scripts = append(scripts, dispatch.Script{Lines: []string{
		"PubAddress: 1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
		"Priv (HEX): 0x25ABCDEF11",
	}})

	env := newLoopEnv(t, scripts...)
	p := testPuzzle(t, 999)
	deps := env.deps()
	deps.FoundLog = filepath.Join(env.dir, "found.log")

	loop, err := New(p, testParams(100, 100), deps)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateHalted, loop.State())
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventFoundKey)

	// The sub-range that surfaced the key stays unrecorded; a later rescan
	// must revisit it.
	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, covered, 1)
	assert.True(t, covered[0].Equal(decSpan(t, 0, 499)))

	data, err := os.ReadFile(deps.FoundLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "PubAddress:")
	assert.Contains(t, string(data), "puzzle 999")
}

func TestRunRetriesCrashedDispatch(t *testing.T) {
	env := newLoopEnv(t,
		dispatch.Script{ExitErr: errors.New("exit status 1")},
		dispatch.Script{},
	)
	p := testPuzzle(t, 99)

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 2)
	assert.Equal(t, ranges[0], ranges[1], "retry must target the same sub-range")
	assert.NotContains(t, env.auditKinds(t, p.ID), store.EventFatalBlock)
}

func TestRunFatalAfterRetriesExhausted(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{ExitErr: errors.New("exit status 1")})
	p := testPuzzle(t, 99)

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)

	err = loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindProcessCrash))
	assert.Equal(t, StateFailed, loop.State())
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventFatalBlock)
	assert.Len(t, env.runner.Started(), 2)

	snap := loop.Snapshot()
	assert.NotEmpty(t, snap.LastError)

	// Nothing was recorded; the failed sub-range stays open.
	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, covered)
}

func TestRunRetriesTransientStoreFailure(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 63)

	deps := env.deps()
	flaky := &flakyStore{
		Store:    env.store,
		failures: 1,
		err:      errdefs.StorageFailed("record", errors.New("database is locked")),
	}
	deps.Store = flaky

	loop, err := New(p, testParams(64, 64), deps)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	assert.Equal(t, 2, flaky.calls)

	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, covered, 1)
	assert.True(t, covered[0].Equal(decSpan(t, 0, 63)))
}

func TestRunEscalatesNonRetryableStoreFailure(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 63)

	deps := env.deps()
	flaky := &flakyStore{
		Store:    env.store,
		failures: 10,
		err:      errdefs.New(errdefs.KindStorage, errdefs.SeverityFatal, "scanned_intervals table corrupt"),
	}
	deps.Store = flaky

	loop, err := New(p, testParams(64, 64), deps)
	require.NoError(t, err)

	err = loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindStorage))
	assert.Equal(t, StateFailed, loop.State())
	assert.Equal(t, 1, flaky.calls, "non-retryable failures must not burn the retry budget")
}

func TestRunPausesOnContextCancel(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{Hang: true})
	p := testPuzzle(t, 999)

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return loop.State() == StateDispatching
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	assert.Equal(t, StatePaused, loop.State())
	assert.GreaterOrEqual(t, env.runner.KillCount(), 1)

	// No sub-range completed, so neither coverage nor a checkpoint exists.
	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, covered)
	st, err := env.sessions.Load(p.ID)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRunReseeksOnPoolCollision(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{Hang: true}, dispatch.Script{})
	p := testPuzzle(t, 299)

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return loop.State() == StateDispatching
	}, 5*time.Second, 5*time.Millisecond)

	// Another participant reports the active territory scanned.
	poolSpan := decSpan(t, 0, 149)
	require.NoError(t, env.store.RecordBatch(context.Background(), []store.ScannedInterval{
		{PuzzleID: p.ID, Span: poolSpan, Source: store.SourcePool},
	}))
	assert.True(t, loop.AbortIfCovered([]interval.Span{poolSpan}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not finish after collision")
	}

	assert.Equal(t, StateExhausted, loop.State())
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventPoolCollision)

	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 3)
	assert.Equal(t, decSpan(t, 0, 99).String(), ranges[0])
	assert.Equal(t, decSpan(t, 150, 249).String(), ranges[1])
	assert.Equal(t, decSpan(t, 250, 299).String(), ranges[2])
}

func TestRunSyncsPoolBeforeSeeking(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 99)

	pool := &stubPool{spans: []interval.Span{decSpan(t, 0, 49)}}
	deps := env.deps()
	deps.Pool = pool

	loop, err := New(p, testParams(100, 100), deps)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 1, pool.calls, "zero interval syncs once at startup")
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, decSpan(t, 50, 99).String(), ranges[0])
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventPoolSync)
	assert.False(t, loop.Snapshot().LastPoolSync.IsZero())
}

func TestRunDegradesWhenPoolFails(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 99)

	deps := env.deps()
	deps.Pool = &stubPool{err: errors.New("pool down")}

	loop, err := New(p, testParams(100, 100), deps)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, decSpan(t, 0, 99).String(), ranges[0])
	assert.NotContains(t, env.auditKinds(t, p.ID), store.EventPoolSync)
}

func TestRunBoundsPoolSyncByTimeout(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 99)

	deps := env.deps()
	deps.Pool = &stubPool{block: true}
	deps.PoolTimeout = 50 * time.Millisecond

	loop, err := New(p, testParams(100, 100), deps)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, loop.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateExhausted, loop.State())
	assert.Len(t, env.dispatchedRanges(), 1)
}

func TestRunFilterSkipsWithoutRecording(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 299)

	deps := env.deps()
	deps.Filter = filter.New(true, spanBlocker{span: decSpan(t, 100, 199)})

	loop, err := New(p, testParams(100, 100), deps)
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 2)
	assert.Equal(t, decSpan(t, 0, 99).String(), ranges[0])
	assert.Equal(t, decSpan(t, 200, 299).String(), ranges[1])
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventFilterSkip)

	// The skipped span is a hole, not coverage: resetting the session would
	// revisit it.
	covered, err := env.store.Coverage(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, covered, 2)
	assert.True(t, covered[0].Equal(decSpan(t, 0, 99)))
	assert.True(t, covered[1].Equal(decSpan(t, 200, 299)))
}

func TestRunStrideLeavesInterleaveGaps(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 599)

	params := testParams(100, 100)
	params.Stride = big.NewInt(200)

	loop, err := New(p, params, env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 3)
	assert.Equal(t, decSpan(t, 0, 99).String(), ranges[0])
	assert.Equal(t, decSpan(t, 200, 299).String(), ranges[1])
	assert.Equal(t, decSpan(t, 400, 499).String(), ranges[2])
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := testPuzzle(t, 199)

	ctx := context.Background()
	require.NoError(t, env.store.Record(ctx, store.ScannedInterval{
		PuzzleID: p.ID, Span: decSpan(t, 0, 49), Source: store.SourceLocal, KeysChecked: 50,
	}))
	require.NoError(t, env.sessions.Checkpoint(&session.State{
		PuzzleID:     p.ID,
		Cursor:       big.NewInt(0),
		BlockSize:    big.NewInt(100),
		SubRangeSize: big.NewInt(100),
		KeysChecked:  50,
	}))

	loop, err := New(p, testParams(100, 100), env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(ctx))

	assert.Equal(t, StateExhausted, loop.State())
	assert.Contains(t, env.auditKinds(t, p.ID), store.EventSessionRestart)

	// Coverage routes the resumed loop around the already-scanned prefix.
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 2)
	assert.Equal(t, decSpan(t, 50, 149).String(), ranges[0])
	assert.Equal(t, decSpan(t, 150, 199).String(), ranges[1])

	st, err := env.sessions.Load(p.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(200), st.KeysChecked)
}

func TestRunClampsStaleCursorBelowRange(t *testing.T) {
	env := newLoopEnv(t, dispatch.Script{})
	p := puzzle.Puzzle{
		ID:      999,
		Bits:    10,
		Address: "1PWo3JeB9jrGwfHDNpdGK54CRas7fsVzXU",
		Range:   decSpan(t, 256, 511),
	}

	// Checkpoint written under an older config whose range started lower.
	require.NoError(t, env.sessions.Checkpoint(&session.State{
		PuzzleID: p.ID,
		Cursor:   big.NewInt(16),
	}))

	loop, err := New(p, testParams(256, 256), env.deps())
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, StateExhausted, loop.State())
	ranges := env.dispatchedRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, decSpan(t, 256, 511).String(), ranges[0])
}

func TestNewRejectsMissingDeps(t *testing.T) {
	p := testPuzzle(t, 99)
	_, err := New(p, testParams(100, 100), Deps{})
	require.Error(t, err)

	env := newLoopEnv(t)
	_, err = New(p, config.ScanParams{}, env.deps())
	require.Error(t, err)

	deps := env.deps()
	deps.DispatchRetry = retry.Policy{Initial: time.Second}
	_, err = New(p, testParams(100, 100), deps)
	require.Error(t, err, "a partial retry policy has no usable delay cap")
}
