package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func iv(t *testing.T, puzzleID int, startHex, endHex string, source Source) ScannedInterval {
	t.Helper()
	span, err := interval.FromHex(startHex, endHex)
	require.NoError(t, err)
	return ScannedInterval{PuzzleID: puzzleID, Span: span, Source: source}
}

func TestRecordAndCoverage(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.Record(ctx, iv(t, 71, "0", "31", SourceLocal)))  // [0,49]
	require.NoError(t, s.Record(ctx, iv(t, 71, "28", "59", SourcePool))) // [40,89]

	t.Run("all sources merged", func(t *testing.T) {
		spans, err := s.Coverage(ctx, 71)
		require.NoError(t, err)
		require.Len(t, spans, 1)
		require.Equal(t, "0:59", spans[0].String())
	})

	t.Run("source filtered", func(t *testing.T) {
		spans, err := s.Coverage(ctx, 71, SourceLocal)
		require.NoError(t, err)
		require.Len(t, spans, 1)
		require.Equal(t, "0:31", spans[0].String())
	})

	t.Run("other puzzle empty", func(t *testing.T) {
		spans, err := s.Coverage(ctx, 72)
		require.NoError(t, err)
		require.Empty(t, spans)
	})
}

func TestRecordIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	row := iv(t, 71, "100", "1FF", SourceLocal)
	row.KeysChecked = 256
	require.NoError(t, s.Record(ctx, row))
	require.NoError(t, s.Record(ctx, row))
	require.NoError(t, s.Record(ctx, row))

	stats, err := s.Stats(ctx, 71)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.LocalIntervals)
	require.Equal(t, int64(256), stats.KeysChecked)

	t.Run("same span from other source is distinct", func(t *testing.T) {
		other := iv(t, 71, "100", "1FF", SourcePool)
		require.NoError(t, s.Record(ctx, other))
		stats, err := s.Stats(ctx, 71)
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.PoolIntervals)
		require.Equal(t, int64(1), stats.LocalIntervals)
	})
}

func TestRecordBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	batch := []ScannedInterval{
		iv(t, 71, "400000000000000000", "40000000FFFFFFFFFF", SourcePool),
		iv(t, 71, "410000000000000000", "41000000FFFFFFFFFF", SourcePool),
		iv(t, 71, "420000000000000000", "42000000FFFFFFFFFF", SourcePool),
	}
	require.NoError(t, s.RecordBatch(ctx, batch))

	stats, err := s.Stats(ctx, 71)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.PoolIntervals)

	require.NoError(t, s.RecordBatch(ctx, batch)) // idempotent
	stats, err = s.Stats(ctx, 71)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.PoolIntervals)
}

func TestCoverageBigBounds(t *testing.T) {
	// Bounds beyond uint64 must round-trip exactly and sort numerically.
	s := newTestStore(t)
	ctx := t.Context()

	low := iv(t, 75, "4000000000000000000", "4000000FFFFFFFFFFFF", SourceLocal)
	high := iv(t, 75, "5000000000000000000", "5000000FFFFFFFFFFFF", SourceLocal)
	require.NoError(t, s.Record(ctx, high))
	require.NoError(t, s.Record(ctx, low))

	spans, err := s.Coverage(ctx, 75)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	require.True(t, spans[0].Equal(low.Span), "low span first")
	require.True(t, spans[1].Equal(high.Span))

	size := new(big.Int).Sub(spans[0].End, spans[0].Start)
	require.Equal(t, "ffffffffffff", size.Text(16))
}

func TestCoverageRejectsCorruptBound(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scanned_intervals
		 (puzzle_id, start_hex, end_hex, source, keys_checked, recorded_at)
		 VALUES (71, 'ZZZZ', '00FF', 'local', 0, 0)`)
	require.NoError(t, err)

	_, err = s.Coverage(ctx, 71)
	require.Error(t, err)
	require.True(t, errdefs.IsKind(err, errdefs.KindCorruptState), "got %v", err)
	require.False(t, errdefs.IsRetryable(err), "a damaged row must not be retried")
}

func TestPuzzleIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	ids, err := s.PuzzleIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, s.Record(ctx, iv(t, 73, "0", "F", SourceLocal)))
	require.NoError(t, s.Record(ctx, iv(t, 71, "0", "F", SourcePool)))

	ids, err = s.PuzzleIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{71, 73}, ids)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.AppendEvent(ctx, 71, EventFilterSkip, "400:4FF repeated-digits"))
	require.NoError(t, s.AppendEvent(ctx, 71, EventFoundKey, "PubAddress: 1PWo3..."))
	require.NoError(t, s.AppendEvent(ctx, 72, EventPoolSync, "16 spans"))

	events, err := s.EventsByPuzzle(ctx, 71, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventFoundKey, events[0].Kind, "newest first")
	require.Equal(t, EventFilterSkip, events[1].Kind)

	limited, err := s.EventsByPuzzle(ctx, 71, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, EventFoundKey, limited[0].Kind)
}

func TestFileBackedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scancoord.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(t.Context(), iv(t, 71, "AA", "FF", SourceLocal)))
	require.NoError(t, s.Close())

	// Reopen and read back
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	spans, err := s2.Coverage(t.Context(), 71)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "AA:FF", spans[0].String())
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource(" Pool ")
	require.NoError(t, err)
	require.Equal(t, SourcePool, src)

	src, err = ParseSource("local")
	require.NoError(t, err)
	require.Equal(t, SourceLocal, src)

	_, err = ParseSource("remote")
	require.Error(t, err)
}
