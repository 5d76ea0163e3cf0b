package session

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
)

func testState(puzzleID int) *State {
	cursor, _ := new(big.Int).SetString("400000000000000000", 16)
	return &State{
		PuzzleID:        puzzleID,
		Cursor:          cursor,
		BlockSize:       big.NewInt(0x1000000000),
		SubRangeSize:    big.NewInt(0x1000000000),
		Stride:          big.NewInt(0x1000000000),
		InterRangeDelay: 2 * time.Second,
		KeysChecked:     12345,
	}
}

func TestCheckpointAndLoad(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	t.Run("missing state loads as nil", func(t *testing.T) {
		st, err := m.Load(71)
		require.NoError(t, err)
		require.Nil(t, st)
	})

	t.Run("round trip", func(t *testing.T) {
		want := testState(71)
		require.NoError(t, m.Checkpoint(want))

		got, err := m.Load(71)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, 71, got.PuzzleID)
		require.Equal(t, 0, got.Cursor.Cmp(want.Cursor))
		require.Equal(t, 0, got.BlockSize.Cmp(want.BlockSize))
		require.Equal(t, 2*time.Second, got.InterRangeDelay)
		require.Equal(t, int64(12345), got.KeysChecked)
		require.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("checkpoint replaces previous", func(t *testing.T) {
		st := testState(71)
		st.Cursor.Add(st.Cursor, big.NewInt(0x1000000000))
		st.KeysChecked = 99999
		require.NoError(t, m.Checkpoint(st))

		got, err := m.Load(71)
		require.NoError(t, err)
		require.Equal(t, 0, got.Cursor.Cmp(st.Cursor))
		require.Equal(t, int64(99999), got.KeysChecked)
	})

	t.Run("no temp file left behind", func(t *testing.T) {
		require.NoError(t, m.Checkpoint(testState(72)))
		_, err := os.Stat(m.Path(72) + ".tmp")
		require.True(t, os.IsNotExist(err))
	})

	t.Run("puzzles do not interfere", func(t *testing.T) {
		st71, err := m.Load(71)
		require.NoError(t, err)
		st72, err := m.Load(72)
		require.NoError(t, err)
		require.NotEqual(t, st71.KeysChecked, st72.KeysChecked)
	})
}

func TestLoadCorruptState(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"puzzle_id": 71, "cursor": "40`},
		{"bad cursor hex", `{"puzzle_id": 71, "cursor": "not-hex"}`},
		{"wrong puzzle id", `{"puzzle_id": 99, "cursor": "400000000000000000"}`},
		{"negative keys", `{"puzzle_id": 71, "cursor": "400000000000000000", "keys_checked": -1}`},
		{"negative delay", `{"puzzle_id": 71, "cursor": "400000000000000000", "inter_range_delay_ms": -5}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(m.Path(71), []byte(test.content), 0o644))
			_, err := m.Load(71)
			require.Error(t, err)
			require.True(t, errdefs.IsKind(err, errdefs.KindCorruptState), "got %v", err)
		})
	}
}

func TestRemove(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Checkpoint(testState(71)))
	require.NoError(t, m.Remove(71))

	st, err := m.Load(71)
	require.NoError(t, err)
	require.Nil(t, st)

	// Removing again is fine
	require.NoError(t, m.Remove(71))
}

func TestAcquireLock(t *testing.T) {
	t.Run("exclusive while held", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireLock(dir)
		require.NoError(t, err)

		_, err = AcquireLock(dir)
		require.Error(t, err)
		require.Contains(t, err.Error(), "locked by running process")

		require.NoError(t, lock.Release())

		lock2, err := AcquireLock(dir)
		require.NoError(t, err)
		require.NoError(t, lock2.Release())
	})

	t.Run("stale lock taken over", func(t *testing.T) {
		dir := t.TempDir()
		// A pid far beyond pid_max cannot be alive.
		require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte("99999999\n"), 0o644))

		lock, err := AcquireLock(dir)
		require.NoError(t, err)
		require.NoError(t, lock.Release())
	})

	t.Run("garbage lock file taken over", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte("not a pid"), 0o644))

		lock, err := AcquireLock(dir)
		require.NoError(t, err)
		require.NoError(t, lock.Release())
	})

	t.Run("release is idempotent", func(t *testing.T) {
		dir := t.TempDir()
		lock, err := AcquireLock(dir)
		require.NoError(t, err)
		require.NoError(t, lock.Release())
		require.NoError(t, lock.Release())
	})
}
