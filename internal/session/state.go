// Package session persists per-puzzle scan progress between runs. Each
// puzzle gets one JSON state file, replaced atomically on every checkpoint,
// and the data directory carries a process-lifetime lock so two coordinators
// never share it.
package session

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
)

// State is the durable progress of one puzzle's scan session. The cursor
// marks the lowest key index not yet claimed by a completed block; the size
// fields record the parameters the last checkpoint ran with.
type State struct {
	PuzzleID        int
	Cursor          *big.Int
	BlockSize       *big.Int
	SubRangeSize    *big.Int
	Stride          *big.Int
	InterRangeDelay time.Duration
	KeysChecked     int64
	UpdatedAt       time.Time
}

// stateFile is the on-disk form. Large integers travel as hex strings, the
// inter-range delay as milliseconds.
type stateFile struct {
	PuzzleID          int       `json:"puzzle_id"`
	Cursor            string    `json:"cursor"`
	BlockSize         string    `json:"block_size"`
	SubRangeSize      string    `json:"sub_range_size"`
	Stride            string    `json:"stride"`
	InterRangeDelayMS int64     `json:"inter_range_delay_ms"`
	KeysChecked       int64     `json:"keys_checked"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Manager owns the state files under dataDir.
type Manager struct {
	dataDir string
	mu      sync.Mutex
}

// NewManager ensures dataDir exists and returns a manager for it.
func NewManager(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	return &Manager{dataDir: dataDir}, nil
}

// Path returns the state file path for a puzzle.
func (m *Manager) Path(puzzleID int) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("session_puzzle_%d.json", puzzleID))
}

// Load reads the state for a puzzle. A missing file returns (nil, nil): the
// caller starts a fresh session at the range start. An unreadable or
// inconsistent file returns a corrupt_state error and the puzzle must not
// run until the operator intervenes.
func (m *Manager) Load(puzzleID int) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path(puzzleID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.CorruptState(path, err)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errdefs.CorruptState(path, err)
	}
	st, err := f.toState()
	if err != nil {
		return nil, errdefs.CorruptState(path, err)
	}
	if st.PuzzleID != puzzleID {
		return nil, errdefs.CorruptState(path,
			fmt.Errorf("state file claims puzzle %d", st.PuzzleID))
	}
	return st, nil
}

// Checkpoint atomically replaces the puzzle's state file. The file on disk
// is always either the previous checkpoint or this one, never a mix.
func (m *Manager) Checkpoint(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st == nil || st.Cursor == nil {
		return fmt.Errorf("checkpoint: nil state or cursor")
	}
	now := time.Now()
	st.UpdatedAt = now

	data, err := json.MarshalIndent(fromState(st), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := m.Path(st.PuzzleID)
	tempPath := path + ".tmp"

	// Atomic write using temporary file
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Remove deletes the puzzle's state file. Used when a finished session is
// explicitly reset.
func (m *Manager) Remove(puzzleID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.Path(puzzleID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fromState(st *State) stateFile {
	f := stateFile{
		PuzzleID:          st.PuzzleID,
		Cursor:            st.Cursor.Text(16),
		InterRangeDelayMS: st.InterRangeDelay.Milliseconds(),
		KeysChecked:       st.KeysChecked,
		UpdatedAt:         st.UpdatedAt,
	}
	if st.BlockSize != nil {
		f.BlockSize = st.BlockSize.Text(16)
	}
	if st.SubRangeSize != nil {
		f.SubRangeSize = st.SubRangeSize.Text(16)
	}
	if st.Stride != nil {
		f.Stride = st.Stride.Text(16)
	}
	return f
}

func (f stateFile) toState() (*State, error) {
	if f.KeysChecked < 0 {
		return nil, fmt.Errorf("negative keys_checked %d", f.KeysChecked)
	}
	if f.InterRangeDelayMS < 0 {
		return nil, fmt.Errorf("negative inter_range_delay_ms %d", f.InterRangeDelayMS)
	}
	st := &State{
		PuzzleID:        f.PuzzleID,
		InterRangeDelay: time.Duration(f.InterRangeDelayMS) * time.Millisecond,
		KeysChecked:     f.KeysChecked,
		UpdatedAt:       f.UpdatedAt,
	}
	var err error
	if st.Cursor, err = parseHexField("cursor", f.Cursor); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"block_size", f.BlockSize, &st.BlockSize},
		{"sub_range_size", f.SubRangeSize, &st.SubRangeSize},
		{"stride", f.Stride, &st.Stride},
	} {
		if field.raw == "" {
			continue
		}
		if *field.dst, err = parseHexField(field.name, field.raw); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func parseHexField(name, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("field %s: bad hex %q", name, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("field %s: negative value", name)
	}
	return v, nil
}
