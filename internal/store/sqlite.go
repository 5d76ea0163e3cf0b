package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// SQLiteStore implements interval and audit persistence on SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the store at dbPath.
// Use ":memory:" for an in-memory database in tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errdefs.StorageFailed("open", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, errdefs.StorageFailed("initialize", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scanned_intervals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		puzzle_id INTEGER NOT NULL,
		start_hex TEXT NOT NULL,
		end_hex TEXT NOT NULL,
		source TEXT NOT NULL CHECK (source IN ('pool', 'local')),
		keys_checked INTEGER NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL,
		UNIQUE (puzzle_id, start_hex, end_hex, source)
	);
	CREATE INDEX IF NOT EXISTS idx_intervals_puzzle ON scanned_intervals(puzzle_id, start_hex);
	CREATE TABLE IF NOT EXISTS scan_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		puzzle_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_puzzle ON scan_events(puzzle_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record durably stores one scanned interval. Re-recording the identical
// (puzzle, span, source) row is a no-op, so retried writes are safe.
func (s *SQLiteStore) Record(ctx context.Context, iv ScannedInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordTx(ctx, s.db, iv)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) recordTx(ctx context.Context, db execer, iv ScannedInterval) error {
	if iv.Span.Start == nil || iv.Span.End == nil {
		return errdefs.StorageFailed("record", fmt.Errorf("interval has nil bounds"))
	}
	recordedAt := iv.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO scanned_intervals
		 (puzzle_id, start_hex, end_hex, source, keys_checked, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		iv.PuzzleID, encodeBound(iv.Span.Start), encodeBound(iv.Span.End),
		string(iv.Source), iv.KeysChecked, recordedAt.Unix(),
	)
	if err != nil {
		return errdefs.StorageFailed("record", err)
	}
	return nil
}

// RecordBatch stores many intervals in one transaction. Used by pool syncs,
// which can bring hundreds of decoded spans at once.
func (s *SQLiteStore) RecordBatch(ctx context.Context, intervals []ScannedInterval) error {
	if len(intervals) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.StorageFailed("record_batch", err)
	}
	for _, iv := range intervals {
		if err := s.recordTx(ctx, tx, iv); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errdefs.StorageFailed("record_batch", err)
	}
	return nil
}

// Coverage returns the normalized union of stored spans for the puzzle,
// restricted to the given sources (all sources when none given).
func (s *SQLiteStore) Coverage(ctx context.Context, puzzleID int, sources ...Source) ([]interval.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT start_hex, end_hex FROM scanned_intervals WHERE puzzle_id = ?`
	args := []any{puzzleID}
	if len(sources) > 0 {
		query += ` AND source IN (?` + strings.Repeat(", ?", len(sources)-1) + `)`
		for _, src := range sources {
			args = append(args, string(src))
		}
	}
	query += ` ORDER BY start_hex`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.StorageFailed("coverage", err)
	}
	defer rows.Close()

	var spans []interval.Span
	for rows.Next() {
		var startHex, endHex string
		if err := rows.Scan(&startHex, &endHex); err != nil {
			return nil, errdefs.StorageFailed("coverage", err)
		}
		// A malformed bound means the table itself is damaged; retrying the
		// query would read the same row again.
		start, err := decodeBound(startHex)
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindCorruptState, errdefs.SeverityFatal, "corrupt interval bound")
		}
		end, err := decodeBound(endHex)
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindCorruptState, errdefs.SeverityFatal, "corrupt interval bound")
		}
		spans = append(spans, interval.Span{Start: start, End: end})
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.StorageFailed("coverage", err)
	}

	return interval.Normalize(spans), nil
}

// Stats returns per-source interval counts and the local keys-checked total.
func (s *SQLiteStore) Stats(ctx context.Context, puzzleID int) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*), COALESCE(SUM(keys_checked), 0)
		 FROM scanned_intervals WHERE puzzle_id = ? GROUP BY source`,
		puzzleID,
	)
	if err != nil {
		return Stats{}, errdefs.StorageFailed("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count, keys int64
		if err := rows.Scan(&source, &count, &keys); err != nil {
			return Stats{}, errdefs.StorageFailed("stats", err)
		}
		switch Source(source) {
		case SourcePool:
			st.PoolIntervals = count
		case SourceLocal:
			st.LocalIntervals = count
			st.KeysChecked = keys
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, errdefs.StorageFailed("stats", err)
	}
	return st, nil
}

// PuzzleIDs lists the puzzles that have any stored coverage.
func (s *SQLiteStore) PuzzleIDs(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT puzzle_id FROM scanned_intervals ORDER BY puzzle_id`)
	if err != nil {
		return nil, errdefs.StorageFailed("puzzle_ids", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errdefs.StorageFailed("puzzle_ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.StorageFailed("puzzle_ids", err)
	}
	return ids, nil
}

// AppendEvent adds one audit log row.
func (s *SQLiteStore) AppendEvent(ctx context.Context, puzzleID int, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_events (puzzle_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		puzzleID, kind, detail, time.Now().Unix(),
	)
	if err != nil {
		return errdefs.StorageFailed("append_event", err)
	}
	return nil
}

// EventsByPuzzle returns the most recent audit rows for the puzzle, newest
// first, capped at limit (all rows when limit <= 0).
func (s *SQLiteStore) EventsByPuzzle(ctx context.Context, puzzleID, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, puzzle_id, kind, COALESCE(detail, ''), created_at
	          FROM scan_events WHERE puzzle_id = ? ORDER BY id DESC`
	args := []any{puzzleID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.StorageFailed("events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var createdUnix int64
		if err := rows.Scan(&e.ID, &e.PuzzleID, &e.Kind, &e.Detail, &createdUnix); err != nil {
			return nil, errdefs.StorageFailed("events", err)
		}
		e.CreatedAt = time.Unix(createdUnix, 0)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.StorageFailed("events", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
