// Package store persists scanned-interval coverage and the scan audit log in
// SQLite. Interval bounds are stored as fixed-width hex text: keys above
// puzzle 63 overflow SQLite integers, and zero-padding keeps lexicographic
// order equal to numeric order.
package store

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/interval"
)

// Source tells which side scanned an interval.
type Source string

const (
	SourcePool  Source = "pool"
	SourceLocal Source = "local"
)

// ParseSource validates a raw source string.
func ParseSource(raw string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(raw))) {
	case SourcePool:
		return SourcePool, nil
	case SourceLocal:
		return SourceLocal, nil
	default:
		return "", fmt.Errorf("unknown source %q (want pool or local)", raw)
	}
}

// ScannedInterval is one durably recorded piece of coverage.
type ScannedInterval struct {
	PuzzleID    int
	Span        interval.Span
	Source      Source
	KeysChecked int64
	RecordedAt  time.Time
}

// Event is one row of the append-only scan audit log.
type Event struct {
	ID        int64
	PuzzleID  int
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// Audit event kinds.
const (
	EventFilterSkip     = "filter_skip"
	EventFoundKey       = "found_key"
	EventFatalBlock     = "fatal_block"
	EventPoolSync       = "pool_sync"
	EventPoolCollision  = "pool_collision"
	EventImport         = "import"
	EventSessionRestart = "session_restart"
	EventSessionReset   = "session_reset"
)

// Stats summarizes one puzzle's stored coverage.
type Stats struct {
	PoolIntervals  int64
	LocalIntervals int64
	KeysChecked    int64
}

// hexWidth is the fixed nibble count for stored bounds; wide enough for any
// 256-bit key.
const hexWidth = 64

func encodeBound(v *big.Int) string {
	return fmt.Sprintf("%0*X", hexWidth, v)
}

func decodeBound(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bad stored bound %q", s)
	}
	return v, nil
}
