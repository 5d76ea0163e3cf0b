package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
)

// Snapshot is a point-in-time view of one puzzle loop, safe to read while
// the loop runs.
type Snapshot struct {
	PuzzleID      int       `json:"puzzle_id"`
	Address       string    `json:"address"`
	State         State     `json:"state"`
	Cursor        string    `json:"cursor"`
	KeysChecked   int64     `json:"keys_checked"`
	SpeedMks      float64   `json:"speed_mks"`
	CoverageRatio float64   `json:"coverage_ratio"`
	LastPoolSync  time.Time `json:"last_pool_sync,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Snapshot returns the loop's current status.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		PuzzleID:      l.puzzle.ID,
		Address:       l.puzzle.Address,
		State:         l.state,
		KeysChecked:   l.keysChecked,
		SpeedMks:      l.speed,
		CoverageRatio: l.coverageRatio,
		LastPoolSync:  l.lastSync,
	}
	if l.cursor != nil {
		s.Cursor = fmt.Sprintf("%X", l.cursor)
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// setActive marks sub as the in-flight dispatch and arms its cancel func so
// a pool collision can abort it.
func (l *Loop) setActive(sub interval.Span, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := sub.Clone()
	l.active = &s
	l.cancelActive = cancel
	l.collision = false
}

// clearActive retires the in-flight dispatch, reporting whether a collision
// aborted it.
func (l *Loop) clearActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	collided := l.collision
	l.active = nil
	l.cancelActive = nil
	l.collision = false
	return collided
}

// AbortIfCovered cancels the in-flight dispatch when any of the given spans
// overlaps it, so keys another participant just claimed are not scanned
// twice. It reports whether an abort was triggered; the loop re-seeks from
// its unchanged cursor.
func (l *Loop) AbortIfCovered(spans []interval.Span) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || l.cancelActive == nil {
		return false
	}
	for _, s := range spans {
		if l.active.Overlaps(s) {
			l.collision = true
			l.cancelActive()
			slog.Info("Aborting in-flight dispatch, pool covered its range",
				logfields.Puzzle(l.puzzle.ID),
				slog.String("range", l.active.String()),
				slog.String("pool_span", s.String()))
			return true
		}
	}
	return false
}
