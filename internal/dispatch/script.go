package dispatch

import (
	"context"
	"sync"
	"time"
)

// Script is one canned process run for tests.
type Script struct {
	// Lines are emitted in order, LineGap apart.
	Lines   []string
	LineGap time.Duration
	// Hang keeps the process "running" after the last line until it is
	// killed or the context ends, like a real scan mid-range.
	Hang bool
	// ExitErr is what Wait reports once the run ends.
	ExitErr error
}

// ScriptRunner plays back scripts in order, one per Start call. The last
// script repeats when Start is called more often than scripts were queued.
// It records every spec it was started with and every Kill call so tests can
// assert on command construction and termination behavior.
type ScriptRunner struct {
	mu      sync.Mutex
	scripts []Script
	next    int
	started []ProcessSpec
	kills   int
}

// NewScriptRunner queues the given scripts.
func NewScriptRunner(scripts ...Script) *ScriptRunner {
	return &ScriptRunner{scripts: scripts}
}

// Start consumes the next script and returns a handle playing it back.
func (r *ScriptRunner) Start(ctx context.Context, spec ProcessSpec) (Handle, error) {
	r.mu.Lock()
	var script Script
	if len(r.scripts) > 0 {
		i := r.next
		if i >= len(r.scripts) {
			i = len(r.scripts) - 1
		}
		script = r.scripts[i]
		r.next++
	}
	r.started = append(r.started, spec)
	r.mu.Unlock()

	h := &scriptHandle{
		runner: r,
		script: script,
		lines:  make(chan string),
		killed: make(chan struct{}),
	}
	go h.play(ctx)
	return h, nil
}

// Started returns a copy of every spec passed to Start, in order.
func (r *ScriptRunner) Started() []ProcessSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProcessSpec, len(r.started))
	copy(out, r.started)
	return out
}

// KillCount reports how many Kill calls handles have received in total.
func (r *ScriptRunner) KillCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kills
}

func (r *ScriptRunner) recordKill() {
	r.mu.Lock()
	r.kills++
	r.mu.Unlock()
}

type scriptHandle struct {
	runner *ScriptRunner
	script Script
	lines  chan string

	killOnce sync.Once
	killed   chan struct{}
}

func (h *scriptHandle) play(ctx context.Context) {
	defer close(h.lines)

	for _, line := range h.script.Lines {
		if h.script.LineGap > 0 {
			select {
			case <-time.After(h.script.LineGap):
			case <-ctx.Done():
				return
			case <-h.killed:
				return
			}
		}
		select {
		case h.lines <- line:
		case <-ctx.Done():
			return
		case <-h.killed:
			return
		}
	}

	if h.script.Hang {
		select {
		case <-ctx.Done():
		case <-h.killed:
		}
	}
}

func (h *scriptHandle) Lines() <-chan string { return h.lines }

func (h *scriptHandle) Wait() error {
	// Mirrors the real handle: callers drain Lines first, so by the time
	// Wait runs the playback goroutine has finished.
	return h.script.ExitErr
}

func (h *scriptHandle) Kill() error {
	h.runner.recordKill()
	h.killOnce.Do(func() { close(h.killed) })
	return nil
}
