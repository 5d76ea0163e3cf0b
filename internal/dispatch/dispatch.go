package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/errdefs"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
	"git.home.luguber.info/inful/scancoord/internal/metrics"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
)

// BuildArgs assembles the search process command line. The range is passed
// as inclusive upper-case hex bounds and the target address always sits
// last, which is where compatible binaries expect it.
func BuildArgs(cfg config.DispatchConfig, p puzzle.Puzzle, sub interval.Span) []string {
	args := []string{"-t", strconv.Itoa(cfg.Threads)}
	if cfg.GPU {
		args = append(args, "-g", "--gpui", strconv.Itoa(cfg.GPUID), "--gpux", cfg.GPUGrid)
	}
	args = append(args,
		"-m", cfg.Mode,
		"--coin", cfg.Coin,
		"--range", sub.String(),
		"-o", cfg.FoundFile,
	)
	args = append(args, cfg.ExtraArgs...)
	return append(args, p.Address)
}

// Dispatcher owns the lifecycle of one search process at a time: build the
// command, stream and classify its output, decide the outcome.
type Dispatcher struct {
	cfg     config.DispatchConfig
	runner  Runner
	metrics metrics.Recorder
}

// New builds a dispatcher. A nil runner execs the configured binary; a nil
// recorder disables telemetry.
func New(cfg config.DispatchConfig, runner Runner, rec metrics.Recorder) *Dispatcher {
	if runner == nil {
		runner = &ExecRunner{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Dispatcher{cfg: cfg, runner: runner, metrics: rec}
}

// Run scans one sub-range and blocks until the process is gone. The status
// is decided in strict precedence: key material in the output wins over
// everything, then cancellation of the caller's context, then the
// per-dispatch deadline, then abnormal exits and error markers.
func (d *Dispatcher) Run(ctx context.Context, p puzzle.Puzzle, sub interval.Span) Result {
	id := uuid.NewString()
	label := strconv.Itoa(p.ID)
	res := Result{DispatchID: id, SubRange: sub.Clone()}

	runCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	spec := ProcessSpec{Binary: d.cfg.Binary, Args: BuildArgs(d.cfg, p, sub)}
	started := time.Now()

	h, err := d.runner.Start(runCtx, spec)
	if err != nil {
		res.Status = StatusCrashed
		res.Err = errdefs.ProcessCrashed(id, "start failed", err)
		d.metrics.IncDispatchResult(label, metrics.ResultCrashed)
		return res
	}

	slog.Info("Dispatching sub-range",
		logfields.Puzzle(p.ID),
		logfields.DispatchID(id),
		slog.String("range", sub.String()))

	// The kill watch makes cancellation behavior uniform across runners:
	// the dispatcher terminates its own child instead of relying on the
	// runner's context plumbing.
	pumpDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			_ = h.Kill()
		case <-pumpDone:
		}
	}()

	var found, sawError bool
	for line := range h.Lines() {
		switch {
		case IsFoundMarker(line):
			res.FoundLines = append(res.FoundLines, line)
			if !found {
				found = true
				slog.Warn("Key material in process output, stopping scan",
					logfields.Puzzle(p.ID), logfields.DispatchID(id))
				_ = h.Kill()
			}
		case IsErrorMarker(line):
			sawError = true
			slog.Error("Search process reported an error",
				logfields.Puzzle(p.ID), logfields.DispatchID(id),
				slog.String("line", line))
		default:
			if mk, ok := ParseSpeed(line); ok {
				res.SpeedMks = mk
				d.metrics.SetScanSpeed(label, mk)
			}
			if n, ok := ParseProgress(line); ok {
				res.KeysChecked = n
			}
		}
	}
	close(pumpDone)

	waitErr := h.Wait()
	res.Elapsed = time.Since(started)

	switch {
	case found:
		res.Status = StatusFoundKey
	case ctx.Err() != nil:
		res.Status = StatusCancelled
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusCrashed
		res.Err = errdefs.ProcessTimedOut(id, runCtx.Err())
	case waitErr != nil:
		res.Status = StatusCrashed
		res.Err = errdefs.ProcessCrashed(id, waitErr.Error(), waitErr)
	case sawError:
		res.Status = StatusCrashed
		res.Err = errdefs.ProcessCrashed(id, "error markers in output", nil)
	default:
		res.Status = StatusCompleted
	}

	d.metrics.ObserveDispatchDuration(label, res.Elapsed)
	d.metrics.IncDispatchResult(label, metrics.ResultLabel(res.Status))

	slog.Info("Dispatch finished",
		logfields.Puzzle(p.ID),
		logfields.DispatchID(id),
		logfields.Status(string(res.Status)),
		logfields.KeysChecked(int64(res.KeysChecked)), //nolint:gosec // counter stays far below int64 range
		logfields.Speed(res.SpeedMks),
		logfields.DurationMS(float64(res.Elapsed.Milliseconds())))

	return res
}
