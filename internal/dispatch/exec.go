package dispatch

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a terminated process gets to flush and exit
// before it is killed outright.
const DefaultKillGrace = 5 * time.Second

// ExecRunner starts the real search binary. Termination is two-staged:
// SIGTERM first so the process can flush its output, SIGKILL once the grace
// period runs out.
type ExecRunner struct {
	KillGrace time.Duration
}

func (r *ExecRunner) grace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

// Start launches the process and begins pumping its combined output.
func (r *ExecRunner) Start(ctx context.Context, spec ProcessSpec) (Handle, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) // #nosec G204 -- binary and args come from validated config
	cmd.Dir = spec.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = r.grace()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	// The search binary splits markers and stats across both streams; merge
	// them so the parser sees everything in one ordered stream.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &execHandle{
		cmd:   cmd,
		grace: r.grace(),
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go h.pump(stdout)
	return h, nil
}

type execHandle struct {
	cmd   *exec.Cmd
	grace time.Duration
	lines chan string
	done  chan struct{}

	waitOnce sync.Once
	waitErr  error

	killOnce sync.Once
	killErr  error
}

func (h *execHandle) Lines() <-chan string { return h.lines }

func (h *execHandle) pump(r io.Reader) {
	defer close(h.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		h.lines <- sc.Text()
	}
}

func (h *execHandle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
		close(h.done)
	})
	return h.waitErr
}

// Kill sends SIGTERM and escalates to SIGKILL if the process is still
// running after the grace period.
func (h *execHandle) Kill() error {
	h.killOnce.Do(func() {
		p := h.cmd.Process
		if p == nil {
			return
		}
		h.killErr = p.Signal(syscall.SIGTERM)
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
				_ = p.Kill()
			}
		}()
	})
	return h.killErr
}
