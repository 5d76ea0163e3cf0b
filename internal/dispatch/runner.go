// Package dispatch runs one external search process per sub-range and turns
// its output stream into a structured result the scheduler can act on.
package dispatch

import "context"

// ProcessSpec describes one search process invocation.
type ProcessSpec struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty inherits the coordinator's.
	Dir string
}

// Handle is a live search process. Lines streams the combined stdout and
// stderr and closes when the process exits or its stream fails; Wait returns
// the exit error and must be called after Lines is drained. Kill requests
// termination and is safe to call more than once.
type Handle interface {
	Lines() <-chan string
	Wait() error
	Kill() error
}

// Runner starts search processes. ExecRunner execs the configured binary;
// ScriptRunner plays back canned output in tests.
type Runner interface {
	Start(ctx context.Context, spec ProcessSpec) (Handle, error)
}
