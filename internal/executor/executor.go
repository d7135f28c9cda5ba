// Package executor runs conversion tasks through the external codec tools
// and reports their outcome.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultGracePeriod is how long a cancelled tool gets to exit after the
// termination signal before it is killed
const DefaultGracePeriod = 5 * time.Second

// ErrSpawn is matched by every SpawnError
var ErrSpawn = errors.New("failed to start tool")

// SpawnError is returned when the tool process could not be started at all
type SpawnError struct {
	Tool string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSpawn) work
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// ProcessResult is what a finished tool invocation left behind
type ProcessResult struct {
	ExitCode int
	// Output holds stdout and stderr interleaved
	Output string
	// Interrupted is set when the context ended while the tool was running
	Interrupted bool
}

// ProcessRunner starts one tool invocation and waits for it. The error is
// non-nil only when the process could not be spawned.
type ProcessRunner interface {
	Run(ctx context.Context, tool string, args []string) (ProcessResult, error)
}

// ExecRunner runs tools as child processes
type ExecRunner struct {
	GracePeriod time.Duration
}

// NewExecRunner creates a runner with the given grace period; zero or less
// selects DefaultGracePeriod
func NewExecRunner(grace time.Duration) *ExecRunner {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &ExecRunner{GracePeriod: grace}
}

// Run implements ProcessRunner
func (r *ExecRunner) Run(ctx context.Context, tool string, args []string) (ProcessResult, error) {
	cmd := exec.CommandContext(ctx, tool, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(terminateSignal)
	}
	cmd.WaitDelay = r.GracePeriod

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return ProcessResult{ExitCode: -1, Interrupted: true}, nil
		}
		return ProcessResult{ExitCode: -1}, &SpawnError{Tool: tool, Err: err}
	}

	err := cmd.Wait()
	res := ProcessResult{Output: out.String()}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}

	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
		} else if res.ExitCode == 0 {
			// I/O failure after a clean exit still counts against the task
			res.ExitCode = -1
			res.Output += err.Error()
		}
	}

	return res, nil
}
