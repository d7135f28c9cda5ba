package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/lepinkainen/jxlconverter/internal/cancel"
	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

// DiagnosticLines is how many trailing output lines a failed task keeps
const DiagnosticLines = 20

// Run is everything the engine needs for one batch
type Run struct {
	ID        string
	Direction types.Direction
	// Tool is the resolved path of the executable
	Tool   string
	Tasks  []types.ConversionTask
	Token  *cancel.Token
	Events *progress.Channel
}

// Engine executes the tasks of a run and reports every outcome on the
// run's progress channel
type Engine struct {
	runner      ProcessRunner
	concurrency int
	logger      *slog.Logger
}

// NewEngine creates an engine. concurrency <= 1 runs tasks one at a time
// in order.
func NewEngine(runner ProcessRunner, concurrency int, logger *slog.Logger) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger.With("component", "executor"),
	}
}

// Execute runs every task and blocks until the run is over. Each task
// yields exactly one task_finished event; a single run_finished event
// follows them. Cancelling ctx counts as a cancel request.
func (e *Engine) Execute(ctx context.Context, run Run) types.RunState {
	state := types.RunState{
		RunID:     run.ID,
		Direction: run.Direction,
		Total:     len(run.Tasks),
		Outcome:   types.RunRunning,
		StartedAt: time.Now(),
	}

	stop := context.AfterFunc(ctx, func() { run.Token.Request() })
	defer stop()

	runCtx, cancelRun := run.Token.Context(ctx)
	defer cancelRun()

	e.logger.Info("run started", "run_id", run.ID, "tool", run.Tool, "tasks", len(run.Tasks), "concurrency", e.concurrency)

	b := &batch{engine: e, run: run, state: &state}
	if e.concurrency == 1 || len(run.Tasks) < 2 {
		for _, task := range run.Tasks {
			b.execute(runCtx, task)
		}
	} else {
		p := pool.New().WithMaxGoroutines(e.concurrency)
		for _, task := range run.Tasks {
			task := task
			p.Go(func() {
				b.execute(runCtx, task)
			})
		}
		p.Wait()
	}

	switch {
	case state.Cancelled > 0:
		state.Outcome = types.RunCancelled
	case b.aborted.Load():
		state.Outcome = types.RunAborted
	case state.Failed > 0:
		state.Outcome = types.RunCompletedWithErrors
	default:
		state.Outcome = types.RunCompleted
	}

	if run.Token.Requested() {
		state.CancelRequested = true
		run.Token.Acknowledge()
	}
	state.EndedAt = time.Now()

	if err := run.Events.Send(progress.RunFinished(state)); err != nil {
		e.logger.Error("failed to send run_finished", "run_id", run.ID, "error", err)
	}

	e.logger.Info("run finished",
		"run_id", run.ID,
		"outcome", state.Outcome,
		"succeeded", state.Succeeded,
		"failed", state.Failed,
		"skipped", state.Skipped,
		"cancelled", state.Cancelled,
		"duration", state.EndedAt.Sub(state.StartedAt))

	return state
}

// batch is the shared state of one Execute call
type batch struct {
	engine  *Engine
	run     Run
	aborted atomic.Bool

	mu    sync.Mutex
	state *types.RunState
}

func (b *batch) execute(ctx context.Context, task types.ConversionTask) {
	result := b.runTask(ctx, task)

	b.mu.Lock()
	b.state.Record(result)
	b.mu.Unlock()

	b.engine.logResult(b.run.ID, result)

	if err := b.run.Events.Send(progress.TaskFinished(b.run.ID, result)); err != nil {
		b.engine.logger.Error("failed to send task_finished", "run_id", b.run.ID, "task", task.Index, "error", err)
	}
}

func (b *batch) runTask(ctx context.Context, task types.ConversionTask) types.TaskResult {
	result := types.TaskResult{Task: task}

	if b.aborted.Load() {
		result.Outcome = types.OutcomeSkipped
		result.Message = "tool unavailable"
		result.EndedAt = time.Now()
		return result
	}
	if b.run.Token.Requested() {
		result.Outcome = types.OutcomeCancelled
		result.Message = "cancelled before start"
		result.EndedAt = time.Now()
		return result
	}

	if err := b.run.Events.Send(progress.TaskStarted(b.run.ID, task)); err != nil {
		b.engine.logger.Error("failed to send task_started", "run_id", b.run.ID, "task", task.Index, "error", err)
	}

	result.StartedAt = time.Now()
	res, err := b.engine.runner.Run(ctx, b.run.Tool, task.Args)
	result.EndedAt = time.Now()

	switch {
	case err != nil:
		b.aborted.Store(true)
		result.Outcome = types.OutcomeFailed
		result.Message = fmt.Sprintf("tool unavailable: %v", err)
	case res.Interrupted:
		result.Outcome = types.OutcomeCancelled
		result.Message = "cancelled while running"
		result.Diagnostics = Tail(res.Output, DiagnosticLines)
	case res.ExitCode != 0:
		result.Outcome = types.OutcomeFailed
		result.Message = fmt.Sprintf("%s exited with code %d", task.Tool, res.ExitCode)
		result.Diagnostics = Tail(res.Output, DiagnosticLines)
	default:
		result.Outcome = types.OutcomeSuccess
		result.Message = fmt.Sprintf("%s -> %s", task.Input, task.Output)
	}

	return result
}

func (e *Engine) logResult(runID string, r types.TaskResult) {
	attrs := []any{
		"run_id", runID,
		"task", r.Task.Index,
		"input", r.Task.Input,
		"outcome", r.Outcome,
	}

	switch r.Outcome {
	case types.OutcomeSuccess:
		e.logger.Info("task finished", append(attrs, "output", r.Task.Output, "duration", r.EndedAt.Sub(r.StartedAt))...)
	case types.OutcomeFailed:
		e.logger.Error("task failed", append(attrs, "message", r.Message, "diagnostics", r.Diagnostics)...)
	default:
		e.logger.Warn("task not completed", append(attrs, "message", r.Message)...)
	}
}

// Tail returns the last n lines of output
func Tail(output string, n int) string {
	output = strings.TrimRight(output, "\r\n")
	if output == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
