package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/jxlconverter/internal/cancel"
	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

// fakeRunner answers each call with a scripted result keyed by input path
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]ProcessResult
	errs    map[string]error
	onCall  func(n int, args []string)
	block   bool
}

func (f *fakeRunner) Run(ctx context.Context, tool string, args []string) (ProcessResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args[0])
	n := len(f.calls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(n, args)
	}
	if err, ok := f.errs[args[0]]; ok {
		return ProcessResult{ExitCode: -1}, err
	}
	if f.block {
		<-ctx.Done()
		return ProcessResult{ExitCode: -1, Interrupted: true}, nil
	}
	return f.results[args[0]], nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeTasks(n int) []types.ConversionTask {
	tasks := make([]types.ConversionTask, n)
	for i := range tasks {
		in := fmt.Sprintf("/in/%d.png", i)
		tasks[i] = types.ConversionTask{
			Index:  i,
			Tool:   "cjxl",
			Input:  in,
			Output: fmt.Sprintf("/out/%d.jxl", i),
			Args:   []string{in, fmt.Sprintf("/out/%d.jxl", i), "-q", "90", "-e", "7"},
		}
	}
	return tasks
}

func newRun(tasks []types.ConversionTask) Run {
	return Run{
		ID:        "run-1",
		Direction: types.DirectionEncode,
		Tool:      "/usr/bin/cjxl",
		Tasks:     tasks,
		Token:     cancel.NewToken(),
		Events:    progress.NewChannel(),
	}
}

func drain(t *testing.T, ch *progress.Channel) []progress.Event {
	t.Helper()
	var events []progress.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func finished(events []progress.Event) []types.TaskResult {
	var out []types.TaskResult
	for _, ev := range events {
		if ev.Kind == progress.KindTaskFinished {
			out = append(out, *ev.Result)
		}
	}
	return out
}

func TestExecuteAllSucceed(t *testing.T) {
	runner := &fakeRunner{}
	run := newRun(makeTasks(3))

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	events := drain(t, run.Events)

	assert.Equal(t, types.RunCompleted, state.Outcome)
	assert.Equal(t, 3, state.Succeeded)
	assert.Equal(t, 3, state.Completed)
	assert.False(t, state.CancelRequested)

	results := finished(events)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Task.Index)
		assert.Equal(t, types.OutcomeSuccess, r.Outcome)
	}

	last := events[len(events)-1]
	assert.Equal(t, progress.KindRunFinished, last.Kind)
	assert.Equal(t, types.RunCompleted, last.State.Outcome)
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, progress.KindRunFinished, ev.Kind)
	}
	assert.Equal(t, []string{"/in/0.png", "/in/1.png", "/in/2.png"}, runner.calls)
}

func TestExecuteEmptyRun(t *testing.T) {
	run := newRun(nil)

	state := NewEngine(&fakeRunner{}, 1, nil).Execute(context.Background(), run)
	events := drain(t, run.Events)

	assert.Equal(t, types.RunCompleted, state.Outcome)
	require.Len(t, events, 1)
	assert.Equal(t, progress.KindRunFinished, events[0].Kind)
}

func TestExecuteFailureKeepsGoing(t *testing.T) {
	var output strings.Builder
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&output, "line %d\n", i)
	}

	runner := &fakeRunner{results: map[string]ProcessResult{
		"/in/1.png": {ExitCode: 3, Output: output.String()},
	}}
	run := newRun(makeTasks(3))

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	results := finished(drain(t, run.Events))

	assert.Equal(t, types.RunCompletedWithErrors, state.Outcome)
	assert.Equal(t, 2, state.Succeeded)
	assert.Equal(t, 1, state.Failed)

	require.Len(t, results, 3)
	failed := results[1]
	assert.Equal(t, types.OutcomeFailed, failed.Outcome)
	assert.Equal(t, "cjxl exited with code 3", failed.Message)

	lines := strings.Split(failed.Diagnostics, "\n")
	require.Len(t, lines, DiagnosticLines)
	assert.Equal(t, "line 11", lines[0])
	assert.Equal(t, "line 30", lines[len(lines)-1])
}

func TestExecuteCancelBeforeStart(t *testing.T) {
	runner := &fakeRunner{}
	run := newRun(makeTasks(4))
	run.Token.Request()

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	events := drain(t, run.Events)

	assert.Zero(t, runner.callCount())
	assert.Equal(t, types.RunCancelled, state.Outcome)
	assert.Equal(t, 4, state.Cancelled)
	assert.True(t, state.CancelRequested)
	assert.Equal(t, cancel.Acknowledged, run.Token.State())

	for _, ev := range events {
		assert.NotEqual(t, progress.KindTaskStarted, ev.Kind)
	}
	for _, r := range finished(events) {
		assert.Equal(t, types.OutcomeCancelled, r.Outcome)
	}
}

func TestExecuteCancelAfterK(t *testing.T) {
	const n, k = 6, 2

	run := newRun(makeTasks(n))
	runner := &fakeRunner{onCall: func(call int, _ []string) {
		if call == k {
			run.Token.Request()
		}
	}}

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	results := finished(drain(t, run.Events))

	require.Len(t, results, n)
	assert.Equal(t, k, runner.callCount())
	for i, r := range results {
		if i < k {
			assert.Equal(t, types.OutcomeSuccess, r.Outcome, "task %d", i)
		} else {
			assert.Equal(t, types.OutcomeCancelled, r.Outcome, "task %d", i)
		}
	}
	assert.Equal(t, types.RunCancelled, state.Outcome)
	assert.Equal(t, cancel.Acknowledged, run.Token.State())
}

func TestExecuteCancelInterruptsRunningTask(t *testing.T) {
	runner := &fakeRunner{block: true}
	run := newRun(makeTasks(2))

	go func() {
		for runner.callCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		run.Token.Request()
	}()

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	results := finished(drain(t, run.Events))

	require.Len(t, results, 2)
	assert.Equal(t, types.OutcomeCancelled, results[0].Outcome)
	assert.Equal(t, "cancelled while running", results[0].Message)
	assert.Equal(t, types.OutcomeCancelled, results[1].Outcome)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, types.RunCancelled, state.Outcome)
}

func TestExecuteContextCancelIsCancelRequest(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()

	runner := &fakeRunner{}
	run := newRun(makeTasks(2))

	state := NewEngine(runner, 1, nil).Execute(ctx, run)
	drain(t, run.Events)

	assert.Equal(t, types.RunCancelled, state.Outcome)
	assert.Zero(t, runner.callCount())
}

func TestExecuteSpawnFailureAborts(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		"/in/0.png": &SpawnError{Tool: "/usr/bin/cjxl", Err: errors.New("permission denied")},
	}}
	run := newRun(makeTasks(3))

	state := NewEngine(runner, 1, nil).Execute(context.Background(), run)
	results := finished(drain(t, run.Events))

	require.Len(t, results, 3)
	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	assert.True(t, strings.HasPrefix(results[0].Message, "tool unavailable"))
	assert.Equal(t, types.OutcomeSkipped, results[1].Outcome)
	assert.Equal(t, types.OutcomeSkipped, results[2].Outcome)

	assert.Equal(t, types.RunAborted, state.Outcome)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, 2, state.Skipped)
}

func TestExecutePoolReportsEachTaskOnce(t *testing.T) {
	runner := &fakeRunner{results: map[string]ProcessResult{
		"/in/5.png": {ExitCode: 1},
	}}
	run := newRun(makeTasks(20))

	state := NewEngine(runner, 4, nil).Execute(context.Background(), run)
	events := drain(t, run.Events)

	results := finished(events)
	require.Len(t, results, 20)

	seen := make(map[int]int)
	for _, r := range results {
		seen[r.Task.Index]++
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, seen[i], "task %d", i)
	}

	assert.Equal(t, progress.KindRunFinished, events[len(events)-1].Kind)
	assert.Equal(t, types.RunCompletedWithErrors, state.Outcome)
	assert.Equal(t, 19, state.Succeeded)
	assert.Equal(t, 20, runner.callCount())
}

func TestExecutePoolNoSpawnAfterCancel(t *testing.T) {
	run := newRun(makeTasks(50))
	runner := &fakeRunner{onCall: func(call int, _ []string) {
		if call == 1 {
			run.Token.Request()
		}
	}}

	state := NewEngine(runner, 2, nil).Execute(context.Background(), run)
	results := finished(drain(t, run.Events))

	require.Len(t, results, 50)
	// At most the workers that passed the check before the request spawn
	assert.LessOrEqual(t, runner.callCount(), 2)
	assert.Equal(t, types.RunCancelled, state.Outcome)
	assert.Equal(t, cancel.Acknowledged, run.Token.State())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "", Tail("", 5))
	assert.Equal(t, "a\nb", Tail("a\nb\n", 5))
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
}
