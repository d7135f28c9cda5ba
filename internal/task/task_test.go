package task

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

func TestNewRun(t *testing.T) {
	opts := types.DefaultOptions()
	run := newRun("run-1", opts, 4, "cjxl", []string{"w"})

	assert.Equal(t, "run-1", run.ID())
	assert.False(t, run.Finished())

	rec := run.Clone()
	assert.Equal(t, 4, rec.State.Total)
	assert.Equal(t, types.RunRunning, rec.State.Outcome)
	assert.Equal(t, opts, rec.Options)
	assert.Equal(t, []string{"w"}, rec.Warnings)
	assert.Empty(t, rec.Results)
}

func TestRunApply(t *testing.T) {
	run := newRun("run-1", types.DefaultOptions(), 2, "cjxl", nil)

	run.apply(progress.TaskStarted("run-1", types.ConversionTask{Index: 0}))
	assert.Equal(t, 0, run.State().Completed)

	run.apply(progress.TaskFinished("run-1", types.TaskResult{
		Task:    types.ConversionTask{Index: 0},
		Outcome: types.OutcomeSuccess,
	}))
	run.apply(progress.TaskFinished("run-1", types.TaskResult{
		Task:    types.ConversionTask{Index: 1},
		Outcome: types.OutcomeFailed,
	}))

	state := run.State()
	assert.Equal(t, 2, state.Completed)
	assert.Equal(t, 1, state.Succeeded)
	assert.Equal(t, 1, state.Failed)

	final := state
	final.Outcome = types.RunCompletedWithErrors
	run.apply(progress.RunFinished(final))
	assert.False(t, run.Finished(), "finished only once stored and broadcast")

	run.finish()
	assert.True(t, run.Finished())
	assert.Equal(t, types.RunCompletedWithErrors, run.Clone().State.Outcome)
}

func TestRunCloneIsIndependent(t *testing.T) {
	run := newRun("run-1", types.DefaultOptions(), 1, "cjxl", []string{"w"})
	run.apply(progress.TaskFinished("run-1", types.TaskResult{Outcome: types.OutcomeSuccess}))

	clone := run.Clone()
	clone.Results[0].Outcome = types.OutcomeFailed
	clone.Warnings[0] = "changed"

	again := run.Clone()
	assert.Equal(t, types.OutcomeSuccess, again.Results[0].Outcome)
	assert.Equal(t, "w", again.Warnings[0])
}

func TestRunReportsCancelRequest(t *testing.T) {
	run := newRun("run-1", types.DefaultOptions(), 1, "cjxl", nil)
	assert.False(t, run.State().CancelRequested)

	require.True(t, run.Token().Request())
	assert.True(t, run.State().CancelRequested)
	assert.True(t, run.Clone().State.CancelRequested)
}

func TestRunConcurrentReaders(t *testing.T) {
	run := newRun("run-1", types.DefaultOptions(), 100, "cjxl", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			run.apply(progress.TaskFinished("run-1", types.TaskResult{
				Task:    types.ConversionTask{Index: i},
				Outcome: types.OutcomeSuccess,
			}))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rec := run.Clone()
				assert.Equal(t, rec.State.Completed, len(rec.Results))
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 100, run.State().Succeeded)
}
