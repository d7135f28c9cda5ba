package task

import (
	"sync"
	"time"

	"github.com/lepinkainen/jxlconverter/internal/cancel"
	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

// Run is the manager's live view of one batch. It is updated from the
// progress stream only.
type Run struct {
	record types.RunRecord
	tool   string
	token  *cancel.Token
	done   chan struct{}
	mu     sync.RWMutex
}

func newRun(id string, opts types.ConversionOptions, total int, tool string, warnings []string) *Run {
	now := time.Now()
	return &Run{
		record: types.RunRecord{
			ID:      id,
			Options: opts,
			State: types.RunState{
				RunID:     id,
				Direction: opts.Direction,
				Total:     total,
				Outcome:   types.RunRunning,
				StartedAt: now,
			},
			Results:   make([]types.TaskResult, 0, total),
			Warnings:  warnings,
			CreatedAt: now,
		},
		tool:  tool,
		token: cancel.NewToken(),
		done:  make(chan struct{}),
	}
}

// ID returns the run ID
func (r *Run) ID() string {
	return r.record.ID
}

// Token returns the run's cancellation token
func (r *Run) Token() *cancel.Token {
	return r.token
}

// Done is closed once the run_finished event has been stored and broadcast
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether the run is over
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// apply folds an event into the run
func (r *Run) apply(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case progress.KindTaskFinished:
		r.record.Results = append(r.record.Results, *ev.Result)
		r.record.State.Record(*ev.Result)
	case progress.KindRunFinished:
		r.record.State = *ev.State
	}
}

// finish marks the run over. It is called once the final state has been
// stored and broadcast.
func (r *Run) finish() {
	close(r.done)
}

// State returns the current counters
func (r *Run) State() types.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := r.record.State
	state.CancelRequested = state.CancelRequested || r.token.Requested()
	return state
}

// Clone returns a copy of the run record for safe reading
func (r *Run) Clone() types.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := r.record
	clone.Results = make([]types.TaskResult, len(r.record.Results))
	copy(clone.Results, r.record.Results)
	if r.record.Warnings != nil {
		clone.Warnings = make([]string, len(r.record.Warnings))
		copy(clone.Warnings, r.record.Warnings)
	}
	clone.State.CancelRequested = clone.State.CancelRequested || r.token.Requested()

	return clone
}
