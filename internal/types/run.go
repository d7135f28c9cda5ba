package types

import (
	"time"
)

// RunOutcome is the overall status of a run
type RunOutcome string

const (
	RunRunning             RunOutcome = "running"
	RunCompleted           RunOutcome = "completed"
	RunCompletedWithErrors RunOutcome = "completed_with_errors"
	RunCancelled           RunOutcome = "cancelled"
	// RunAborted means the tool could not be spawned and the remaining
	// tasks were skipped
	RunAborted RunOutcome = "aborted"
)

// IsFinished reports whether the outcome is terminal
func (o RunOutcome) IsFinished() bool {
	return o != RunRunning && o != ""
}

// RunState is a point-in-time snapshot of a run's counters
type RunState struct {
	RunID           string     `json:"run_id"`
	Direction       Direction  `json:"direction"`
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	Succeeded       int        `json:"succeeded"`
	Failed          int        `json:"failed"`
	Skipped         int        `json:"skipped"`
	Cancelled       int        `json:"cancelled"`
	CancelRequested bool       `json:"cancel_requested"`
	Outcome         RunOutcome `json:"outcome"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         time.Time  `json:"ended_at,omitempty"`
}

// Record folds a task result into the counters
func (s *RunState) Record(r TaskResult) {
	s.Completed++
	switch r.Outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeCancelled:
		s.Cancelled++
	}
}

// RunRecord is the stored history entry for one run
type RunRecord struct {
	ID        string            `json:"id"`
	Options   ConversionOptions `json:"options"`
	State     RunState          `json:"state"`
	Results   []TaskResult      `json:"results"`
	Warnings  []string          `json:"warnings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
