package storage

import (
	"context"
	"errors"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// ErrRunNotFound is returned when a run ID is unknown
var ErrRunNotFound = errors.New("run not found")

// RunRepository defines the interface for run history persistence
type RunRepository interface {
	// Create adds a new run. Results already on the record are stored too.
	Create(ctx context.Context, record types.RunRecord) error

	// GetByID retrieves a run with all its task results
	GetByID(ctx context.Context, id string) (types.RunRecord, error)

	// List retrieves runs newest first, without task results. limit <= 0
	// means no limit.
	List(ctx context.Context, limit int) ([]types.RunRecord, error)

	// UpdateState replaces the counters and outcome of a run
	UpdateState(ctx context.Context, id string, state types.RunState) error

	// AppendResult adds one task result to a run
	AppendResult(ctx context.Context, runID string, result types.TaskResult) error

	// Close closes the storage connection
	Close() error
}
