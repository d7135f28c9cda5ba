package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// MockRepository is an in-process RunRepository for tests
type MockRepository struct {
	runs map[string]types.RunRecord
	mu   sync.RWMutex
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		runs: make(map[string]types.RunRecord),
	}
}

// Create adds a new run to storage
func (m *MockRepository) Create(ctx context.Context, record types.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[record.ID]; exists {
		return fmt.Errorf("run %s already exists", record.ID)
	}

	record.Results = append([]types.TaskResult(nil), record.Results...)
	m.runs[record.ID] = record
	return nil
}

// GetByID retrieves a run by its ID
func (m *MockRepository) GetByID(ctx context.Context, id string) (types.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.runs[id]
	if !exists {
		return types.RunRecord{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}

	rec.Results = append([]types.TaskResult(nil), rec.Results...)
	return rec, nil
}

// List retrieves runs newest first, without results
func (m *MockRepository) List(ctx context.Context, limit int) ([]types.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]types.RunRecord, 0, len(m.runs))
	for _, rec := range m.runs {
		rec.Results = nil
		runs = append(runs, rec)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// UpdateState replaces the counters and outcome of a run
func (m *MockRepository) UpdateState(ctx context.Context, id string, state types.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.runs[id]
	if !exists {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}

	rec.State = state
	m.runs[id] = rec
	return nil
}

// AppendResult adds one task result to a run
func (m *MockRepository) AppendResult(ctx context.Context, runID string, result types.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.runs[runID]
	if !exists {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	rec.Results = append(rec.Results, result)
	m.runs[runID] = rec
	return nil
}

// Close closes the storage connection
func (m *MockRepository) Close() error {
	return nil
}
