package files

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

var (
	// ErrInputNotFound is returned when removing or updating an unknown path
	ErrInputNotFound = errors.New("input not found")
	// ErrInputExists is returned when adding a path twice
	ErrInputExists = errors.New("input already added")
)

// Manager holds the pending set of inputs the user picked for the next run
type Manager struct {
	fs afero.Fs

	mu      sync.RWMutex
	entries []types.InputEntry
}

// NewManager creates an empty input set that checks paths on fs
func NewManager(fs afero.Fs) *Manager {
	return &Manager{fs: fs}
}

// AddInput adds a file or directory. The path is stored in absolute form.
func (m *Manager) AddInput(path string) (types.InputEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.InputEntry{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	if _, err := m.fs.Stat(abs); err != nil {
		return types.InputEntry{}, fmt.Errorf("failed to stat input: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(abs) >= 0 {
		return types.InputEntry{}, fmt.Errorf("%s: %w", abs, ErrInputExists)
	}

	entry := types.InputEntry{Path: abs}
	m.entries = append(m.entries, entry)
	return entry, nil
}

// RemoveInput drops a path from the set
func (m *Manager) RemoveInput(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(abs)
	if i < 0 {
		return fmt.Errorf("%s: %w", abs, ErrInputNotFound)
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return nil
}

// SetInputFormat sets the decode output format for one input. An empty
// format clears the override.
func (m *Manager) SetInputFormat(path string, format types.OutputFormat) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(abs)
	if i < 0 {
		return fmt.Errorf("%s: %w", abs, ErrInputNotFound)
	}
	m.entries[i].Format = format
	return nil
}

// Inputs returns a copy of the current set in insertion order
func (m *Manager) Inputs() []types.InputEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.InputEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Clear empties the set
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

func (m *Manager) indexOf(abs string) int {
	for i, e := range m.entries {
		if e.Path == abs {
			return i
		}
	}
	return -1
}
