package types

import (
	"time"
)

// InputEntry is a file or directory the user added to the pending set
type InputEntry struct {
	Path string `json:"path"`
	// Root is the origin root used to compute the relative folder layout
	// when structure is preserved. Empty means "derive it at run start".
	Root string `json:"root,omitempty"`
	// Format overrides the run's decode output format for this entry
	Format OutputFormat `json:"format,omitempty"`
}

// SourceFile is one eligible file produced by path discovery
type SourceFile struct {
	Path   string       `json:"path"`
	Root   string       `json:"root"`
	Format OutputFormat `json:"format,omitempty"`
}

// ConversionTask fully describes one invocation of the external tool
type ConversionTask struct {
	Index  int          `json:"index"`
	Tool   string       `json:"tool"`
	Input  string       `json:"input"`
	Output string       `json:"output"`
	Args   []string     `json:"args"`
	Format OutputFormat `json:"format,omitempty"`
}

// Outcome is the terminal status of a single task
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
)

// TaskResult records how one task ended
type TaskResult struct {
	Task        ConversionTask `json:"task"`
	Outcome     Outcome        `json:"outcome"`
	Message     string         `json:"message,omitempty"`
	Diagnostics string         `json:"diagnostics,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	EndedAt     time.Time      `json:"ended_at"`
}
