// Package task owns the conversion session: the pending inputs, the single
// active run and the subscribers watching it.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/lepinkainen/jxlconverter/internal/config"
	"github.com/lepinkainen/jxlconverter/internal/executor"
	"github.com/lepinkainen/jxlconverter/internal/files"
	"github.com/lepinkainen/jxlconverter/internal/job"
	"github.com/lepinkainen/jxlconverter/internal/progress"
	"github.com/lepinkainen/jxlconverter/internal/storage"
	"github.com/lepinkainen/jxlconverter/internal/types"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNoInputs      = errors.New("no inputs selected")
	ErrNoOutputDir   = job.ErrNoOutputDir
	ErrNoActiveRun   = errors.New("no active run")
)

// Locator resolves a tool name to an executable path
type Locator interface {
	Locate(tool string) (string, error)
	Forget(tool string)
}

// Options wires a Manager to its collaborators
type Options struct {
	Locator Locator
	Inputs  *files.Manager
	Builder *job.Builder
	Engine  *executor.Engine
	Repo    storage.RunRepository
	Tools   config.ToolsConfig
	Logger  *slog.Logger
}

// Manager manages the conversion session
type Manager struct {
	locator Locator
	inputs  *files.Manager
	builder *job.Builder
	engine  *executor.Engine
	repo    storage.RunRepository
	tools   config.ToolsConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu   sync.Mutex
	mu        sync.RWMutex
	current   *Run
	listeners []*progress.Subscription
}

// NewManager creates a new session manager
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		locator:   opts.Locator,
		inputs:    opts.Inputs,
		builder:   opts.Builder,
		engine:    opts.Engine,
		repo:      opts.Repo,
		tools:     opts.Tools,
		logger:    logger.With("component", "task-manager"),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make([]*progress.Subscription, 0),
	}
}

// AddInput adds a file or directory to the pending set
func (m *Manager) AddInput(path string) (types.InputEntry, error) {
	return m.inputs.AddInput(path)
}

// RemoveInput removes a path from the pending set
func (m *Manager) RemoveInput(path string) error {
	return m.inputs.RemoveInput(path)
}

// SetInputFormat sets the decode output format of one pending input
func (m *Manager) SetInputFormat(path string, format types.OutputFormat) error {
	return m.inputs.SetInputFormat(path, format)
}

// Inputs returns the pending set
func (m *Manager) Inputs() []types.InputEntry {
	return m.inputs.Inputs()
}

// ClearInputs empties the pending set
func (m *Manager) ClearInputs() {
	m.inputs.Clear()
}

// plan is a run that has been validated and built but not started
type plan struct {
	opts     types.ConversionOptions
	tasks    []types.ConversionTask
	warnings []files.Warning
}

// prepare validates options, expands inputs and builds the task list.
// Output directories are created as a side effect.
func (m *Manager) prepare(inputs []types.InputEntry, opts types.ConversionOptions) (plan, error) {
	if inputs == nil {
		inputs = m.inputs.Inputs()
	}
	if len(inputs) == 0 {
		return plan{}, ErrNoInputs
	}

	opts = opts.Normalize()
	if opts.OutputDir == "" {
		return plan{}, ErrNoOutputDir
	}
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return plan{}, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	opts.OutputDir = outDir

	res := files.Discover(inputs, opts.Recursive, files.AcceptedExtensions(opts.Direction))
	for _, w := range res.Warnings {
		m.logger.Warn("discovery warning", "path", w.Path, "error", w.Err)
	}

	tasks, err := m.builder.Build(res.Files, opts, m.tools.ToolFor(opts.Direction))
	if err != nil {
		return plan{}, fmt.Errorf("failed to build tasks: %w", err)
	}

	return plan{opts: opts, tasks: tasks, warnings: res.Warnings}, nil
}

// StartRun snapshots inputs and options and starts a run in the
// background. A nil inputs slice means the pending set. The tool is
// located before anything else happens on disk.
func (m *Manager) StartRun(ctx context.Context, inputs []types.InputEntry, opts types.ConversionOptions) (types.RunRecord, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.RLock()
	busy := m.current != nil && !m.current.Finished()
	m.mu.RUnlock()
	if busy {
		return types.RunRecord{}, ErrRunInProgress
	}

	opts = opts.Normalize()
	toolName := m.tools.ToolFor(opts.Direction)
	toolPath, err := m.locator.Locate(toolName)
	if err != nil {
		return types.RunRecord{}, err
	}

	p, err := m.prepare(inputs, opts)
	if err != nil {
		return types.RunRecord{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("failed to generate run id: %w", err)
	}

	warnings := make([]string, 0, len(p.warnings))
	for _, w := range p.warnings {
		warnings = append(warnings, w.Error())
	}
	if len(warnings) == 0 {
		warnings = nil
	}

	run := newRun(id.String(), p.opts, len(p.tasks), toolName, warnings)

	if err := m.repo.Create(ctx, run.Clone()); err != nil {
		m.logger.Error("failed to record run", "run_id", run.ID(), "error", err)
	}

	events := progress.NewChannel()

	m.mu.Lock()
	m.current = run
	m.mu.Unlock()

	m.logger.Info("starting run",
		"run_id", run.ID(),
		"direction", p.opts.Direction,
		"tasks", len(p.tasks),
		"warnings", len(warnings),
		"output_dir", p.opts.OutputDir)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.engine.Execute(m.ctx, executor.Run{
			ID:        run.ID(),
			Direction: p.opts.Direction,
			Tool:      toolPath,
			Tasks:     p.tasks,
			Token:     run.Token(),
			Events:    events,
		})
	}()
	go func() {
		defer m.wg.Done()
		m.forward(run, events)
	}()

	return run.Clone(), nil
}

// forward drains the run's progress channel in order, keeping the run
// record and the history store current and fanning events out
func (m *Manager) forward(run *Run, events *progress.Channel) {
	// Persistence outlives a manager shutdown so the final state is kept
	ctx := context.WithoutCancel(m.ctx)

	for ev := range events.Events() {
		run.apply(ev)

		switch ev.Kind {
		case progress.KindTaskFinished:
			if err := m.repo.AppendResult(ctx, run.ID(), *ev.Result); err != nil {
				m.logger.Error("failed to record task result", "run_id", run.ID(), "error", err)
			}
		case progress.KindRunFinished:
			if err := m.repo.UpdateState(ctx, run.ID(), *ev.State); err != nil {
				m.logger.Error("failed to record run state", "run_id", run.ID(), "error", err)
			}
			if ev.State.Outcome == types.RunAborted {
				m.locator.Forget(run.tool)
			}
		}

		m.broadcastEvent(ev)

		if ev.Kind == progress.KindRunFinished {
			run.finish()
		}
	}
}

// RequestCancel asks the active run to stop
func (m *Manager) RequestCancel() error {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run == nil || run.Finished() {
		return ErrNoActiveRun
	}

	if run.Token().Request() {
		m.logger.Info("cancel requested", "run_id", run.ID())
	}
	return nil
}

// CurrentRun returns the most recent run of this session
func (m *Manager) CurrentRun() (types.RunRecord, bool) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run == nil {
		return types.RunRecord{}, false
	}
	return run.Clone(), true
}

// CurrentState returns the live counters of the most recent run
func (m *Manager) CurrentState() (types.RunState, bool) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run == nil {
		return types.RunState{}, false
	}
	return run.State(), true
}

// Wait blocks until the current run has finished and returns its record
func (m *Manager) Wait(ctx context.Context) (types.RunRecord, error) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run == nil {
		return types.RunRecord{}, ErrNoActiveRun
	}

	select {
	case <-run.Done():
		return run.Clone(), nil
	case <-ctx.Done():
		return types.RunRecord{}, ctx.Err()
	}
}

// GetRun returns a run from this session or the history store
func (m *Manager) GetRun(ctx context.Context, id string) (types.RunRecord, error) {
	m.mu.RLock()
	run := m.current
	m.mu.RUnlock()

	if run != nil && run.ID() == id {
		return run.Clone(), nil
	}
	return m.repo.GetByID(ctx, id)
}

// History lists stored runs newest first
func (m *Manager) History(ctx context.Context, limit int) ([]types.RunRecord, error) {
	return m.repo.List(ctx, limit)
}

// TaskPreview is a built task with its rendered command line
type TaskPreview struct {
	Task    types.ConversionTask `json:"task"`
	Command string               `json:"command"`
}

// RunPreview is what StartRun would execute
type RunPreview struct {
	Options  types.ConversionOptions `json:"options"`
	Tasks    []TaskPreview           `json:"tasks"`
	Warnings []string                `json:"warnings,omitempty"`
}

// PreviewCommand renders the command line of a task
func (m *Manager) PreviewCommand(task types.ConversionTask) string {
	return job.Preview(task)
}

// PreviewOptions renders the command of an option set for placeholder
// file names, using the configured tool
func (m *Manager) PreviewOptions(opts types.ConversionOptions, jpegInput bool) string {
	opts = opts.Normalize()
	return job.PreviewOptions(m.tools.ToolFor(opts.Direction), opts, jpegInput)
}

// PreviewRun builds the tasks a run would execute without running them
func (m *Manager) PreviewRun(inputs []types.InputEntry, opts types.ConversionOptions) (RunPreview, error) {
	p, err := m.prepare(inputs, opts)
	if err != nil {
		return RunPreview{}, err
	}

	preview := RunPreview{
		Options: p.opts,
		Tasks:   make([]TaskPreview, 0, len(p.tasks)),
	}
	for _, t := range p.tasks {
		preview.Tasks = append(preview.Tasks, TaskPreview{Task: t, Command: job.Preview(t)})
	}
	for _, w := range p.warnings {
		preview.Warnings = append(preview.Warnings, w.Error())
	}

	return preview, nil
}

// ToolStatus reports whether a tool could be located
type ToolStatus struct {
	Direction types.Direction `json:"direction"`
	Name      string          `json:"name"`
	Path      string          `json:"path,omitempty"`
	Available bool            `json:"available"`
	Error     string          `json:"error,omitempty"`
}

// Tools locates the encoder and decoder
func (m *Manager) Tools() []ToolStatus {
	statuses := make([]ToolStatus, 0, 2)
	for _, d := range []types.Direction{types.DirectionEncode, types.DirectionDecode} {
		name := m.tools.ToolFor(d)
		st := ToolStatus{Direction: d, Name: name}
		if path, err := m.locator.Locate(name); err != nil {
			st.Error = err.Error()
		} else {
			st.Path = path
			st.Available = true
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// backlogWarnStep is how often a lagging listener is reported
const backlogWarnStep = 1000

// Subscribe creates a new event listener. Every event broadcast after
// this call is delivered in order until Unsubscribe.
func (m *Manager) Subscribe() <-chan progress.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := progress.NewSubscription()
	m.listeners = append(m.listeners, sub)
	return sub.Events()
}

// Unsubscribe removes an event listener and closes its channel
func (m *Manager) Unsubscribe(ch <-chan progress.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener.Events() == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			listener.Close()
			break
		}
	}
}

// broadcastEvent queues an event for all listeners
func (m *Manager) broadcastEvent(event progress.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, listener := range m.listeners {
		listener.Deliver(event)
		if n := listener.Backlog(); n >= backlogWarnStep && n%backlogWarnStep == 0 {
			m.logger.Warn("listener falling behind", "run_id", event.RunID, "backlog", n)
		}
	}
}

// Close cancels the active run and waits for it to wind down
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
