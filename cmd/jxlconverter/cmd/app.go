package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/lepinkainen/jxlconverter/internal/config"
	"github.com/lepinkainen/jxlconverter/internal/executor"
	"github.com/lepinkainen/jxlconverter/internal/files"
	"github.com/lepinkainen/jxlconverter/internal/job"
	"github.com/lepinkainen/jxlconverter/internal/locator"
	"github.com/lepinkainen/jxlconverter/internal/logging"
	"github.com/lepinkainen/jxlconverter/internal/storage"
	"github.com/lepinkainen/jxlconverter/internal/task"
)

// app is the wired session shared by every subcommand
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	locator *locator.Locator
	repo    *storage.SQLiteRepository
	manager *task.Manager
}

// newApp loads configuration and wires the session. Log output that is
// not going to a file is written to console.
func newApp(console io.Writer) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(console, cfg.Log)
	slog.SetDefault(logger)

	loc, err := locator.NewDefault(cfg.Tools.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool locator: %w", err)
	}

	repo, err := storage.NewSQLiteRepository(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	fs := afero.NewOsFs()
	engine := executor.NewEngine(executor.NewExecRunner(cfg.Engine.GracePeriod), cfg.Engine.Concurrency, logger)

	manager := task.NewManager(task.Options{
		Locator: loc,
		Inputs:  files.NewManager(fs),
		Builder: job.NewBuilder(fs),
		Engine:  engine,
		Repo:    repo,
		Tools:   cfg.Tools,
		Logger:  logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		locator: loc,
		repo:    repo,
		manager: manager,
	}, nil
}

// Close stops any active run and closes the history store
func (a *app) Close() {
	a.manager.Close()
	if err := a.repo.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
