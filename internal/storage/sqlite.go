package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

// MemoryPath keeps the history in memory for the lifetime of the process
const MemoryPath = ":memory:"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteRepository implements RunRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dbPath and migrates it. An empty path selects
// an in-memory database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dbPath == "" {
		dbPath = MemoryPath
	}

	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != MemoryPath {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Create adds a new run to storage
func (r *SQLiteRepository) Create(ctx context.Context, record types.RunRecord) error {
	optionsJSON, err := json.Marshal(record.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	warnings := record.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	s := record.State
	query := `
		INSERT INTO runs (id, direction, outcome, total, completed, succeeded, failed, skipped, cancelled,
			cancel_requested, options, warnings, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, string(s.Direction), string(s.Outcome), s.Total, s.Completed, s.Succeeded, s.Failed,
		s.Skipped, s.Cancelled, s.CancelRequested, string(optionsJSON), string(warningsJSON),
		record.CreatedAt, nullTime(s.StartedAt), nullTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for _, result := range record.Results {
		if err := r.AppendResult(ctx, record.ID, result); err != nil {
			return fmt.Errorf("failed to insert existing result: %w", err)
		}
	}

	return nil
}

const runColumns = `id, direction, outcome, total, completed, succeeded, failed, skipped, cancelled,
	cancel_requested, options, warnings, created_at, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (types.RunRecord, error) {
	var rec types.RunRecord
	var direction, outcome, optionsJSON, warningsJSON string
	var startedAt, endedAt sql.NullTime

	s := &rec.State
	err := row.Scan(&rec.ID, &direction, &outcome, &s.Total, &s.Completed, &s.Succeeded, &s.Failed,
		&s.Skipped, &s.Cancelled, &s.CancelRequested, &optionsJSON, &warningsJSON,
		&rec.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return types.RunRecord{}, err
	}

	s.RunID = rec.ID
	s.Direction = types.Direction(direction)
	s.Outcome = types.RunOutcome(outcome)
	if startedAt.Valid {
		s.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		s.EndedAt = endedAt.Time
	}

	if err := json.Unmarshal([]byte(optionsJSON), &rec.Options); err != nil {
		return types.RunRecord{}, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	if err := json.Unmarshal([]byte(warningsJSON), &rec.Warnings); err != nil {
		return types.RunRecord{}, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}
	if len(rec.Warnings) == 0 {
		rec.Warnings = nil
	}

	return rec, nil
}

// GetByID retrieves a run by its ID
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (types.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RunRecord{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
		}
		return types.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}

	results, err := r.results(ctx, id)
	if err != nil {
		return types.RunRecord{}, err
	}
	rec.Results = results

	return rec, nil
}

func (r *SQLiteRepository) results(ctx context.Context, runID string) ([]types.TaskResult, error) {
	query := `
		SELECT task_index, tool, input, output, args, format, outcome, message, diagnostics, started_at, ended_at
		FROM task_results WHERE run_id = ? ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task results: %w", err)
	}
	defer rows.Close()

	var results []types.TaskResult
	for rows.Next() {
		var res types.TaskResult
		var argsJSON, format, outcome string
		var startedAt, endedAt sql.NullTime

		err := rows.Scan(&res.Task.Index, &res.Task.Tool, &res.Task.Input, &res.Task.Output, &argsJSON,
			&format, &outcome, &res.Message, &res.Diagnostics, &startedAt, &endedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}

		if err := json.Unmarshal([]byte(argsJSON), &res.Task.Args); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
		res.Task.Format = types.OutputFormat(format)
		res.Outcome = types.Outcome(outcome)
		if startedAt.Valid {
			res.StartedAt = startedAt.Time
		}
		if endedAt.Valid {
			res.EndedAt = endedAt.Time
		}

		results = append(results, res)
	}

	return results, rows.Err()
}

// List retrieves runs newest first
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]types.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

// UpdateState replaces the counters and outcome of a run
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, s types.RunState) error {
	query := `
		UPDATE runs
		SET outcome = ?, total = ?, completed = ?, succeeded = ?, failed = ?, skipped = ?, cancelled = ?,
			cancel_requested = ?, started_at = ?, ended_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		string(s.Outcome), s.Total, s.Completed, s.Succeeded, s.Failed, s.Skipped, s.Cancelled,
		s.CancelRequested, nullTime(s.StartedAt), nullTime(s.EndedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}

	return nil
}

// AppendResult adds one task result to a run
func (r *SQLiteRepository) AppendResult(ctx context.Context, runID string, result types.TaskResult) error {
	argsJSON, err := json.Marshal(result.Task.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}

	query := `
		INSERT INTO task_results (run_id, task_index, tool, input, output, args, format, outcome, message,
			diagnostics, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		runID, result.Task.Index, result.Task.Tool, result.Task.Input, result.Task.Output, string(argsJSON),
		string(result.Task.Format), string(result.Outcome), result.Message, result.Diagnostics,
		nullTime(result.StartedAt), nullTime(result.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}

	return nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
