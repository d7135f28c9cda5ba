package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/jxlconverter/internal/types"
)

func sampleRecord(id string, created time.Time) types.RunRecord {
	opts := types.DefaultOptions()
	opts.OutputDir = "/out"

	return types.RunRecord{
		ID:      id,
		Options: opts,
		State: types.RunState{
			RunID:     id,
			Direction: types.DirectionEncode,
			Total:     2,
			Outcome:   types.RunRunning,
			StartedAt: created,
		},
		Warnings:  []string{"/in/broken: permission denied"},
		CreatedAt: created,
	}
}

func sampleResult(i int, outcome types.Outcome) types.TaskResult {
	now := time.Now().UTC()
	return types.TaskResult{
		Task: types.ConversionTask{
			Index:  i,
			Tool:   "cjxl",
			Input:  "/in/a.png",
			Output: "/out/a.jxl",
			Args:   []string{"/in/a.png", "/out/a.jxl", "-q", "90", "-e", "7"},
		},
		Outcome:     outcome,
		Message:     "done",
		Diagnostics: "line",
		StartedAt:   now,
		EndedAt:     now.Add(time.Second),
	}
}

// repositories runs the same checks against every RunRepository
func repositories(t *testing.T) map[string]RunRepository {
	t.Helper()

	mem, err := NewSQLiteRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	file, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })

	return map[string]RunRepository{
		"sqlite memory": mem,
		"sqlite file":   file,
		"mock":          NewMockRepository(),
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Now().UTC().Truncate(time.Millisecond)

			rec := sampleRecord("run-1", created)
			require.NoError(t, repo.Create(ctx, rec))

			require.NoError(t, repo.AppendResult(ctx, "run-1", sampleResult(0, types.OutcomeSuccess)))
			require.NoError(t, repo.AppendResult(ctx, "run-1", sampleResult(1, types.OutcomeFailed)))

			final := rec.State
			final.Completed = 2
			final.Succeeded = 1
			final.Failed = 1
			final.Outcome = types.RunCompletedWithErrors
			final.EndedAt = created.Add(time.Minute)
			require.NoError(t, repo.UpdateState(ctx, "run-1", final))

			got, err := repo.GetByID(ctx, "run-1")
			require.NoError(t, err)

			assert.Equal(t, "run-1", got.ID)
			assert.Equal(t, rec.Options, got.Options)
			assert.Equal(t, rec.Warnings, got.Warnings)
			assert.True(t, created.Equal(got.CreatedAt))
			assert.Equal(t, types.RunCompletedWithErrors, got.State.Outcome)
			assert.Equal(t, 1, got.State.Failed)
			assert.Equal(t, types.DirectionEncode, got.State.Direction)
			assert.True(t, final.EndedAt.Equal(got.State.EndedAt))

			require.Len(t, got.Results, 2)
			assert.Equal(t, 0, got.Results[0].Task.Index)
			assert.Equal(t, types.OutcomeFailed, got.Results[1].Outcome)
			assert.Equal(t, []string{"/in/a.png", "/out/a.jxl", "-q", "90", "-e", "7"}, got.Results[1].Task.Args)
		})
	}
}

func TestRepositoryNotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.GetByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrRunNotFound)

			err = repo.UpdateState(ctx, "missing", types.RunState{})
			assert.ErrorIs(t, err, ErrRunNotFound)
		})
	}
}

func TestRepositoryListNewestFirst(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)

			require.NoError(t, repo.Create(ctx, sampleRecord("a", base)))
			require.NoError(t, repo.Create(ctx, sampleRecord("b", base.Add(time.Minute))))
			require.NoError(t, repo.Create(ctx, sampleRecord("c", base.Add(2*time.Minute))))

			runs, err := repo.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "c", runs[0].ID)
			assert.Equal(t, "a", runs[2].ID)
			assert.Empty(t, runs[0].Results)

			runs, err = repo.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, runs, 2)
		})
	}
}

func TestSQLiteCreateWithResults(t *testing.T) {
	repo, err := NewSQLiteRepository("")
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	rec := sampleRecord("run-x", time.Now().UTC())
	rec.Results = []types.TaskResult{sampleResult(0, types.OutcomeSkipped)}
	rec.Warnings = nil

	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetByID(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, types.OutcomeSkipped, got.Results[0].Outcome)
	assert.Nil(t, got.Warnings)
}
