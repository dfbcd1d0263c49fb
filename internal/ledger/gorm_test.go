package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestGormRunRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewGormRunRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	run := &Run{
		ID:             "run-1",
		ConfigSnapshot: `{"batch_size":4}`,
		Status:         RunStatusStarted,
		StartedAt:      time.Now(),
	}
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, RunStatusStarted, got.Status)
}

func TestGormRunRepository_GetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewGormRunRepository(db)
	require.NoError(t, err)

	_, err = repo.GetRun(context.Background(), "missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestGormRunRepository_UpdateProgressAndFinish(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewGormRunRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	run := &Run{ID: "run-2", Status: RunStatusStarted, StartedAt: time.Now()}
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.UpdateRunProgress(ctx, "run-2", 3, 120, 40))
	got, err := repo.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.StepsCompleted)
	assert.EqualValues(t, 120, got.NodesCreated)
	assert.EqualValues(t, 40, got.NotifsCreated)

	require.NoError(t, repo.FinishRun(ctx, "run-2", RunStatusCompleted, ""))
	got, err = repo.GetRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestGormRunRepository_UpdateProgress_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewGormRunRepository(db)
	require.NoError(t, err)

	err = repo.UpdateRunProgress(context.Background(), "missing", 1, 1, 1)
	assert.Error(t, err)
}

func TestGormRunRepository_RecentRuns(t *testing.T) {
	db := setupTestDB(t)
	repo, err := NewGormRunRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateRun(ctx, &Run{
			ID:        "run-list-" + string(rune('a'+i)),
			Status:    RunStatusStarted,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := repo.RecentRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
