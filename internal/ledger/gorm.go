package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// runRecord is the GORM row backing a Run.
type runRecord struct {
	ID             string `gorm:"primaryKey"`
	ConfigSnapshot string
	Status         string
	StepsCompleted int
	NodesCreated   int64
	NotifsCreated  int64
	FailureReason  string
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (runRecord) TableName() string { return "dagsearch_runs" }

func (r runRecord) toRun() *Run {
	return &Run{
		ID:             r.ID,
		ConfigSnapshot: r.ConfigSnapshot,
		Status:         RunStatus(r.Status),
		StepsCompleted: r.StepsCompleted,
		NodesCreated:   r.NodesCreated,
		NotifsCreated:  r.NotifsCreated,
		FailureReason:  r.FailureReason,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository. It runs AutoMigrate
// for the run table so the demo CLI can point at a bare database.
func NewGormRunRepository(db *gorm.DB) (*GormRunRepository, error) {
	if err := db.AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run table: %w", err)
	}
	return &GormRunRepository{db: db}, nil
}

func (r *GormRunRepository) CreateRun(ctx context.Context, run *Run) error {
	record := &runRecord{
		ID:             run.ID,
		ConfigSnapshot: run.ConfigSnapshot,
		Status:         string(run.Status),
		StartedAt:      run.StartedAt,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (r *GormRunRepository) UpdateRunProgress(ctx context.Context, runID string, stepsCompleted int, nodesCreated, notifsCreated int64) error {
	res := r.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"steps_completed": stepsCompleted,
			"nodes_created":   nodesCreated,
			"notifs_created":  notifsCreated,
		})
	if res.Error != nil {
		return fmt.Errorf("update run progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func (r *GormRunRepository) FinishRun(ctx context.Context, runID string, status RunStatus, failureReason string) error {
	res := r.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":         string(status),
			"failure_reason": failureReason,
			"finished_at":    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("finish run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

func (r *GormRunRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	var record runRecord
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return record.toRun(), nil
}

func (r *GormRunRepository) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	var records []runRecord
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	runs := make([]*Run, len(records))
	for i, rec := range records {
		runs[i] = rec.toRun()
	}
	return runs, nil
}
