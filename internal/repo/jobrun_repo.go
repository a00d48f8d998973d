// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the scheduler's run history and provides
// the small aggregate queries the ops API uses for paging and conditional
// responses (ETag generation).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-staff-assistant/internal/domain"
)

// RecordJobRun inserts a run record, assigning a UUID when ID is empty.
func RecordJobRun(ctx context.Context, db *gorm.DB, run *domain.JobRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(run).Error
}

func jobRunScope(ctx context.Context, db *gorm.DB, job string) *gorm.DB {
	q := db.WithContext(ctx).Model(&domain.JobRun{})
	if job != "" {
		q = q.Where("job = ?", job)
	}
	return q
}

// CountJobRuns returns the number of runs recorded for job, or for all jobs
// when job is empty.
func CountJobRuns(ctx context.Context, db *gorm.DB, job string) (int64, error) {
	var n int64
	err := jobRunScope(ctx, db, job).Count(&n).Error
	return n, err
}

// ListJobRunsPage returns runs newest first.
func ListJobRunsPage(ctx context.Context, db *gorm.DB, job string, offset, limit int) ([]domain.JobRun, error) {
	var out []domain.JobRun
	err := jobRunScope(ctx, db, job).
		Order("started_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// JobRunsStats returns the number of runs for job (all jobs when empty) and
// the latest StartedAt among them. When there are no runs, lastStartedAt is
// nil.
func JobRunsStats(ctx context.Context, db *gorm.DB, job string) (count int64, lastStartedAt *time.Time, err error) {
	if err = jobRunScope(ctx, db, job).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest started_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		StartedAt time.Time
	}
	if err = jobRunScope(ctx, db, job).Select("started_at").Order("started_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.StartedAt, nil
}
