package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

const jobColumns = `id, name, status, sender_id, target_type, target_spec, message_type, message_content,
	recurrence, next_run_at, last_run_at, run_count, max_runs, last_error, created_at, updated_at`

type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindDue returns active jobs whose next run is at or before now, earliest first.
func (r *JobRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?
	`

	var jobs []domain.ScheduledJob
	if err := r.db.SelectContext(ctx, &jobs, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}

	return jobs, nil
}

// RecordRun writes run bookkeeping and clears any previous error.
func (r *JobRepository) RecordRun(ctx context.Context, id int64, u domain.JobRunUpdate) error {
	query := `
		UPDATE scheduled_jobs
		SET status = ?, next_run_at = ?, last_run_at = ?, run_count = ?, last_error = NULL
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, u.Status, u.NextRunAt, u.LastRunAt, u.RunCount, id)
	if err != nil {
		return fmt.Errorf("failed to record run for job %d: %w", id, err)
	}

	return ensureUpdated(ctx, r.db, result, "scheduled_jobs", id, domain.ErrJobNotFound)
}

// RecordError stores message on the job and leaves its schedule untouched.
func (r *JobRepository) RecordError(ctx context.Context, id int64, message string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE scheduled_jobs SET last_error = ? WHERE id = ?", message, id); err != nil {
		return fmt.Errorf("failed to record error for job %d: %w", id, err)
	}

	return nil
}
