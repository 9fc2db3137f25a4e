package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

const reportJobColumns = "id, type, params, status, progress, attempts, result_url, created_by, created_at, finished_at, error_message"

// ClaimProgress is the progress a job reports once a worker picked it up.
const ClaimProgress = 10

// ReportRepository stores export jobs. Status changes go through the
// transition methods below, each guarded by the state it leaves, and return
// sql.ErrNoRows when the job was not in that state.
type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts job as QUEUED, filling in its ID and creation time.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = models.ReportStatusQueued
	job.Progress = 0
	job.Attempts = 0

	const query = `INSERT INTO report_jobs (id, type, params, status, progress, attempts, created_by, created_at)
VALUES (:id, :type, :params, :status, :progress, :attempts, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns the job or sql.ErrNoRows.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	var job models.ReportJob
	err := r.db.GetContext(ctx, &job, "SELECT "+reportJobColumns+" FROM report_jobs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get report job %s: %w", id, err)
	}
	return &job, nil
}

// ListByCreator returns the newest jobs requested by createdBy.
func (r *ReportRepository) ListByCreator(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error) {
	return r.list(ctx, "list report jobs by creator",
		"WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2", createdBy, clampLimit(limit, 20))
}

// ListQueued returns QUEUED jobs oldest first.
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	return r.list(ctx, "list queued report jobs",
		"WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1", clampLimit(limit, 20))
}

// ListFinishedBefore returns finished jobs that still advertise a file and
// completed before cutoff.
func (r *ReportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return r.list(ctx, "list expired report jobs",
		"WHERE status = 'FINISHED' AND result_url IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2",
		cutoff, clampLimit(limit, 50))
}

func (r *ReportRepository) list(ctx context.Context, op, where string, args ...interface{}) ([]models.ReportJob, error) {
	jobs := make([]models.ReportJob, 0)
	if err := r.db.SelectContext(ctx, &jobs, "SELECT "+reportJobColumns+" FROM report_jobs "+where, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

// Claim moves a QUEUED job to PROCESSING and counts the attempt. A job that
// another worker holds, or that already ended, yields sql.ErrNoRows.
func (r *ReportRepository) Claim(ctx context.Context, id string) error {
	return r.transition(ctx, "claim report job",
		`UPDATE report_jobs SET status = 'PROCESSING', progress = $2, attempts = attempts + 1
WHERE id = $1 AND status = 'QUEUED'`, id, ClaimProgress)
}

// Requeue hands a PROCESSING job back to the queue after a failed attempt.
func (r *ReportRepository) Requeue(ctx context.Context, id, reason string) error {
	return r.transition(ctx, "requeue report job",
		`UPDATE report_jobs SET status = 'QUEUED', progress = 0, error_message = $2
WHERE id = $1 AND status = 'PROCESSING'`, id, reason)
}

// Finish records the download URL of a PROCESSING job.
func (r *ReportRepository) Finish(ctx context.Context, id, resultURL string, at time.Time) error {
	return r.transition(ctx, "finish report job",
		`UPDATE report_jobs SET status = 'FINISHED', progress = 100, result_url = $2, error_message = NULL, finished_at = $3
WHERE id = $1 AND status = 'PROCESSING'`, id, resultURL, at)
}

// Fail ends a job that has not finished yet.
func (r *ReportRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	return r.transition(ctx, "fail report job",
		`UPDATE report_jobs SET status = 'FAILED', progress = 100, error_message = $2, finished_at = $3
WHERE id = $1 AND status IN ('QUEUED', 'PROCESSING')`, id, reason, at)
}

// ClearResult drops the download URL once the file behind it was removed.
func (r *ReportRepository) ClearResult(ctx context.Context, id string) error {
	return r.transition(ctx, "clear report result",
		`UPDATE report_jobs SET result_url = NULL WHERE id = $1 AND status = 'FINISHED'`, id)
}

// ReleaseProcessing returns every PROCESSING job to QUEUED. It runs at start
// up, when no worker of this process can still hold one.
func (r *ReportRepository) ReleaseProcessing(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE report_jobs SET status = 'QUEUED', progress = 0 WHERE status = 'PROCESSING'`)
	if err != nil {
		return 0, fmt.Errorf("release processing report jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release processing report jobs: %w", err)
	}
	return n, nil
}

func (r *ReportRepository) transition(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return expectAffected(result, op)
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 200 {
		return 200
	}
	return limit
}
