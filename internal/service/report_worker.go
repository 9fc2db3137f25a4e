package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/jobs"
)

type reportJobLifecycle interface {
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Claim(ctx context.Context, id string) error
	Requeue(ctx context.Context, id, reason string) error
	Finish(ctx context.Context, id, resultURL string, at time.Time) error
	Fail(ctx context.Context, id, reason string, at time.Time) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportWorker renders one queued export per call to Handle.
type ReportWorker struct {
	repo        reportJobLifecycle
	exporter    exportGenerator
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// NewReportWorker builds a worker that gives up on a job after maxAttempts
// claimed runs, counted across restarts.
func NewReportWorker(repo reportJobLifecycle, exporter exportGenerator, maxAttempts int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ReportWorker{
		repo:        repo,
		exporter:    exporter,
		logger:      logger.With(zap.String("component", "report_worker")),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Handle is the jobs.Handler for the report queue. A job someone else
// claimed, or one that already ended, is skipped. Failures with attempts left
// put the job back to QUEUED and return the error so the queue retries it.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	if err := w.repo.Claim(ctx, job.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Debug("report job not claimable", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}

	result, genErr := w.exporter.Generate(ctx, record)
	if genErr == nil {
		if err := w.repo.Finish(ctx, record.ID, result.URL, w.now().UTC()); err != nil {
			w.logger.Warn("failed to mark report finished", zap.String("job_id", record.ID), zap.Error(err))
			return err
		}
		w.logger.Info("report finished", zap.String("job_id", record.ID), zap.Int("rows", result.Rows), zap.Int("attempt", record.Attempts))
		return nil
	}

	reason := genErr.Error()
	if errors.Is(genErr, ErrUnsupportedReport) || record.Attempts >= w.maxAttempts {
		if err := w.repo.Fail(ctx, record.ID, reason, w.now().UTC()); err != nil {
			w.logger.Warn("failed to mark report failed", zap.String("job_id", record.ID), zap.Error(err))
		}
		w.logger.Error("report failed", zap.String("job_id", record.ID), zap.Int("attempt", record.Attempts), zap.Error(genErr))
		return jobs.Permanent(genErr)
	}
	if err := w.repo.Requeue(ctx, record.ID, reason); err != nil {
		w.logger.Warn("failed to requeue report", zap.String("job_id", record.ID), zap.Error(err))
		return jobs.Permanent(genErr)
	}
	return genErr
}
