package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/jobs"
	"github.com/noah-isme/tp-workflow-api/pkg/storage"
)

const (
	maxReportSpan = 366 * 24 * time.Hour
	recoveryBatch = 100
	cleanupBatch  = 100
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	ListByCreator(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error)
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
	Fail(ctx context.Context, id, reason string, at time.Time) error
	ClearResult(ctx context.Context, id string) error
	ReleaseProcessing(ctx context.Context) (int64, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ReportService accepts export requests, reports their progress and serves
// the finished files.
type ReportService struct {
	repo        reportJobStore
	assignments supervisionChecker
	queue       jobDispatcher
	exporter    *ExportService
	logger      *zap.Logger
	cfg         ReportServiceConfig
	now         func() time.Time
}

// ReportServiceConfig governs how long finished files live and how often
// expired ones are removed.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportDownload is an opened export ready to be streamed.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

func NewReportService(repo reportJobStore, assignments supervisionChecker, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		repo:        repo,
		assignments: assignments,
		queue:       queue,
		exporter:    exporter,
		logger:      logger.With(zap.String("component", "reports")),
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateJob stores a QUEUED job and hands it to the worker pool. Trainees can
// only export their own records; supervisors must name a trainee they supervise.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) (*dto.ReportJob, error) {
	if actorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	params, err := s.scope(ctx, req, actorID, role)
	if err != nil {
		return nil, err
	}

	job := &models.ReportJob{Type: req.Type, Params: params, CreatedBy: actorID}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		if failErr := s.repo.Fail(ctx, job.ID, "report queue is unavailable", s.now().UTC()); failErr != nil {
			s.logger.Warn("failed to mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	s.logger.Info("report job queued",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("format", string(params.Format)),
		zap.String("created_by", actorID),
	)
	view := dto.NewReportJob(job)
	return &view, nil
}

// GetStatus returns a job to its creator. Admins may read any job.
func (s *ReportService) GetStatus(ctx context.Context, id string, actorID string, role models.UserRole) (*dto.ReportJob, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && job.CreatedBy != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report job belongs to another user")
	}
	view := dto.NewReportJob(job)
	return &view, nil
}

// ListJobs returns the caller's recent jobs, newest first.
func (s *ReportService) ListJobs(ctx context.Context, actorID string, limit int) ([]dto.ReportJob, error) {
	if actorID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	items, err := s.repo.ListByCreator(ctx, actorID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	views := make([]dto.ReportJob, len(items))
	for i := range items {
		views[i] = dto.NewReportJob(&items[i])
	}
	return views, nil
}

// ResolveDownload checks a signed token against the job that issued it and
// opens the file. The token itself is the credential.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	switch {
	case errors.Is(err, storage.ErrTokenExpired):
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	case err != nil:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}

	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Downloadable() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	if path.Base(*job.ResultURL) != token {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link was replaced")
	}

	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "report file is no longer available")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs re-enqueues work left behind by a previous process:
// jobs it was running go back to QUEUED first.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	released, err := s.repo.ReleaseProcessing(ctx)
	if err != nil {
		s.logger.Warn("failed to release interrupted report jobs", zap.Error(err))
	} else if released > 0 {
		s.logger.Info("released interrupted report jobs", zap.Int64("count", released))
	}

	pending, err := s.repo.ListQueued(ctx, recoveryBatch)
	if err != nil {
		s.logger.Warn("failed to list queued report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue report job", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
	}
	if len(pending) > 0 {
		s.logger.Info("requeued report jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup removes expired exports every CleanupInterval until ctx ends.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// cleanupExpired deletes files of jobs finished longer than ResultTTL ago and
// withdraws their download links, then sweeps orphaned files.
func (s *ReportService) cleanupExpired(ctx context.Context) {
	expired, err := s.repo.ListFinishedBefore(ctx, s.now().Add(-s.cfg.ResultTTL), cleanupBatch)
	if err != nil {
		s.logger.Warn("failed to list expired reports", zap.Error(err))
		return
	}
	for _, job := range expired {
		if _, relPath, _, err := s.exporter.ParseToken(path.Base(*job.ResultURL), true); err == nil {
			if err := s.exporter.Delete(relPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("failed to delete expired report", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
		}
		if err := s.repo.ClearResult(ctx, job.ID); err != nil {
			s.logger.Warn("failed to withdraw report link", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if removed, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("failed to sweep report storage", zap.Error(err))
	} else if len(removed)+len(expired) > 0 {
		s.logger.Info("expired reports removed", zap.Int("jobs", len(expired)), zap.Int("files", len(removed)))
	}
}

func (s *ReportService) load(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

// scope validates the request and pins the trainee filter the actor may use.
func (s *ReportService) scope(ctx context.Context, req dto.ReportRequest, actorID string, role models.UserRole) (models.ReportJobParams, error) {
	params := models.ReportJobParams{
		From:   strings.TrimSpace(req.From),
		To:     strings.TrimSpace(req.To),
		Format: req.Format,
	}
	switch {
	case !req.Type.Valid():
		return params, appErrors.Clone(appErrors.ErrValidation, "type must be lesson_plans, observations or feedback")
	case !req.Format.Valid():
		return params, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	case params.From == "" || params.To == "":
		return params, appErrors.Clone(appErrors.ErrValidation, "from and to dates are required")
	}

	from, err := workflow.ParseDate(params.From)
	if err != nil {
		return params, err
	}
	to, err := workflow.ParseDate(params.To)
	if err != nil {
		return params, err
	}
	if to.Before(from) {
		return params, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	if to.Sub(from) > maxReportSpan {
		return params, appErrors.Clone(appErrors.ErrValidation, "report period cannot exceed one year")
	}

	if req.TraineeID != nil {
		if trimmed := strings.TrimSpace(*req.TraineeID); trimmed != "" {
			params.TraineeID = &trimmed
		}
	}
	switch role {
	case models.RoleAdmin:
	case models.RoleTeacherTrainee:
		self := actorID
		params.TraineeID = &self
	case models.RoleSupervisor:
		if params.TraineeID == nil {
			return params, appErrors.Clone(appErrors.ErrValidation, "traineeId is required for supervisor reports")
		}
		actor := &models.JWTClaims{UserID: actorID, Role: role}
		if err := ensureSupervises(ctx, s.assignments, actor, *params.TraineeID); err != nil {
			return params, err
		}
	default:
		return params, appErrors.ErrForbidden
	}
	return params, nil
}
