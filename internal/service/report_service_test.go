package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now()
	job.Status = models.ReportStatusQueued
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (r *reportRepoStub) ListByCreator(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.CreatedBy == createdBy {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *reportRepoStub) move(id string, from []models.ReportStatus, apply func(*models.ReportJob)) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, status := range from {
		if job.Status == status {
			apply(job)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r *reportRepoStub) Claim(ctx context.Context, id string) error {
	return r.move(id, []models.ReportStatus{models.ReportStatusQueued}, func(job *models.ReportJob) {
		job.Status = models.ReportStatusProcessing
		job.Progress = repository.ClaimProgress
		job.Attempts++
	})
}

func (r *reportRepoStub) Requeue(ctx context.Context, id, reason string) error {
	return r.move(id, []models.ReportStatus{models.ReportStatusProcessing}, func(job *models.ReportJob) {
		job.Status = models.ReportStatusQueued
		job.Progress = 0
		job.ErrorMessage = &reason
	})
}

func (r *reportRepoStub) Finish(ctx context.Context, id, resultURL string, at time.Time) error {
	return r.move(id, []models.ReportStatus{models.ReportStatusProcessing}, func(job *models.ReportJob) {
		job.Status = models.ReportStatusFinished
		job.Progress = 100
		job.ResultURL = &resultURL
		job.ErrorMessage = nil
		job.FinishedAt = &at
	})
}

func (r *reportRepoStub) Fail(ctx context.Context, id, reason string, at time.Time) error {
	return r.move(id, []models.ReportStatus{models.ReportStatusQueued, models.ReportStatusProcessing}, func(job *models.ReportJob) {
		job.Status = models.ReportStatusFailed
		job.Progress = 100
		job.ErrorMessage = &reason
		job.FinishedAt = &at
	})
}

func (r *reportRepoStub) ClearResult(ctx context.Context, id string) error {
	return r.move(id, []models.ReportStatus{models.ReportStatusFinished}, func(job *models.ReportJob) {
		job.ResultURL = nil
	})
}

func (r *reportRepoStub) ReleaseProcessing(ctx context.Context) (int64, error) {
	var n int64
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusProcessing {
			job.Status = models.ReportStatusQueued
			job.Progress = 0
			n++
		}
	}
	return n, nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusFinished && job.ResultURL != nil && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newReportServiceForTest(t *testing.T) (*ReportService, *reportRepoStub, *queueStub, *ExportService) {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exportSvc := newExportFixture(t).svc
	service := NewReportService(repo, supervises("sup-1/trainee-1"), queue, exportSvc, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
	})
	return service, repo, queue, exportSvc
}

func marchRequest(kind models.ReportType) dto.ReportRequest {
	return dto.ReportRequest{Type: kind, From: "2026-03-01", To: "2026-03-31", Format: models.ReportFormatCSV}
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	resp, err := svc.CreateJob(context.Background(), marchRequest(models.ReportTypeLessonPlans), "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, resp.ID, queue.jobs[0].ID)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Contains(t, repo.jobs, resp.ID)
	assert.Nil(t, repo.jobs[resp.ID].Params.TraineeID)
}

func TestReportServiceCreateJobScopesByRole(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	ctx := context.Background()

	other := "trainee-2"
	req := marchRequest(models.ReportTypeFeedback)
	req.TraineeID = &other
	resp, err := svc.CreateJob(ctx, req, "trainee-1", models.RoleTeacherTrainee)
	require.NoError(t, err)
	assert.Equal(t, "trainee-1", *repo.jobs[resp.ID].Params.TraineeID)

	_, err = svc.CreateJob(ctx, marchRequest(models.ReportTypeFeedback), "sup-1", models.RoleSupervisor)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.CreateJob(ctx, req, "sup-1", models.RoleSupervisor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	own := "trainee-1"
	req.TraineeID = &own
	_, err = svc.CreateJob(ctx, req, "sup-1", models.RoleSupervisor)
	assert.NoError(t, err)

	_, err = svc.CreateJob(ctx, marchRequest(models.ReportTypeFeedback), "", models.RoleAdmin)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestReportServiceCreateJobValidation(t *testing.T) {
	svc, _, queue, _ := newReportServiceForTest(t)
	ctx := context.Background()

	cases := map[string]dto.ReportRequest{
		"unknown type":     {Type: "grades", From: "2026-03-01", To: "2026-03-31", Format: models.ReportFormatCSV},
		"unknown format":   {Type: models.ReportTypeFeedback, From: "2026-03-01", To: "2026-03-31", Format: "xlsx"},
		"missing period":   {Type: models.ReportTypeFeedback, Format: models.ReportFormatCSV},
		"bad date":         {Type: models.ReportTypeFeedback, From: "2026-02-30", To: "2026-03-31", Format: models.ReportFormatCSV},
		"reversed period":  {Type: models.ReportTypeFeedback, From: "2026-03-31", To: "2026-03-01", Format: models.ReportFormatCSV},
		"period too large": {Type: models.ReportTypeFeedback, From: "2024-01-01", To: "2026-01-01", Format: models.ReportFormatCSV},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateJob(ctx, req, "admin-1", models.RoleAdmin)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.Empty(t, queue.jobs)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	queue.err = jobs.ErrQueueFull

	_, err := svc.CreateJob(context.Background(), marchRequest(models.ReportTypeLessonPlans), "admin-1", models.RoleAdmin)
	require.Error(t, err)
	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
		assert.Equal(t, "report queue is unavailable", *job.ErrorMessage)
		assert.NotNil(t, job.FinishedAt)
	}
}

func TestReportServiceGetStatusAndList(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	failure := "boom"
	repo.jobs["job-1"] = &models.ReportJob{ID: "job-1", Type: models.ReportTypeFeedback, Status: models.ReportStatusFailed, Progress: 100, CreatedBy: "sup-1", ErrorMessage: &failure}
	repo.jobs["job-2"] = &models.ReportJob{ID: "job-2", Type: models.ReportTypeFeedback, Status: models.ReportStatusQueued, CreatedBy: "sup-2"}
	ctx := context.Background()

	resp, err := svc.GetStatus(ctx, "job-1", "sup-1", models.RoleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", *resp.Error)

	_, err = svc.GetStatus(ctx, "job-2", "sup-1", models.RoleSupervisor)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.GetStatus(ctx, "job-2", "admin-1", models.RoleAdmin)
	assert.NoError(t, err)

	_, err = svc.GetStatus(ctx, "missing", "admin-1", models.RoleAdmin)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	list, err := svc.ListJobs(ctx, "sup-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].ID)
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-download",
		Type:      models.ReportTypeLessonPlans,
		Params:    models.ReportJobParams{From: "2026-03-01", To: "2026-03-31", Format: models.ReportFormatCSV},
		Status:    models.ReportStatusProcessing,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job
	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	job.Status = models.ReportStatusFinished
	download, err := svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	download.File.Close()

	_, err = svc.ResolveDownload(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	repo.jobs["queued"] = &models.ReportJob{ID: "queued", Type: models.ReportTypeFeedback, Status: models.ReportStatusQueued}
	repo.jobs["interrupted"] = &models.ReportJob{ID: "interrupted", Type: models.ReportTypeFeedback, Status: models.ReportStatusProcessing, Progress: 10, Attempts: 1}
	repo.jobs["done"] = &models.ReportJob{ID: "done", Type: models.ReportTypeFeedback, Status: models.ReportStatusFinished}

	svc.RecoverPendingJobs(context.Background())
	ids := make([]string, 0, len(queue.jobs))
	for _, job := range queue.jobs {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"queued", "interrupted"}, ids)
	assert.Equal(t, models.ReportStatusQueued, repo.jobs["interrupted"].Status)
	assert.Equal(t, 1, repo.jobs["interrupted"].Attempts)
}

func TestReportServiceCleanupExpired(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:     "old",
		Type:   models.ReportTypeLessonPlans,
		Params: models.ReportJobParams{From: "2026-03-01", To: "2026-03-31", Format: models.ReportFormatCSV},
		Status: models.ReportStatusFinished,
	}
	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	finished := time.Now().Add(-2 * time.Hour)
	job.FinishedAt = &finished
	job.ResultURL = &result.URL
	repo.jobs[job.ID] = job

	svc.cleanupExpired(context.Background())
	_, err = exportSvc.Open(result.RelativePath)
	assert.Error(t, err)
	assert.Nil(t, repo.jobs["old"].ResultURL)

	status, err := svc.GetStatus(context.Background(), "old", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, status.ResultURL)
}

type exportStub struct {
	result *ExportResult
	err    error
}

func (e exportStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func queuedReportRepo() *reportRepoStub {
	return &reportRepoStub{
		jobs: map[string]*models.ReportJob{
			"job-1": {
				ID:        "job-1",
				Type:      models.ReportTypeObservations,
				Params:    models.ReportJobParams{From: "2026-03-01", To: "2026-03-31", Format: models.ReportFormatCSV},
				Status:    models.ReportStatusQueued,
				CreatedBy: "admin-1",
			},
		},
	}
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := queuedReportRepo()
	worker := NewReportWorker(repo, exportStub{result: &ExportResult{URL: "/api/v1/export/token", Rows: 4}}, 3, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/export/token", *job.ResultURL)
	assert.NotNil(t, job.FinishedAt)
}

func TestReportWorkerSkipsUnclaimableJobs(t *testing.T) {
	for _, status := range []models.ReportStatus{models.ReportStatusProcessing, models.ReportStatusFinished, models.ReportStatusFailed} {
		repo := queuedReportRepo()
		repo.jobs["job-1"].Status = status
		worker := NewReportWorker(repo, exportStub{err: errors.New("must not run")}, 3, zap.NewNop())

		require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}), status)
		assert.Equal(t, status, repo.jobs["job-1"].Status)
		assert.Zero(t, repo.jobs["job-1"].Attempts)
	}
}

func TestReportWorkerRequeuesThenFails(t *testing.T) {
	repo := queuedReportRepo()
	worker := NewReportWorker(repo, exportStub{err: errors.New("boom")}, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.Equal(t, models.ReportStatusQueued, repo.jobs["job-1"].Status)
	assert.Equal(t, 0, repo.jobs["job-1"].Progress)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "boom", *job.ErrorMessage)
}

func TestReportWorkerCountsAttemptsAcrossRestarts(t *testing.T) {
	repo := queuedReportRepo()
	repo.jobs["job-1"].Attempts = 2
	worker := NewReportWorker(repo, exportStub{err: errors.New("disk full")}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
}

func TestReportWorkerFailsUnsupportedJobsAtOnce(t *testing.T) {
	repo := queuedReportRepo()
	worker := NewReportWorker(repo, exportStub{err: fmt.Errorf("%w: format \"xlsx\"", ErrUnsupportedReport)}, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	assert.Equal(t, 1, repo.jobs["job-1"].Attempts)
}
