package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

var reportJobRowColumns = []string{"id", "type", "params", "status", "progress", "attempts", "result_url", "created_by", "created_at", "finished_at", "error_message"}

func newReportRepoMock(t *testing.T) (*ReportRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReportRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestReportRepositoryCreateForcesQueued(t *testing.T) {
	repo, mock := newReportRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WithArgs(sqlmock.AnyArg(), "lesson_plans", sqlmock.AnyArg(), "QUEUED", 0, 0, "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{
		Type:      models.ReportTypeLessonPlans,
		Status:    models.ReportStatusFinished,
		Progress:  55,
		Params:    models.ReportJobParams{From: "2026-04-01", To: "2026-04-30", Format: models.ReportFormatCSV},
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetByID(t *testing.T) {
	repo, mock := newReportRepoMock(t)

	rows := sqlmock.NewRows(reportJobRowColumns).
		AddRow("job-1", "feedback", `{"from":"2026-04-01","to":"2026-04-30","trainee_id":"trainee-1","format":"pdf"}`, "FAILED", 100, 3, nil, "sup-1", time.Now(), time.Now(), "renderer crashed")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + reportJobColumns + " FROM report_jobs WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, models.ReportFormatPDF, job.Params.Format)
	require.NotNil(t, job.Params.TraineeID)
	assert.Equal(t, "trainee-1", *job.Params.TraineeID)
	assert.Equal(t, "renderer crashed", *job.ErrorMessage)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListings(t *testing.T) {
	repo, mock := newReportRepoMock(t)
	row := func(id, status string) *sqlmock.Rows {
		return sqlmock.NewRows(reportJobRowColumns).
			AddRow(id, "observations", `{"from":"2026-04-01","to":"2026-04-30","format":"csv"}`, status, 0, 0, nil, "sup-1", time.Now(), nil, nil)
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("sup-1", 20).
		WillReturnRows(row("job-1", "PROCESSING"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1")).
		WithArgs(200).
		WillReturnRows(row("job-2", "QUEUED"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'FINISHED' AND result_url IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(sqlmock.NewRows(reportJobRowColumns))

	byCreator, err := repo.ListByCreator(context.Background(), "sup-1", 0)
	require.NoError(t, err)
	require.Len(t, byCreator, 1)

	queued, err := repo.ListQueued(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "job-2", queued[0].ID)

	expired, err := repo.ListFinishedBefore(context.Background(), time.Now(), 0)
	require.NoError(t, err)
	assert.NotNil(t, expired)
	assert.Empty(t, expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryClaimOnlyFromQueued(t *testing.T) {
	repo, mock := newReportRepoMock(t)

	claim := regexp.QuoteMeta("SET status = 'PROCESSING', progress = $2, attempts = attempts + 1") + `\s+` + regexp.QuoteMeta("WHERE id = $1 AND status = 'QUEUED'")
	mock.ExpectExec(claim).WithArgs("job-1", ClaimProgress).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs("job-1", ClaimProgress).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Claim(context.Background(), "job-1"))
	assert.ErrorIs(t, repo.Claim(context.Background(), "job-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryTransitions(t *testing.T) {
	repo, mock := newReportRepoMock(t)
	at := time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'QUEUED', progress = 0, error_message = $2")).
		WithArgs("job-1", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'FINISHED', progress = 100, result_url = $2, error_message = NULL, finished_at = $3")).
		WithArgs("job-1", "/api/v1/export/tok", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'FAILED', progress = 100, error_message = $2, finished_at = $3")).
		WithArgs("job-1", "boom", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET result_url = NULL WHERE id = $1 AND status = 'FINISHED'")).
		WithArgs("job-1").
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	require.NoError(t, repo.Requeue(ctx, "job-1", "timeout"))
	require.NoError(t, repo.Finish(ctx, "job-1", "/api/v1/export/tok", at))
	assert.ErrorIs(t, repo.Fail(ctx, "job-1", "boom", at), sql.ErrNoRows, "finished jobs cannot fail")

	err := repo.ClearResult(ctx, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear report result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryReleaseProcessing(t *testing.T) {
	repo, mock := newReportRepoMock(t)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'QUEUED', progress = 0 WHERE status = 'PROCESSING'")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ReleaseProcessing(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
