package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

var lessonPlanRowColumns = []string{"id", "trainee_id", "title", "subject", "class_name", "topic", "duration", "teaching_aids",
	"date", "start_time", "end_time", "objectives", "activities", "resources", "status", "ai_generated",
	"document_ref", "trainee_name", "created_at", "updated_at"}

func lessonPlanRow(rows *sqlmock.Rows, id, traineeID string, status models.LessonPlanStatus) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, traineeID, "Fractions", "Mathematics", "P5", "Adding fractions", "40 minutes", "strips",
		"2025-04-07", "09:00:00", "10:00:00", "obj", "act", "res", string(status), false,
		nil, "Ada Trainee", now, now)
}

func TestLessonPlanRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	rows := lessonPlanRow(sqlmock.NewRows(lessonPlanRowColumns), "lp-1", "t1", models.LessonPlanStatusPending)
	mock.ExpectQuery(`SELECT lp\.id, .* FROM lesson_plans lp LEFT JOIN users u ON u\.id = lp\.trainee_id WHERE 1=1 AND lp\.trainee_id = \$1 AND LOWER\(lp\.subject\) = \$2 AND lp\.status = \$3 AND \(LOWER\(lp\.title\) LIKE \$4 OR LOWER\(lp\.topic\) LIKE \$4\) ORDER BY lp\.title ASC LIMIT 10 OFFSET 10`).
		WithArgs("t1", "mathematics", models.LessonPlanStatusPending, "%frac%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lesson_plans lp LEFT JOIN users u ON u.id = lp.trainee_id WHERE 1=1 AND lp.trainee_id = $1")).
		WithArgs("t1", "mathematics", models.LessonPlanStatusPending, "%frac%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	plans, total, err := repo.List(context.Background(), models.LessonPlanFilter{
		TraineeID: "t1",
		Subject:   "Mathematics",
		Status:    models.LessonPlanStatusPending,
		Search:    "Frac",
		Page:      2,
		PageSize:  10,
		SortBy:    "title",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 11, total)
	require.NotNil(t, plans[0].TraineeName)
	assert.Equal(t, "Ada Trainee", *plans[0].TraineeName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryListRejectsUnknownSort(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	mock.ExpectQuery(`ORDER BY lp\.created_at DESC LIMIT 10 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows(lessonPlanRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, total, err := repo.List(context.Background(), models.LessonPlanFilter{SortBy: "1; DROP TABLE users", SortOrder: "sideways"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryFindByIDNormalizesClock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(lessonPlanRowColumns).AddRow("lp-1", "t1", "Fractions", "Mathematics", "P5", "Adding fractions", "40 minutes", "strips",
		"2025-04-07T00:00:00Z", "09:00:00", "10:30:00", "obj", "act", "res", "PENDING", false,
		nil, "Ada Trainee", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lp.id = $1")).WithArgs("lp-1").WillReturnRows(rows)

	plan, err := repo.FindByID(context.Background(), "lp-1")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-07", plan.Date)
	assert.Equal(t, "09:00", plan.StartTime)
	assert.Equal(t, "10:30", plan.EndTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryListNormalizesClock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	mock.ExpectQuery(`LIMIT 10 OFFSET 0`).
		WillReturnRows(lessonPlanRow(sqlmock.NewRows(lessonPlanRowColumns), "lp-1", "t1", models.LessonPlanStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	plans, _, err := repo.List(context.Background(), models.LessonPlanFilter{})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "09:00", plans[0].StartTime)
	assert.Equal(t, "10:00", plans[0].EndTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryHasPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM lesson_plans WHERE trainee_id = $1 AND status IN ('PENDING', 'SUBMITTED') AND id <> $2)")).
		WithArgs("t1", "").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	pending, err := repo.HasPending(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryCreateDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lesson_plans")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	plan := &models.LessonPlan{TraineeID: "t1", Title: "Fractions"}
	require.NoError(t, repo.Create(context.Background(), plan))
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, models.LessonPlanStatusPending, plan.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryUpdateStatusRequiresAwaitingReview(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	query := regexp.QuoteMeta("UPDATE lesson_plans SET status = $2, updated_at = $3 WHERE id = $1 AND status IN ('PENDING', 'SUBMITTED')")
	mock.ExpectExec(query).
		WithArgs("lp-1", models.LessonPlanStatusApproved, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("lp-1", models.LessonPlanStatusRejected, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateStatus(context.Background(), nil, "lp-1", models.LessonPlanStatusApproved))
	err := repo.UpdateStatus(context.Background(), nil, "lp-1", models.LessonPlanStatusRejected)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanRepositoryDeleteOnlyWhilePending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLessonPlanRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lesson_plans WHERE id = $1 AND status IN ('PENDING', 'SUBMITTED')")).
		WithArgs("lp-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "lp-9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
