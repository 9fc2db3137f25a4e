package service

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestObservationListOversizedLimitMatchesQuery(t *testing.T) {
	db, mock := newSQLMock(t)
	svc := NewObservationService(repository.NewObservationRepository(db), nil, nil, nil, nil, nil, nil, nil, ObservationServiceConfig{})

	mock.ExpectQuery(`LIMIT 100 OFFSET 0`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM observation_schedules o")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(250))

	items, page, err := svc.List(context.Background(), dto.ObservationQuery{Page: 1, Limit: 200}, adminClaims)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 100, TotalCount: 250, TotalPages: 3}, page)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonPlanListOversizedLimitMatchesQuery(t *testing.T) {
	db, mock := newSQLMock(t)
	svc := NewLessonPlanService(repository.NewLessonPlanRepository(db), nil, nil, nil, nil, LessonPlanServiceConfig{})

	mock.ExpectQuery(`LIMIT 100 OFFSET 100`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM lesson_plans lp")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))

	_, page, err := svc.List(context.Background(), dto.LessonPlanQuery{Page: 2, Limit: 200}, adminClaims)
	require.NoError(t, err)
	assert.Equal(t, &models.Pagination{Page: 2, PageSize: 100, TotalCount: 120, TotalPages: 2}, page)
	assert.NoError(t, mock.ExpectationsWereMet())
}
