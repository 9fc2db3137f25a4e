package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
)

const observationDetailColumns = `o.id, o.trainee_id, o.supervisor_id, o.lesson_plan_id, o.date, o.start_time, o.end_time, o.status,
o.created_at, o.updated_at, u.full_name AS trainee_name, lp.title AS lesson_plan_title,
EXISTS (SELECT 1 FROM observation_feedback f WHERE f.schedule_id = o.id) AS has_feedback`

const defaultObservationPageSize = 5

const observationJoins = `FROM observation_schedules o
LEFT JOIN users u ON u.id = o.trainee_id
LEFT JOIN lesson_plans lp ON lp.id = o.lesson_plan_id`

// ObservationRepository persists observation schedules and their feedback.
type ObservationRepository struct {
	db *sqlx.DB
}

// NewObservationRepository constructs the repository.
func NewObservationRepository(db *sqlx.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

func (r *ObservationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a schedule in SCHEDULED unless another status is set.
func (r *ObservationRepository) Create(ctx context.Context, exec sqlx.ExtContext, schedule *models.ObservationSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.Status == "" {
		schedule.Status = models.ObservationStatusScheduled
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	const query = `INSERT INTO observation_schedules (id, trainee_id, supervisor_id, lesson_plan_id, date, start_time, end_time, status, created_at, updated_at)
VALUES (:id, :trainee_id, :supervisor_id, :lesson_plan_id, :date, :start_time, :end_time, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, schedule); err != nil {
		return fmt.Errorf("create observation schedule: %w", err)
	}
	return nil
}

// FindByID returns a schedule or sql.ErrNoRows.
func (r *ObservationRepository) FindByID(ctx context.Context, id string) (*models.ObservationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE o.id = $1", observationDetailColumns, observationJoins)
	var detail models.ObservationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find observation schedule: %w", err)
	}
	return &detail, nil
}

// List returns joined schedules matching the filter and the total count.
func (r *ObservationRepository) List(ctx context.Context, filter models.ObservationFilter) ([]models.ObservationDetail, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if filter.TraineeID != "" {
		args = append(args, filter.TraineeID)
		where += fmt.Sprintf(" AND o.trainee_id = $%d", len(args))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		where += fmt.Sprintf(" AND o.supervisor_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND o.status = $%d", len(args))
	}

	pageSize := workflow.PageSize(filter.PageSize, defaultObservationPageSize)
	offset := workflow.Offset(filter.Page, pageSize)

	listQuery := fmt.Sprintf("SELECT %s %s%s ORDER BY o.date DESC, o.start_time DESC LIMIT %d OFFSET %d",
		observationDetailColumns, observationJoins, where, pageSize, offset)
	var items []models.ObservationDetail
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list observation schedules: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM observation_schedules o"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count observation schedules: %w", err)
	}
	return items, total, nil
}

// UpdateStatus applies from -> to only if the stored status still equals from.
func (r *ObservationRepository) UpdateStatus(ctx context.Context, id string, from, to models.ObservationStatus) error {
	const query = `UPDATE observation_schedules SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update observation status: %w", err)
	}
	return expectAffected(result, "update observation status")
}

// CreateFeedback inserts the feedback row. A second row for the same schedule
// yields ErrDuplicate.
func (r *ObservationRepository) CreateFeedback(ctx context.Context, feedback *models.ObservationFeedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO observation_feedback (id, schedule_id, trainee_id, supervisor_id, lesson_plan_id, score, comments, created_at)
VALUES (:id, :schedule_id, :trainee_id, :supervisor_id, :lesson_plan_id, :score, :comments, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		if translated := translateUnique(err); translated == ErrDuplicate {
			return ErrDuplicate
		}
		return fmt.Errorf("create observation feedback: %w", err)
	}
	return nil
}

// FindFeedback returns the feedback attached to a schedule or sql.ErrNoRows.
func (r *ObservationRepository) FindFeedback(ctx context.Context, scheduleID string) (*models.ObservationFeedback, error) {
	const query = `SELECT id, schedule_id, trainee_id, supervisor_id, lesson_plan_id, score, comments, created_at FROM observation_feedback WHERE schedule_id = $1`
	var feedback models.ObservationFeedback
	if err := r.db.GetContext(ctx, &feedback, query, scheduleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find observation feedback: %w", err)
	}
	return &feedback, nil
}

// ListBetween returns joined schedules dated within [from, to] for exports.
func (r *ObservationRepository) ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.ObservationDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE o.date BETWEEN $1 AND $2", observationDetailColumns, observationJoins)
	args := []interface{}{from, to}
	if traineeID != nil && *traineeID != "" {
		query += " AND o.trainee_id = $3"
		args = append(args, *traineeID)
	}
	query += " ORDER BY o.date ASC, o.start_time ASC"
	var items []models.ObservationDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list observations between: %w", err)
	}
	return items, nil
}

// FeedbackRow is a feedback entry joined with display names for exports.
type FeedbackRow struct {
	models.ObservationFeedback
	TraineeName     *string `db:"trainee_name"`
	LessonPlanTitle *string `db:"lesson_plan_title"`
	Date            string  `db:"date"`
}

// ListFeedbackBetween returns feedback for schedules dated within [from, to].
func (r *ObservationRepository) ListFeedbackBetween(ctx context.Context, from, to string, traineeID *string) ([]FeedbackRow, error) {
	var b strings.Builder
	b.WriteString(`SELECT f.id, f.schedule_id, f.trainee_id, f.supervisor_id, f.lesson_plan_id, f.score, f.comments, f.created_at,
u.full_name AS trainee_name, lp.title AS lesson_plan_title, o.date
FROM observation_feedback f
JOIN observation_schedules o ON o.id = f.schedule_id
LEFT JOIN users u ON u.id = f.trainee_id
LEFT JOIN lesson_plans lp ON lp.id = f.lesson_plan_id
WHERE o.date BETWEEN $1 AND $2`)
	args := []interface{}{from, to}
	if traineeID != nil && *traineeID != "" {
		b.WriteString(" AND f.trainee_id = $3")
		args = append(args, *traineeID)
	}
	b.WriteString(" ORDER BY o.date ASC")
	var rows []FeedbackRow
	if err := r.db.SelectContext(ctx, &rows, b.String(), args...); err != nil {
		return nil, fmt.Errorf("list feedback between: %w", err)
	}
	return rows, nil
}
