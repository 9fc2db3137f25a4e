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

const lessonPlanColumns = `lp.id, lp.trainee_id, lp.title, lp.subject, lp.class_name, lp.topic, lp.duration, lp.teaching_aids,
lp.date, lp.start_time, lp.end_time, lp.objectives, lp.activities, lp.resources, lp.status, lp.ai_generated,
lp.document_ref, u.full_name AS trainee_name, lp.created_at, lp.updated_at`

const defaultLessonPlanPageSize = 10

const awaitingReview = `('PENDING', 'SUBMITTED')`

// LessonPlanRepository persists lesson plans.
type LessonPlanRepository struct {
	db *sqlx.DB
}

// NewLessonPlanRepository constructs the repository.
func NewLessonPlanRepository(db *sqlx.DB) *LessonPlanRepository {
	return &LessonPlanRepository{db: db}
}

func (r *LessonPlanRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns lesson plans matching the filter together with the total count.
func (r *LessonPlanRepository) List(ctx context.Context, filter models.LessonPlanFilter) ([]models.LessonPlan, int, error) {
	baseQuery := `FROM lesson_plans lp LEFT JOIN users u ON u.id = lp.trainee_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TraineeID != "" {
		conditions = append(conditions, fmt.Sprintf("lp.trainee_id = $%d", len(args)+1))
		args = append(args, filter.TraineeID)
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(lp.subject) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Subject))
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("lp.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(lp.title) LIKE $%d OR LOWER(lp.topic) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"created_at": "lp.created_at",
		"date":       "lp.date",
		"title":      "lp.title",
		"subject":    "lp.subject",
		"status":     "lp.status",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "lp.created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	pageSize := workflow.PageSize(filter.PageSize, defaultLessonPlanPageSize)
	offset := workflow.Offset(filter.Page, pageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", lessonPlanColumns, baseQuery, column, sortOrder, pageSize, offset)
	var plans []models.LessonPlan
	if err := r.db.SelectContext(ctx, &plans, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list lesson plans: %w", err)
	}
	normalizeLessonPlans(plans)

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", baseQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("count lesson plans: %w", err)
	}
	return plans, total, nil
}

// FindByID returns a single plan or sql.ErrNoRows.
func (r *LessonPlanRepository) FindByID(ctx context.Context, id string) (*models.LessonPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_plans lp LEFT JOIN users u ON u.id = lp.trainee_id WHERE lp.id = $1", lessonPlanColumns)
	var plan models.LessonPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lesson plan: %w", err)
	}
	normalizeLessonPlan(&plan)
	return &plan, nil
}

// HasPending reports whether the trainee already has a plan awaiting review,
// ignoring excludeID when set.
func (r *LessonPlanRepository) HasPending(ctx context.Context, traineeID, excludeID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM lesson_plans WHERE trainee_id = $1 AND status IN ` + awaitingReview + ` AND id <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, traineeID, excludeID); err != nil {
		return false, fmt.Errorf("check pending lesson plan: %w", err)
	}
	return exists, nil
}

// Create inserts a plan in PENDING unless a status is already set.
func (r *LessonPlanRepository) Create(ctx context.Context, plan *models.LessonPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = models.LessonPlanStatusPending
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	const query = `INSERT INTO lesson_plans (id, trainee_id, title, subject, class_name, topic, duration, teaching_aids, date, start_time, end_time,
objectives, activities, resources, status, ai_generated, document_ref, created_at, updated_at)
VALUES (:id, :trainee_id, :title, :subject, :class_name, :topic, :duration, :teaching_aids, :date, :start_time, :end_time,
:objectives, :activities, :resources, :status, :ai_generated, :document_ref, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create lesson plan: %w", translateUnique(err))
	}
	return nil
}

// Update rewrites editable fields. Only plans still awaiting review change;
// otherwise sql.ErrNoRows is returned.
func (r *LessonPlanRepository) Update(ctx context.Context, plan *models.LessonPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lesson_plans SET title = :title, subject = :subject, class_name = :class_name, topic = :topic, duration = :duration,
teaching_aids = :teaching_aids, date = :date, start_time = :start_time, end_time = :end_time, objectives = :objectives,
activities = :activities, resources = :resources, updated_at = :updated_at
WHERE id = :id AND status IN ` + awaitingReview
	result, err := r.db.NamedExecContext(ctx, query, plan)
	if err != nil {
		return fmt.Errorf("update lesson plan: %w", err)
	}
	return expectAffected(result, "update lesson plan")
}

// Delete removes a plan that is still awaiting review.
func (r *LessonPlanRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lesson_plans WHERE id = $1 AND status IN `+awaitingReview, id)
	if err != nil {
		return fmt.Errorf("delete lesson plan: %w", err)
	}
	return expectAffected(result, "delete lesson plan")
}

// SetDocumentRef stores the key of the rendered PDF.
func (r *LessonPlanRepository) SetDocumentRef(ctx context.Context, id, ref string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE lesson_plans SET document_ref = $2, updated_at = $3 WHERE id = $1`, id, ref, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set lesson plan document: %w", err)
	}
	return expectAffected(result, "set lesson plan document")
}

// UpdateStatus moves a plan out of review. The write only applies while the
// plan is still PENDING or SUBMITTED, so a concurrent reviewer gets sql.ErrNoRows.
func (r *LessonPlanRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonPlanStatus) error {
	query := `UPDATE lesson_plans SET status = $2, updated_at = $3 WHERE id = $1 AND status IN ` + awaitingReview
	result, err := r.exec(exec).ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update lesson plan status: %w", err)
	}
	return expectAffected(result, "update lesson plan status")
}

// ListBetween returns plans dated within [from, to] for exports.
func (r *LessonPlanRepository) ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.LessonPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_plans lp LEFT JOIN users u ON u.id = lp.trainee_id WHERE lp.date BETWEEN $1 AND $2", lessonPlanColumns)
	args := []interface{}{from, to}
	if traineeID != nil && *traineeID != "" {
		query += " AND lp.trainee_id = $3"
		args = append(args, *traineeID)
	}
	query += " ORDER BY lp.date ASC, lp.start_time ASC"
	var plans []models.LessonPlan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, fmt.Errorf("list lesson plans between: %w", err)
	}
	normalizeLessonPlans(plans)
	return plans, nil
}

// normalizeLessonPlan trims the driver's DATE and TIME renderings to
// YYYY-MM-DD and HH:MM, so every reader (and every cached page) sees one form.
func normalizeLessonPlan(plan *models.LessonPlan) {
	plan.Date = workflow.NormalizeDate(plan.Date)
	plan.StartTime = workflow.NormalizeClock(plan.StartTime)
	plan.EndTime = workflow.NormalizeClock(plan.EndTime)
}

func normalizeLessonPlans(plans []models.LessonPlan) {
	for i := range plans {
		normalizeLessonPlan(&plans[i])
	}
}

func expectAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
