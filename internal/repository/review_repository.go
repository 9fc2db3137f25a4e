package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// ReviewRepository stores supervisor decisions on lesson plans.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a review row, optionally inside a transaction.
func (r *ReviewRepository) Create(ctx context.Context, exec sqlx.ExtContext, review *models.LessonPlanReview) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lesson_plan_reviews (id, lesson_plan_id, supervisor_id, status, comments, score, created_at)
VALUES (:id, :lesson_plan_id, :supervisor_id, :status, :comments, :score, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, review); err != nil {
		return fmt.Errorf("create lesson plan review: %w", err)
	}
	return nil
}

// ListByLessonPlan returns the review history of a plan, newest first.
func (r *ReviewRepository) ListByLessonPlan(ctx context.Context, lessonPlanID string) ([]models.LessonPlanReview, error) {
	const query = `SELECT id, lesson_plan_id, supervisor_id, status, comments, score, created_at FROM lesson_plan_reviews WHERE lesson_plan_id = $1 ORDER BY created_at DESC`
	var reviews []models.LessonPlanReview
	if err := r.db.SelectContext(ctx, &reviews, query, lessonPlanID); err != nil {
		return nil, fmt.Errorf("list lesson plan reviews: %w", err)
	}
	return reviews, nil
}
