package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// TPAssignmentRepository stores trainee placements.
type TPAssignmentRepository struct {
	db *sqlx.DB
}

// NewTPAssignmentRepository constructs the repository.
func NewTPAssignmentRepository(db *sqlx.DB) *TPAssignmentRepository {
	return &TPAssignmentRepository{db: db}
}

// SupervisesTrainee reports whether the supervisor has a placement for the trainee.
func (r *TPAssignmentRepository) SupervisesTrainee(ctx context.Context, supervisorID, traineeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM tp_assignments WHERE supervisor_id = $1 AND trainee_id = $2)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, supervisorID, traineeID); err != nil {
		return false, fmt.Errorf("check tp assignment: %w", err)
	}
	return ok, nil
}

// List returns placements matching the filter, newest first.
func (r *TPAssignmentRepository) List(ctx context.Context, filter models.TPAssignmentFilter) ([]models.TPAssignment, error) {
	query := `SELECT id, trainee_id, supervisor_id, school_name, start_date, end_date, created_at FROM tp_assignments WHERE 1=1`
	var args []interface{}
	if filter.TraineeID != "" {
		args = append(args, filter.TraineeID)
		query += fmt.Sprintf(" AND trainee_id = $%d", len(args))
	}
	if filter.SupervisorID != "" {
		args = append(args, filter.SupervisorID)
		query += fmt.Sprintf(" AND supervisor_id = $%d", len(args))
	}
	query += " ORDER BY start_date DESC, created_at DESC"

	var assignments []models.TPAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, fmt.Errorf("list tp assignments: %w", err)
	}
	return assignments, nil
}

// Create stores a placement.
func (r *TPAssignmentRepository) Create(ctx context.Context, assignment *models.TPAssignment) error {
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO tp_assignments (id, trainee_id, supervisor_id, school_name, start_date, end_date, created_at)
VALUES (:id, :trainee_id, :supervisor_id, :school_name, :start_date, :end_date, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create tp assignment: %w", err)
	}
	return nil
}
