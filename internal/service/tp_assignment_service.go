package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type tpAssignmentRepo interface {
	List(ctx context.Context, filter models.TPAssignmentFilter) ([]models.TPAssignment, error)
	Create(ctx context.Context, assignment *models.TPAssignment) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// AssignRequest places a trainee at a school under a supervisor.
type AssignRequest struct {
	TraineeID    string `json:"trainee_id" validate:"required"`
	SupervisorID string `json:"supervisor_id" validate:"required"`
	SchoolName   string `json:"school_name" validate:"required,max=200"`
	StartDate    string `json:"start_date" validate:"required"`
	EndDate      string `json:"end_date"`
}

// TPAssignmentService manages trainee placements, which decide who may review whom.
type TPAssignmentService struct {
	users       userReader
	assignments tpAssignmentRepo
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewTPAssignmentService creates a service instance.
func NewTPAssignmentService(users userReader, assignments tpAssignmentRepo, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *TPAssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TPAssignmentService{
		users:       users,
		assignments: assignments,
		audit:       audit,
		validator:   validate,
		logger:      logger,
	}
}

// List returns the placements visible to the actor. Admins see every placement,
// supervisors their own trainees and trainees their own placements.
func (s *TPAssignmentService) List(ctx context.Context, actor *models.JWTClaims) ([]models.TPAssignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var filter models.TPAssignmentFilter
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleSupervisor:
		filter.SupervisorID = actor.UserID
	case models.RoleTeacherTrainee:
		filter.TraineeID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}

	assignments, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	if assignments == nil {
		assignments = []models.TPAssignment{}
	}
	return assignments, nil
}

// Assign creates a placement after checking both accounts carry the expected roles.
func (s *TPAssignmentService) Assign(ctx context.Context, actor *models.JWTClaims, req AssignRequest) (*models.TPAssignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid assignment payload")
	}

	start, err := workflow.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	var endDate *string
	if strings.TrimSpace(req.EndDate) != "" {
		end, err := workflow.ParseDate(req.EndDate)
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
		}
		formatted := end.Format("2006-01-02")
		endDate = &formatted
	}

	if err := s.ensureRole(ctx, req.TraineeID, models.RoleTeacherTrainee, "trainee"); err != nil {
		return nil, err
	}
	if err := s.ensureRole(ctx, req.SupervisorID, models.RoleSupervisor, "supervisor"); err != nil {
		return nil, err
	}

	assignment := &models.TPAssignment{
		ID:           uuid.NewString(),
		TraineeID:    req.TraineeID,
		SupervisorID: req.SupervisorID,
		SchoolName:   strings.TrimSpace(req.SchoolName),
		StartDate:    start.Format("2006-01-02"),
		EndDate:      endDate,
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionAssignmentCreate, "tp_assignments", assignment.ID, assignment)
	return assignment, nil
}

func (s *TPAssignmentService) ensureRole(ctx context.Context, id string, role models.UserRole, label string) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, label+" not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+label)
	}
	if user.Role != role {
		return appErrors.Clone(appErrors.ErrValidation, label+" must have role "+string(role))
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, label+" inactive")
	}
	return nil
}
