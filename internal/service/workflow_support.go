package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type supervisionChecker interface {
	SupervisesTrainee(ctx context.Context, supervisorID, traineeID string) (bool, error)
}

type transitionRecorder interface {
	RecordTransition(entity, from, to string)
}

type observationMetrics interface {
	transitionRecorder
	ObserveFeedbackScore(score int)
}

func recordAudit(ctx context.Context, audit auditRecorder, logger *zap.Logger, actor *models.JWTClaims, action, resource, resourceID string, payload interface{}) {
	if audit == nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	entry := models.NewAuditLog(actorID, action, resource, resourceID, models.ClientInfo{}).Diff(nil, payload)
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func requireActor(actor *models.JWTClaims) error {
	if actor == nil || actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	return nil
}

// ensureSupervises rejects supervisors acting on trainees outside their placements.
func ensureSupervises(ctx context.Context, checker supervisionChecker, actor *models.JWTClaims, traineeID string) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleSupervisor {
		return appErrors.ErrForbidden
	}
	if checker == nil {
		return nil
	}
	ok, err := checker.SupervisesTrainee(ctx, actor.UserID, traineeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify supervision")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "trainee is not assigned to you")
	}
	return nil
}

func buildPagination(page, pageSize, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	return &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: workflow.TotalPages(total, pageSize),
	}
}
