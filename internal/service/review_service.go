package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type reviewPlanStore interface {
	FindByID(ctx context.Context, id string) (*models.LessonPlan, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonPlanStatus) error
}

type reviewWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, review *models.LessonPlanReview) error
}

type scheduleWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, schedule *models.ObservationSchedule) error
}

// ReviewService applies supervisor decisions to lesson plans.
//
// A rejection is stored immediately. An approval is two-phase: Review only
// returns a schedule proposal, and ConfirmApproval persists the approval,
// the review and the observation schedule in one transaction.
type ReviewService struct {
	plans       reviewPlanStore
	reviews     reviewWriter
	schedules   scheduleWriter
	assignments supervisionChecker
	tx          txProvider
	cache       listCache
	audit       auditRecorder
	metrics     transitionRecorder
	logger      *zap.Logger
}

// NewReviewService constructs the service.
func NewReviewService(plans reviewPlanStore, reviews reviewWriter, schedules scheduleWriter, assignments supervisionChecker, tx txProvider, cache listCache, audit auditRecorder, metrics transitionRecorder, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		plans:       plans,
		reviews:     reviews,
		schedules:   schedules,
		assignments: assignments,
		tx:          tx,
		cache:       cache,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
	}
}

// Review validates a decision. REJECTED is persisted; APPROVED returns a
// proposal pre-filled from the plan and leaves the plan untouched.
func (s *ReviewService) Review(ctx context.Context, id string, req dto.ReviewRequest, actor *models.JWTClaims) (*dto.ReviewResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := workflow.ValidateReviewDecision(req.Status, req.Comments, req.Score); err != nil {
		return nil, err
	}
	plan, err := s.loadReviewable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if req.Status == models.LessonPlanStatusApproved {
		return &dto.ReviewResult{LessonPlan: plan, Proposal: proposalFor(plan)}, nil
	}

	review := &models.LessonPlanReview{
		LessonPlanID: plan.ID,
		SupervisorID: actor.UserID,
		Status:       models.LessonPlanStatusRejected,
		Comments:     strings.TrimSpace(req.Comments),
		Score:        req.Score,
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.plans.UpdateStatus(ctx, tx, plan.ID, models.LessonPlanStatusRejected); err != nil {
			return err
		}
		return s.reviews.Create(ctx, tx, review)
	})
	if err != nil {
		return nil, s.mapWriteError(err, "failed to record rejection")
	}

	from := plan.Status
	plan.Status = models.LessonPlanStatusRejected
	s.afterTransition(ctx, actor, models.AuditActionLessonPlanReview, plan.ID, from, plan.Status, review)
	return &dto.ReviewResult{LessonPlan: plan, Review: review}, nil
}

// ConfirmApproval approves the plan and creates its observation schedule atomically.
func (s *ReviewService) ConfirmApproval(ctx context.Context, id string, req dto.ApproveRequest, actor *models.JWTClaims) (*dto.ApprovalResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := workflow.ValidateReviewDecision(models.LessonPlanStatusApproved, req.Comments, req.Score); err != nil {
		return nil, err
	}
	plan, err := s.loadReviewable(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	input := workflow.ScheduleInput{
		LessonPlanID: strings.TrimSpace(req.Schedule.LessonPlanID),
		TraineeID:    strings.TrimSpace(req.Schedule.TraineeID),
		Date:         strings.TrimSpace(req.Schedule.Date),
		StartTime:    strings.TrimSpace(req.Schedule.StartTime),
		EndTime:      strings.TrimSpace(req.Schedule.EndTime),
	}
	if input.LessonPlanID == "" {
		input.LessonPlanID = plan.ID
	}
	if input.TraineeID == "" {
		input.TraineeID = plan.TraineeID
	}
	if err := workflow.ValidateScheduleInput(input); err != nil {
		return nil, err
	}
	if input.LessonPlanID != plan.ID || input.TraineeID != plan.TraineeID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "schedule must reference the reviewed lesson plan and its trainee")
	}

	review := &models.LessonPlanReview{
		LessonPlanID: plan.ID,
		SupervisorID: actor.UserID,
		Status:       models.LessonPlanStatusApproved,
		Comments:     strings.TrimSpace(req.Comments),
		Score:        req.Score,
	}
	schedule := &models.ObservationSchedule{
		TraineeID:    plan.TraineeID,
		SupervisorID: actor.UserID,
		LessonPlanID: plan.ID,
		Date:         input.Date,
		StartTime:    input.StartTime,
		EndTime:      input.EndTime,
		Status:       models.ObservationStatusScheduled,
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.plans.UpdateStatus(ctx, tx, plan.ID, models.LessonPlanStatusApproved); err != nil {
			return err
		}
		if err := s.reviews.Create(ctx, tx, review); err != nil {
			return err
		}
		return s.schedules.Create(ctx, tx, schedule)
	})
	if err != nil {
		return nil, s.mapWriteError(err, "failed to approve lesson plan")
	}

	from := plan.Status
	plan.Status = models.LessonPlanStatusApproved
	s.afterTransition(ctx, actor, models.AuditActionLessonPlanApprove, plan.ID, from, plan.Status, map[string]interface{}{
		"review":      review,
		"schedule_id": schedule.ID,
	})
	if s.metrics != nil {
		s.metrics.RecordTransition("observation", "", string(models.ObservationStatusScheduled))
	}

	return &dto.ApprovalResult{
		LessonPlan: plan,
		Review:     review,
		Schedule:   observationViewFromSchedule(schedule, plan.TraineeName, &plan.Title),
	}, nil
}

func (s *ReviewService) loadReviewable(ctx context.Context, id string, actor *models.JWTClaims) (*models.LessonPlan, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson plan")
	}
	if err := ensureSupervises(ctx, s.assignments, actor, plan.TraineeID); err != nil {
		return nil, err
	}
	if !plan.Status.AwaitingReview() {
		return nil, appErrors.ErrAlreadyReviewed
	}
	return plan, nil
}

func (s *ReviewService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *ReviewService) mapWriteError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrAlreadyReviewed
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *ReviewService) afterTransition(ctx context.Context, actor *models.JWTClaims, action, planID string, from, to models.LessonPlanStatus, payload interface{}) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, lessonPlanCachePattern); err != nil {
			s.logger.Warn("failed to invalidate lesson plan cache", zap.Error(err))
		}
		if to == models.LessonPlanStatusApproved {
			if err := s.cache.Invalidate(ctx, observationCachePattern); err != nil {
				s.logger.Warn("failed to invalidate observation cache", zap.Error(err))
			}
		}
	}
	if s.metrics != nil {
		s.metrics.RecordTransition("lesson_plan", string(from), string(to))
	}
	recordAudit(ctx, s.audit, s.logger, actor, action, "lesson_plan", planID, payload)
	s.logger.Info("lesson plan reviewed",
		zap.String("lesson_plan_id", planID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reviewer", actor.UserID),
	)
}

func proposalFor(plan *models.LessonPlan) *dto.ScheduleProposal {
	normalized := workflow.NormalizeSchedule(plan.Date, plan.StartTime, plan.EndTime, plan.TraineeName, &plan.Title)
	return &dto.ScheduleProposal{
		LessonPlanID: plan.ID,
		TraineeID:    plan.TraineeID,
		TraineeName:  normalized.TraineeName,
		Title:        normalized.LessonPlanTitle,
		Date:         normalized.Date,
		StartTime:    normalized.StartTime,
		EndTime:      normalized.EndTime,
	}
}
