package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type lessonPlanStore interface {
	List(ctx context.Context, filter models.LessonPlanFilter) ([]models.LessonPlan, int, error)
	FindByID(ctx context.Context, id string) (*models.LessonPlan, error)
	HasPending(ctx context.Context, traineeID, excludeID string) (bool, error)
	Create(ctx context.Context, plan *models.LessonPlan) error
	Update(ctx context.Context, plan *models.LessonPlan) error
	Delete(ctx context.Context, id string) error
}

// LessonPlanServiceConfig tunes listings.
type LessonPlanServiceConfig struct {
	PageSize int
	CacheTTL time.Duration
}

// LessonPlanService manages trainee lesson plans.
type LessonPlanService struct {
	repo      lessonPlanStore
	cache     listCache
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LessonPlanServiceConfig
}

type cachedLessonPlanPage struct {
	Items []models.LessonPlan `json:"items"`
	Total int                 `json:"total"`
}

// NewLessonPlanService constructs the service.
func NewLessonPlanService(repo lessonPlanStore, cache listCache, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cfg LessonPlanServiceConfig) *LessonPlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &LessonPlanService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger, cfg: cfg}
}

// List returns a page of plans. Trainees only ever see their own plans.
func (s *LessonPlanService) List(ctx context.Context, query dto.LessonPlanQuery, actor *models.JWTClaims) ([]models.LessonPlan, *models.Pagination, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	if query.Status != "" && !query.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	pageSize := workflow.PageSize(query.Limit, s.cfg.PageSize)
	page := query.Page
	if page < 1 {
		page = 1
	}
	filter := models.LessonPlanFilter{
		Subject:   strings.TrimSpace(query.Subject),
		Status:    query.Status,
		Search:    strings.TrimSpace(query.Search),
		Page:      page,
		PageSize:  pageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	if actor.Role == models.RoleTeacherTrainee {
		filter.TraineeID = actor.UserID
	}

	key := cacheKey("lesson_plans:list", filter.TraineeID, filter.Subject, filter.Status, filter.Search, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
	if s.cache != nil {
		var cached cachedLessonPlanPage
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			markCacheHit(ctx)
			return cached.Items, buildPagination(page, pageSize, cached.Total), nil
		}
	}

	plans, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson plans")
	}
	if plans == nil {
		plans = []models.LessonPlan{}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedLessonPlanPage{Items: plans, Total: total}, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache lesson plan page", zap.Error(err))
		}
	}
	return plans, buildPagination(page, pageSize, total), nil
}

// Get returns a single plan visible to the actor.
func (s *LessonPlanService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LessonPlan, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson plan")
	}
	if actor.Role == models.RoleTeacherTrainee && plan.TraineeID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
	}
	return plan, nil
}

// Create stores a new PENDING plan for the calling trainee. A trainee may
// only have one plan awaiting review at a time.
func (s *LessonPlanService) Create(ctx context.Context, req dto.LessonPlanRequest, actor *models.JWTClaims) (*models.LessonPlan, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacherTrainee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only trainees can create lesson plans")
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	pending, err := s.repo.HasPending(ctx, actor.UserID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending lesson plans")
	}
	if pending {
		return nil, appErrors.ErrPendingExists
	}

	plan := &models.LessonPlan{TraineeID: actor.UserID, Status: models.LessonPlanStatusPending}
	applyLessonPlanRequest(plan, req)
	plan.AIGenerated = req.AIGenerated
	if err := s.repo.Create(ctx, plan); err != nil {
		// the partial unique index catches a concurrent create
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.ErrPendingExists
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson plan")
	}

	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLessonPlanCreate, "lesson_plan", plan.ID, map[string]interface{}{"title": plan.Title, "ai_generated": plan.AIGenerated})
	return plan, nil
}

// Update edits a plan that is still awaiting review.
func (s *LessonPlanService) Update(ctx context.Context, id string, req dto.LessonPlanRequest, actor *models.JWTClaims) (*models.LessonPlan, error) {
	plan, err := s.loadEditable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	applyLessonPlanRequest(plan, req)
	if err := s.repo.Update(ctx, plan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "lesson plan was reviewed and can no longer be edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson plan")
	}

	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLessonPlanUpdate, "lesson_plan", plan.ID, nil)
	return plan, nil
}

// Delete removes a plan that is still awaiting review.
func (s *LessonPlanService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if _, err := s.loadEditable(ctx, id, actor); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAlreadyReviewed, "lesson plan was reviewed and can no longer be deleted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lesson plan")
	}
	s.invalidate(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionLessonPlanDelete, "lesson_plan", id, nil)
	return nil
}

func (s *LessonPlanService) loadEditable(ctx context.Context, id string, actor *models.JWTClaims) (*models.LessonPlan, error) {
	plan, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacherTrainee:
		if plan.TraineeID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning trainee can modify a lesson plan")
	}
	if !plan.Status.AwaitingReview() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "only pending lesson plans can be modified")
	}
	return plan, nil
}

func (s *LessonPlanService) validateRequest(req dto.LessonPlanRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid lesson plan payload")
	}
	if _, err := workflow.ParseDate(req.Date); err != nil {
		return err
	}
	return workflow.ValidateTimeWindow(strings.TrimSpace(req.StartTime), strings.TrimSpace(req.EndTime))
}

func (s *LessonPlanService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, lessonPlanCachePattern); err != nil {
		s.logger.Warn("failed to invalidate lesson plan cache", zap.Error(err))
	}
}

func applyLessonPlanRequest(plan *models.LessonPlan, req dto.LessonPlanRequest) {
	plan.Title = strings.TrimSpace(req.Title)
	plan.Subject = strings.TrimSpace(req.Subject)
	plan.ClassName = strings.TrimSpace(req.ClassName)
	plan.Topic = strings.TrimSpace(req.Topic)
	plan.Duration = strings.TrimSpace(req.Duration)
	plan.TeachingAids = req.TeachingAids
	plan.Date = strings.TrimSpace(req.Date)
	plan.StartTime = strings.TrimSpace(req.StartTime)
	plan.EndTime = strings.TrimSpace(req.EndTime)
	plan.Objectives = req.Objectives
	plan.Activities = req.Activities
	plan.Resources = req.Resources
}
