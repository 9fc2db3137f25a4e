package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type observationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, schedule *models.ObservationSchedule) error
	FindByID(ctx context.Context, id string) (*models.ObservationDetail, error)
	List(ctx context.Context, filter models.ObservationFilter) ([]models.ObservationDetail, int, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ObservationStatus) error
	CreateFeedback(ctx context.Context, feedback *models.ObservationFeedback) error
	FindFeedback(ctx context.Context, scheduleID string) (*models.ObservationFeedback, error)
}

type lessonPlanReader interface {
	FindByID(ctx context.Context, id string) (*models.LessonPlan, error)
}

type identifierResolver interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// ObservationServiceConfig tunes listings and imports.
type ObservationServiceConfig struct {
	PageSize      int
	ImportMaxRows int
	CacheTTL      time.Duration
}

// ObservationService schedules observations and drives them to completion.
type ObservationService struct {
	store       observationStore
	plans       lessonPlanReader
	users       identifierResolver
	assignments supervisionChecker
	cache       listCache
	audit       auditRecorder
	metrics     observationMetrics
	logger      *zap.Logger
	cfg         ObservationServiceConfig
}

type cachedObservationPage struct {
	Items []dto.ObservationView `json:"items"`
	Total int                   `json:"total"`
}

// NewObservationService constructs the service.
func NewObservationService(store observationStore, plans lessonPlanReader, users identifierResolver, assignments supervisionChecker, cache listCache, audit auditRecorder, metrics observationMetrics, logger *zap.Logger, cfg ObservationServiceConfig) *ObservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5
	}
	if cfg.ImportMaxRows <= 0 {
		cfg.ImportMaxRows = 500
	}
	return &ObservationService{
		store:       store,
		plans:       plans,
		users:       users,
		assignments: assignments,
		cache:       cache,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// Schedule creates an observation outside of the approval flow. The plan
// must already be approved and belong to the given trainee.
func (s *ObservationService) Schedule(ctx context.Context, req dto.ScheduleRequest, actor *models.JWTClaims) (*dto.ObservationView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	view, err := s.schedule(ctx, req, actor, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return view, nil
}

func (s *ObservationService) schedule(ctx context.Context, req dto.ScheduleRequest, actor *models.JWTClaims, supervisorID string) (*dto.ObservationView, error) {
	input := workflow.ScheduleInput{
		LessonPlanID: strings.TrimSpace(req.LessonPlanID),
		TraineeID:    strings.TrimSpace(req.TraineeID),
		Date:         strings.TrimSpace(req.Date),
		StartTime:    strings.TrimSpace(req.StartTime),
		EndTime:      strings.TrimSpace(req.EndTime),
	}
	if err := workflow.ValidateScheduleInput(input); err != nil {
		return nil, err
	}

	plan, err := s.plans.FindByID(ctx, input.LessonPlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson plan")
	}
	if plan.TraineeID != input.TraineeID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson plan does not belong to trainee")
	}
	if plan.Status != models.LessonPlanStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only approved lesson plans can be observed")
	}
	if err := ensureSupervises(ctx, s.assignments, actor, plan.TraineeID); err != nil {
		return nil, err
	}

	schedule := &models.ObservationSchedule{
		TraineeID:    input.TraineeID,
		SupervisorID: supervisorID,
		LessonPlanID: input.LessonPlanID,
		Date:         input.Date,
		StartTime:    input.StartTime,
		EndTime:      input.EndTime,
		Status:       models.ObservationStatusScheduled,
	}
	if err := s.store.Create(ctx, nil, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule observation")
	}
	if s.metrics != nil {
		s.metrics.RecordTransition("observation", "", string(schedule.Status))
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionObservationCreate, "observation", schedule.ID, schedule)
	return observationViewFromSchedule(schedule, plan.TraineeName, &plan.Title), nil
}

// List returns a page of observations scoped to the actor: trainees see
// their own, supervisors the ones they conduct, admins everything.
func (s *ObservationService) List(ctx context.Context, query dto.ObservationQuery, actor *models.JWTClaims) ([]dto.ObservationView, *models.Pagination, error) {
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
	filter := models.ObservationFilter{Status: query.Status, Page: page, PageSize: pageSize, TraineeID: strings.TrimSpace(query.TraineeID)}
	switch actor.Role {
	case models.RoleTeacherTrainee:
		filter.TraineeID = actor.UserID
	case models.RoleSupervisor:
		filter.SupervisorID = actor.UserID
	}

	key := cacheKey("observations:list", filter.TraineeID, filter.SupervisorID, filter.Status, filter.Page, filter.PageSize)
	if s.cache != nil {
		var cached cachedObservationPage
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			markCacheHit(ctx)
			return cached.Items, buildPagination(page, pageSize, cached.Total), nil
		}
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list observations")
	}
	views := make([]dto.ObservationView, 0, len(items))
	for i := range items {
		views = append(views, *observationViewFromDetail(&items[i]))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedObservationPage{Items: views, Total: total}, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache observation page", zap.Error(err))
		}
	}
	return views, buildPagination(page, pageSize, total), nil
}

// AdvanceStatus moves an observation one step forward. The write is
// conditional on the status read, so a concurrent change yields a conflict.
func (s *ObservationService) AdvanceStatus(ctx context.Context, id string, target models.ObservationStatus, actor *models.JWTClaims) (*dto.ObservationView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	detail, err := s.loadConducted(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	from := detail.Status
	if err := workflow.ValidateAdvance(from, target); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, id, from, target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "observation status changed, refresh and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update observation status")
	}
	detail.Status = target

	s.invalidate(ctx)
	if s.metrics != nil {
		s.metrics.RecordTransition("observation", string(from), string(target))
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionObservationAdvance, "observation", id, map[string]string{"from": string(from), "to": string(target)})
	return observationViewFromDetail(detail), nil
}

// SubmitFeedback attaches the single assessment of a completed observation.
// Trainee and lesson plan are taken from the schedule record.
func (s *ObservationService) SubmitFeedback(ctx context.Context, scheduleID string, req dto.FeedbackRequest, actor *models.JWTClaims) (*models.ObservationFeedback, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if req.Score == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "score is required")
	}
	if err := workflow.ValidateFeedback(*req.Score, req.Comments); err != nil {
		return nil, err
	}
	detail, err := s.loadConducted(ctx, scheduleID, actor)
	if err != nil {
		return nil, err
	}
	if !workflow.FeedbackAllowed(detail.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "feedback can only be submitted for completed observations")
	}
	if detail.HasFeedback {
		return nil, appErrors.Clone(appErrors.ErrConflict, "feedback already submitted for this observation")
	}

	feedback := &models.ObservationFeedback{
		ScheduleID:   detail.ID,
		TraineeID:    detail.TraineeID,
		SupervisorID: actor.UserID,
		LessonPlanID: detail.LessonPlanID,
		Score:        *req.Score,
		Comments:     strings.TrimSpace(req.Comments),
	}
	if err := s.store.CreateFeedback(ctx, feedback); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "feedback already submitted for this observation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save feedback")
	}

	s.invalidate(ctx)
	if s.metrics != nil {
		s.metrics.ObserveFeedbackScore(feedback.Score)
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionFeedbackSubmit, "observation", detail.ID, map[string]int{"score": feedback.Score})
	return feedback, nil
}

// GetFeedback returns the feedback of an observation visible to the actor.
func (s *ObservationService) GetFeedback(ctx context.Context, scheduleID string, actor *models.JWTClaims) (*models.ObservationFeedback, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	detail, err := s.load(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !canView(detail, actor) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "observation not found")
	}
	feedback, err := s.store.FindFeedback(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no feedback for this observation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return feedback, nil
}

var importHeaders = []string{"lesson_plan_id", "trainee_identifier", "date", "start_time", "end_time"}

// Import schedules observations from CSV. Each row is scheduled on its own;
// failures are reported per row and never undo rows already scheduled.
func (s *ObservationService) Import(ctx context.Context, r io.Reader, actor *models.JWTClaims) (*dto.ImportResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Invalid(err, "csv header row is required")
	}
	columns, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	result := &dto.ImportResult{Errors: []dto.ImportRowError{}}
	row := 1
	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		row++
		if row-1 > s.cfg.ImportMaxRows {
			result.Errors = append(result.Errors, dto.ImportRowError{Row: row, Message: fmt.Sprintf("row limit of %d reached, remaining rows skipped", s.cfg.ImportMaxRows)})
			result.Failed++
			break
		}
		if readErr != nil {
			result.Errors = append(result.Errors, dto.ImportRowError{Row: row, Message: readErr.Error()})
			result.Failed++
			continue
		}
		if err := s.importRow(ctx, record, columns, actor); err != nil {
			result.Errors = append(result.Errors, dto.ImportRowError{Row: row, Message: appErrors.FromError(err).Message})
			result.Failed++
			continue
		}
		result.Imported++
	}

	if result.Imported > 0 {
		s.invalidate(ctx)
	}
	s.logger.Info("observation import finished", zap.Int("imported", result.Imported), zap.Int("failed", result.Failed))
	return result, nil
}

func (s *ObservationService) importRow(ctx context.Context, record []string, columns map[string]int, actor *models.JWTClaims) error {
	field := func(name string) string {
		idx := columns[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	identifier := field("trainee_identifier")
	if identifier == "" {
		return appErrors.Clone(appErrors.ErrValidation, "trainee_identifier is required")
	}
	if s.users == nil {
		return appErrors.Clone(appErrors.ErrInternal, "trainee lookup unavailable")
	}
	trainee, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown trainee %q", identifier))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve trainee")
	}
	if trainee.Role != models.RoleTeacherTrainee {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%q is not a trainee", identifier))
	}
	_, err = s.schedule(ctx, dto.ScheduleRequest{
		LessonPlanID: field("lesson_plan_id"),
		TraineeID:    trainee.ID,
		Date:         field("date"),
		StartTime:    field("start_time"),
		EndTime:      field("end_time"),
	}, actor, actor.UserID)
	return err
}

func indexColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, required := range importHeaders {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "missing csv columns: "+strings.Join(missing, ", "))
	}
	return columns, nil
}

func (s *ObservationService) load(ctx context.Context, id string) (*models.ObservationDetail, error) {
	detail, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "observation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load observation")
	}
	return detail, nil
}

// loadConducted loads a schedule the actor may act on as its supervisor.
func (s *ObservationService) loadConducted(ctx context.Context, id string, actor *models.JWTClaims) (*models.ObservationDetail, error) {
	detail, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleSupervisor:
		if detail.SupervisorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "observation is conducted by another supervisor")
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

func (s *ObservationService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, observationCachePattern); err != nil {
		s.logger.Warn("failed to invalidate observation cache", zap.Error(err))
	}
}

func canView(detail *models.ObservationDetail, actor *models.JWTClaims) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleSupervisor:
		return detail.SupervisorID == actor.UserID
	case models.RoleTeacherTrainee:
		return detail.TraineeID == actor.UserID
	default:
		return false
	}
}

func observationViewFromDetail(detail *models.ObservationDetail) *dto.ObservationView {
	view := observationViewFromSchedule(&detail.ObservationSchedule, detail.TraineeName, detail.LessonPlanTitle)
	view.HasFeedback = detail.HasFeedback
	return view
}

func observationViewFromSchedule(schedule *models.ObservationSchedule, traineeName, lessonPlanTitle *string) *dto.ObservationView {
	normalized := workflow.NormalizeSchedule(schedule.Date, schedule.StartTime, schedule.EndTime, traineeName, lessonPlanTitle)
	return &dto.ObservationView{
		ID:              schedule.ID,
		TraineeID:       schedule.TraineeID,
		TraineeName:     normalized.TraineeName,
		SupervisorID:    schedule.SupervisorID,
		LessonPlanID:    schedule.LessonPlanID,
		LessonPlanTitle: normalized.LessonPlanTitle,
		Date:            normalized.Date,
		StartTime:       normalized.StartTime,
		EndTime:         normalized.EndTime,
		Status:          schedule.Status,
		CreatedAt:       schedule.CreatedAt,
	}
}
