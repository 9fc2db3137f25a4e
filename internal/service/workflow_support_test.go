package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

var (
	adminClaims      = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	supervisorClaims = &models.JWTClaims{UserID: "sup-1", Role: models.RoleSupervisor}
	traineeClaims    = &models.JWTClaims{UserID: "trainee-1", Role: models.RoleTeacherTrainee, Identifier: "TT-001"}
)

// planStoreStub is an in-memory lesson plan table with the same conditional
// update semantics as the SQL repository.
type planStoreStub struct {
	mu        sync.Mutex
	plans     map[string]*models.LessonPlan
	seq       int
	listErr   error
	findErr   error
	updateErr error
	refs      map[string]string
}

func newPlanStoreStub(plans ...*models.LessonPlan) *planStoreStub {
	s := &planStoreStub{plans: map[string]*models.LessonPlan{}, refs: map[string]string{}}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

func (s *planStoreStub) copyOf(id string) (*models.LessonPlan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := storedPlan(plan)
	return &clone, nil
}

// storedPlan mirrors the repository, which hands plans out with HH:MM times
// and bare dates.
func storedPlan(plan *models.LessonPlan) models.LessonPlan {
	clone := *plan
	clone.Date = workflow.NormalizeDate(clone.Date)
	clone.StartTime = workflow.NormalizeClock(clone.StartTime)
	clone.EndTime = workflow.NormalizeClock(clone.EndTime)
	return clone
}

func (s *planStoreStub) List(ctx context.Context, filter models.LessonPlanFilter) ([]models.LessonPlan, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	var out []models.LessonPlan
	for _, p := range s.plans {
		if filter.TraineeID != "" && p.TraineeID != filter.TraineeID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Subject != "" && p.Subject != filter.Subject {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, storedPlan(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (s *planStoreStub) FindByID(ctx context.Context, id string) (*models.LessonPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.copyOf(id)
}

func (s *planStoreStub) HasPending(ctx context.Context, traineeID, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.TraineeID == traineeID && p.ID != excludeID && p.Status.AwaitingReview() {
			return true, nil
		}
	}
	return false, nil
}

func (s *planStoreStub) Create(ctx context.Context, plan *models.LessonPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	plan.ID = fmt.Sprintf("plan-%d", s.seq)
	if plan.Status == "" {
		plan.Status = models.LessonPlanStatusPending
	}
	plan.CreatedAt = time.Now().UTC()
	clone := *plan
	s.plans[plan.ID] = &clone
	return nil
}

func (s *planStoreStub) Update(ctx context.Context, plan *models.LessonPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.plans[plan.ID]
	if !ok || !current.Status.AwaitingReview() {
		return sql.ErrNoRows
	}
	clone := *plan
	clone.Status = current.Status
	s.plans[plan.ID] = &clone
	return nil
}

func (s *planStoreStub) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.plans[id]
	if !ok || !current.Status.AwaitingReview() {
		return sql.ErrNoRows
	}
	delete(s.plans, id)
	return nil
}

func (s *planStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.LessonPlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	current, ok := s.plans[id]
	if !ok || !current.Status.AwaitingReview() {
		return sql.ErrNoRows
	}
	current.Status = status
	return nil
}

func (s *planStoreStub) SetDocumentRef(ctx context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.plans[id]
	if !ok {
		return sql.ErrNoRows
	}
	current.DocumentRef = &ref
	return nil
}

func (s *planStoreStub) ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.LessonPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LessonPlan
	for _, p := range s.plans {
		if p.Date < from || p.Date > to {
			continue
		}
		if traineeID != nil && p.TraineeID != *traineeID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *planStoreStub) status(id string) models.LessonPlanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.plans[id]; ok {
		return p.Status
	}
	return ""
}

type reviewStoreStub struct {
	reviews   []models.LessonPlanReview
	createErr error
}

func (s *reviewStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, review *models.LessonPlanReview) error {
	if s.createErr != nil {
		return s.createErr
	}
	review.ID = fmt.Sprintf("review-%d", len(s.reviews)+1)
	s.reviews = append(s.reviews, *review)
	return nil
}

func (s *reviewStoreStub) ListByLessonPlan(ctx context.Context, lessonPlanID string) ([]models.LessonPlanReview, error) {
	var out []models.LessonPlanReview
	for i := len(s.reviews) - 1; i >= 0; i-- {
		if s.reviews[i].LessonPlanID == lessonPlanID {
			out = append(out, s.reviews[i])
		}
	}
	return out, nil
}

// observationStoreStub is an in-memory schedule and feedback table.
type observationStoreStub struct {
	mu        sync.Mutex
	schedules map[string]*models.ObservationSchedule
	feedback  map[string]*models.ObservationFeedback
	plans     *planStoreStub
	seq       int
	createErr error
	lastList  models.ObservationFilter
}

func newObservationStoreStub(plans *planStoreStub) *observationStoreStub {
	return &observationStoreStub{
		schedules: map[string]*models.ObservationSchedule{},
		feedback:  map[string]*models.ObservationFeedback{},
		plans:     plans,
	}
}

func (s *observationStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, schedule *models.ObservationSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	schedule.ID = fmt.Sprintf("obs-%d", s.seq)
	schedule.CreatedAt = time.Now().UTC()
	clone := *schedule
	s.schedules[schedule.ID] = &clone
	return nil
}

func (s *observationStoreStub) detail(schedule *models.ObservationSchedule) models.ObservationDetail {
	detail := models.ObservationDetail{ObservationSchedule: *schedule}
	_, detail.HasFeedback = s.feedback[schedule.ID]
	if s.plans != nil {
		if plan, err := s.plans.FindByID(context.Background(), schedule.LessonPlanID); err == nil {
			detail.LessonPlanTitle = &plan.Title
			detail.TraineeName = plan.TraineeName
		}
	}
	return detail
}

func (s *observationStoreStub) FindByID(ctx context.Context, id string) (*models.ObservationDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := s.detail(schedule)
	return &detail, nil
}

func (s *observationStoreStub) List(ctx context.Context, filter models.ObservationFilter) ([]models.ObservationDetail, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = filter
	var out []models.ObservationDetail
	for _, schedule := range s.schedules {
		if filter.TraineeID != "" && schedule.TraineeID != filter.TraineeID {
			continue
		}
		if filter.SupervisorID != "" && schedule.SupervisorID != filter.SupervisorID {
			continue
		}
		if filter.Status != "" && schedule.Status != filter.Status {
			continue
		}
		out = append(out, s.detail(schedule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *observationStoreStub) UpdateStatus(ctx context.Context, id string, from, to models.ObservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok || schedule.Status != from {
		return sql.ErrNoRows
	}
	schedule.Status = to
	return nil
}

func (s *observationStoreStub) CreateFeedback(ctx context.Context, feedback *models.ObservationFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feedback[feedback.ScheduleID]; exists {
		return repository.ErrDuplicate
	}
	feedback.ID = "fb-" + feedback.ScheduleID
	clone := *feedback
	s.feedback[feedback.ScheduleID] = &clone
	return nil
}

func (s *observationStoreStub) FindFeedback(ctx context.Context, scheduleID string) (*models.ObservationFeedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feedback, ok := s.feedback[scheduleID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *feedback
	return &clone, nil
}

func (s *observationStoreStub) ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.ObservationDetail, error) {
	items, _, err := s.List(ctx, models.ObservationFilter{})
	if err != nil {
		return nil, err
	}
	var out []models.ObservationDetail
	for _, item := range items {
		if item.Date < from || item.Date > to {
			continue
		}
		if traineeID != nil && item.TraineeID != *traineeID {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *observationStoreStub) ListFeedbackBetween(ctx context.Context, from, to string, traineeID *string) ([]repository.FeedbackRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.FeedbackRow
	for id, feedback := range s.feedback {
		schedule := s.schedules[id]
		if schedule == nil || schedule.Date < from || schedule.Date > to {
			continue
		}
		if traineeID != nil && feedback.TraineeID != *traineeID {
			continue
		}
		out = append(out, repository.FeedbackRow{ObservationFeedback: *feedback, Date: schedule.Date})
	}
	return out, nil
}

func (s *observationStoreStub) status(id string) models.ObservationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule, ok := s.schedules[id]; ok {
		return schedule.Status
	}
	return ""
}

type supervisionStub struct {
	pairs map[string]bool
	err   error
}

func supervises(pairs ...string) *supervisionStub {
	s := &supervisionStub{pairs: map[string]bool{}}
	for _, pair := range pairs {
		s.pairs[pair] = true
	}
	return s
}

func (s *supervisionStub) SupervisesTrainee(ctx context.Context, supervisorID, traineeID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.pairs[supervisorID+"/"+traineeID], nil
}

type auditStub struct {
	entries []*models.AuditLog
	err     error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func (a *auditStub) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry.Action)
	}
	return out
}

type transitionStub struct {
	transitions []string
	scores      []int
}

func (m *transitionStub) RecordTransition(entity, from, to string) {
	m.transitions = append(m.transitions, entity+":"+from+"->"+to)
}

func (m *transitionStub) ObserveFeedbackScore(score int) {
	m.scores = append(m.scores, score)
}

type listCacheStub struct {
	entries     map[string][]byte
	invalidated []string
}

func newListCacheStub() *listCacheStub {
	return &listCacheStub{entries: map[string][]byte{}}
}

func (c *listCacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, jsonUnmarshal(raw, dest)
}

func (c *listCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := jsonMarshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *listCacheStub) Invalidate(ctx context.Context, pattern string) error {
	c.invalidated = append(c.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func TestEnsureSupervises(t *testing.T) {
	ctx := context.Background()
	checker := supervises("sup-1/trainee-1")

	assert.NoError(t, ensureSupervises(ctx, checker, adminClaims, "anyone"))
	assert.NoError(t, ensureSupervises(ctx, checker, supervisorClaims, "trainee-1"))
	assert.ErrorIs(t, ensureSupervises(ctx, checker, supervisorClaims, "trainee-2"), appErrors.ErrForbidden)
	assert.ErrorIs(t, ensureSupervises(ctx, checker, traineeClaims, "trainee-1"), appErrors.ErrForbidden)

	checker.err = fmt.Errorf("db down")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(ensureSupervises(ctx, checker, supervisorClaims, "trainee-1")).Code)
}

func TestBuildPagination(t *testing.T) {
	p := buildPagination(0, 10, 0)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 10, TotalCount: 0, TotalPages: 1}, p)

	p = buildPagination(3, 10, 21)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 3, p.Page)
}

func TestRecordAuditToleratesFailures(t *testing.T) {
	audit := &auditStub{err: fmt.Errorf("insert failed")}
	recordAudit(context.Background(), audit, zapNop(), supervisorClaims, models.AuditActionLessonPlanReview, "lesson_plan", "plan-1", map[string]string{"k": "v"})
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "sup-1", *audit.entries[0].UserID)
	assert.JSONEq(t, `{"k":"v"}`, string(audit.entries[0].NewValues))

	recordAudit(context.Background(), nil, zapNop(), supervisorClaims, "X", "r", "id", nil)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "observations:list:trainee-1::SCHEDULED:1:5", cacheKey("observations:list", "trainee-1", "", models.ObservationStatusScheduled, 1, 5))
}
