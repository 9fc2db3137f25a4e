// Package tpclient is a typed client for the teaching practice workflow API.
//
// Reads are retried with exponential backoff on transport failures, 5xx and
// 429 answers. Writes are sent exactly once.
package tpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	"github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultTimeout     = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits between read attempts. It must return early with ctx.Err()
	// when the context ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the workflow API.
type Client struct {
	baseURL     *url.URL
	token       string
	http        *http.Client
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// LessonPlanPage is one page of lesson plans.
type LessonPlanPage struct {
	Items      []models.LessonPlan
	Pagination models.Pagination
}

// ObservationPage is one page of observation schedules.
type ObservationPage struct {
	Items      []dto.ObservationView
	Pagination models.Pagination
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *APIError              `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("tpclient: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		baseURL:     base,
		token:       cfg.Token,
		http:        httpClient,
		logger:      logger,
		maxAttempts: attempts,
		baseDelay:   delay,
		sleep:       sleep,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the wait before retry number attempt (0-based).
func (c *Client) backoff(attempt int) time.Duration {
	return c.baseDelay << uint(attempt)
}

// Login exchanges credentials for a token pair. Like every write it is sent
// once; the client keeps using its configured token afterwards.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var out models.LoginResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify returns the caller's role and identifier.
func (c *Client) Verify(ctx context.Context) (*models.VerifyResponse, error) {
	var out models.VerifyResponse
	if _, err := c.get(ctx, "/auth/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLessonPlans returns one page of lesson plans. A 404 yields an empty page.
func (c *Client) ListLessonPlans(ctx context.Context, query dto.LessonPlanQuery) (*LessonPlanPage, error) {
	var items []models.LessonPlan
	pagination, err := c.get(ctx, "/lesson-plans", lessonPlanValues(query), &items)
	if errors.Is(err, ErrNotFound) {
		return &LessonPlanPage{Items: []models.LessonPlan{}, Pagination: emptyPagination(query.Page, query.Limit)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LessonPlanPage{Items: items, Pagination: pageOrDefault(pagination, query.Page, query.Limit, len(items))}, nil
}

// GetLessonPlan fetches a single plan.
func (c *Client) GetLessonPlan(ctx context.Context, id string) (*models.LessonPlan, error) {
	var plan models.LessonPlan
	if _, err := c.get(ctx, "/lesson-plans/"+id, nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ReviewLessonPlan records a decision. Approvals come back as a schedule proposal.
func (c *Client) ReviewLessonPlan(ctx context.Context, id string, req dto.ReviewRequest) (*dto.ReviewResult, error) {
	if err := workflow.ValidateReviewDecision(req.Status, req.Comments, req.Score); err != nil {
		return nil, localError(err)
	}
	var out dto.ReviewResult
	if err := c.send(ctx, http.MethodPost, "/lesson-plans/"+id+"/review", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveLessonPlan confirms an approval together with its observation schedule.
func (c *Client) ApproveLessonPlan(ctx context.Context, id string, req dto.ApproveRequest) (*dto.ApprovalResult, error) {
	if err := validateApproval(req); err != nil {
		return nil, err
	}
	var out dto.ApprovalResult
	if err := c.send(ctx, http.MethodPost, "/lesson-plans/"+id+"/approve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListObservations returns one page of schedules. A 404 yields an empty page.
func (c *Client) ListObservations(ctx context.Context, query dto.ObservationQuery) (*ObservationPage, error) {
	var items []dto.ObservationView
	pagination, err := c.get(ctx, "/observations", observationValues(query), &items)
	if errors.Is(err, ErrNotFound) {
		return &ObservationPage{Items: []dto.ObservationView{}, Pagination: emptyPagination(query.Page, query.Limit)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ObservationPage{Items: items, Pagination: pageOrDefault(pagination, query.Page, query.Limit, len(items))}, nil
}

// ScheduleObservation creates an ad-hoc observation.
func (c *Client) ScheduleObservation(ctx context.Context, req dto.ScheduleRequest) (*dto.ObservationView, error) {
	if err := workflow.ValidateScheduleInput(scheduleInput(req)); err != nil {
		return nil, localError(err)
	}
	var out dto.ObservationView
	if err := c.send(ctx, http.MethodPost, "/observations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AdvanceObservation moves a schedule to target.
func (c *Client) AdvanceObservation(ctx context.Context, id string, target models.ObservationStatus) (*dto.ObservationView, error) {
	var out dto.ObservationView
	body := dto.StatusUpdateRequest{Status: target}
	if err := c.send(ctx, http.MethodPatch, "/observations/"+id+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitFeedback scores a completed observation.
func (c *Client) SubmitFeedback(ctx context.Context, scheduleID string, req dto.FeedbackRequest) (*models.ObservationFeedback, error) {
	if req.Score == nil {
		return nil, &APIError{Status: http.StatusBadRequest, Code: CodeValidation, Message: "score is required"}
	}
	if err := workflow.ValidateFeedback(*req.Score, req.Comments); err != nil {
		return nil, localError(err)
	}
	var out models.ObservationFeedback
	if err := c.send(ctx, http.MethodPost, "/observations/"+scheduleID+"/feedback", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFeedback returns the feedback attached to a schedule.
func (c *Client) GetFeedback(ctx context.Context, scheduleID string) (*models.ObservationFeedback, error) {
	var out models.ObservationFeedback
	if _, err := c.get(ctx, "/observations/"+scheduleID+"/feedback", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportObservations uploads a scheduling CSV.
func (c *Client) ImportObservations(ctx context.Context, csv io.Reader) (*dto.ImportResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/observations/import", nil, csv)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/csv")
	var out dto.ImportResult
	if _, err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateReport queues an export job.
func (c *Client) GenerateReport(ctx context.Context, req dto.ReportRequest) (*dto.ReportJob, error) {
	var out dto.ReportJob
	if err := c.send(ctx, http.MethodPost, "/reports/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportStatus polls an export job.
func (c *Client) ReportStatus(ctx context.Context, id string) (*dto.ReportJob, error) {
	var out dto.ReportJob
	if _, err := c.get(ctx, "/reports/status/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get performs a read with retries and decodes the envelope data into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) (*models.Pagination, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Debug("retrying read",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}
		pagination, err := c.do(req, out)
		if err == nil {
			return pagination, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	c.logger.Warn("read failed after retries", zap.String("path", path), zap.Int("attempts", c.maxAttempts), zap.Error(lastErr))
	return nil, lastErr
}

// send performs a single write with a JSON body.
func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tpclient: encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req, out)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("tpclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) (*models.Pagination, error) {
	if id := requestid.FromContext(req.Context()); id != "-" {
		req.Header.Set(requestid.Header, id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tpclient: read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, fmt.Errorf("%w: decode response: %w", ErrDecode, err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(requestid.Header)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%w: decode data: %w", ErrDecode, err)
		}
	}
	return env.Pagination, nil
}

func validateApproval(req dto.ApproveRequest) error {
	if err := workflow.ValidateReviewDecision(models.LessonPlanStatusApproved, req.Comments, req.Score); err != nil {
		return localError(err)
	}
	if err := workflow.ValidateScheduleInput(scheduleInput(req.Schedule)); err != nil {
		return localError(err)
	}
	return nil
}

func scheduleInput(req dto.ScheduleRequest) workflow.ScheduleInput {
	return workflow.ScheduleInput{
		LessonPlanID: req.LessonPlanID,
		TraineeID:    req.TraineeID,
		Date:         req.Date,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	}
}

func lessonPlanValues(query dto.LessonPlanQuery) url.Values {
	values := pageValues(query.Page, query.Limit)
	setIf(values, "subject", query.Subject)
	setIf(values, "status", string(query.Status))
	setIf(values, "search", query.Search)
	setIf(values, "sort", query.SortBy)
	setIf(values, "order", query.SortOrder)
	return values
}

func observationValues(query dto.ObservationQuery) url.Values {
	values := pageValues(query.Page, query.Limit)
	setIf(values, "status", string(query.Status))
	setIf(values, "traineeId", query.TraineeID)
	return values
}

func pageValues(page, limit int) url.Values {
	values := url.Values{}
	if page > 0 {
		values.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	return values
}

func setIf(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}

func emptyPagination(page, limit int) models.Pagination {
	if page <= 0 {
		page = 1
	}
	return models.Pagination{Page: page, PageSize: limit, TotalCount: 0, TotalPages: workflow.TotalPages(0, limit)}
}

func pageOrDefault(p *models.Pagination, page, limit, count int) models.Pagination {
	if p != nil {
		return *p
	}
	if page <= 0 {
		page = 1
	}
	return models.Pagination{Page: page, PageSize: limit, TotalCount: count, TotalPages: workflow.TotalPages(count, limit)}
}
