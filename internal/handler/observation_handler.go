package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/middleware"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/service"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

type observationService interface {
	Schedule(ctx context.Context, req dto.ScheduleRequest, actor *models.JWTClaims) (*dto.ObservationView, error)
	List(ctx context.Context, query dto.ObservationQuery, actor *models.JWTClaims) ([]dto.ObservationView, *models.Pagination, error)
	AdvanceStatus(ctx context.Context, id string, target models.ObservationStatus, actor *models.JWTClaims) (*dto.ObservationView, error)
	SubmitFeedback(ctx context.Context, scheduleID string, req dto.FeedbackRequest, actor *models.JWTClaims) (*models.ObservationFeedback, error)
	GetFeedback(ctx context.Context, scheduleID string, actor *models.JWTClaims) (*models.ObservationFeedback, error)
	Import(ctx context.Context, r io.Reader, actor *models.JWTClaims) (*dto.ImportResult, error)
}

// ObservationHandler serves observation scheduling endpoints.
type ObservationHandler struct {
	service observationService
}

// NewObservationHandler constructs the handler.
func NewObservationHandler(svc observationService) *ObservationHandler {
	return &ObservationHandler{service: svc}
}

// List godoc
// @Summary List observation schedules
// @Description Trainees see their own, supervisors see the ones they conduct
// @Tags Observations
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param status query string false "SCHEDULED, ONGOING or COMPLETED"
// @Param traineeId query string false "Trainee filter"
// @Success 200 {object} response.Envelope
// @Router /observations [get]
func (h *ObservationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	query := dto.ObservationQuery{
		Page:      page,
		Limit:     intQuery(c, "limit"),
		TraineeID: strings.TrimSpace(c.Query("traineeId")),
	}
	if status := c.Query("status"); status != "" {
		query.Status = models.ObservationStatus(strings.ToUpper(status))
	}
	ctx, cacheHit := service.TrackCacheHits(c.Request.Context())
	items, pagination, err := h.service.List(ctx, query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, *cacheHit)
	response.List(c, items, pagination)
}

// Schedule godoc
// @Summary Schedule an observation
// @Tags Observations
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleRequest true "Schedule"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /observations [post]
func (h *ObservationHandler) Schedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	view, err := h.service.Schedule(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Import godoc
// @Summary Bulk schedule observations from CSV
// @Description Columns: lesson_plan_id, trainee_identifier, date, start_time, end_time. Rows fail independently.
// @Tags Observations
// @Accept multipart/form-data
// @Accept text/csv
// @Produce json
// @Param file formData file false "CSV file"
// @Success 200 {object} response.Envelope
// @Router /observations/import [post]
func (h *ObservationHandler) Import(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var source io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
			return
		}
		src, err := fileHeader.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
			return
		}
		defer src.Close()
		source = src
	}
	result, err := h.service.Import(c.Request.Context(), source, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AdvanceStatus godoc
// @Summary Advance an observation
// @Description SCHEDULED to ONGOING, ONGOING to COMPLETED. Stale state answers 409.
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body dto.StatusUpdateRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id}/status [patch]
func (h *ObservationHandler) AdvanceStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	target := models.ObservationStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	view, err := h.service.AdvanceStatus(c.Request.Context(), c.Param("id"), target, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// SubmitFeedback godoc
// @Summary Score a completed observation
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body dto.FeedbackRequest true "Score 0-10 and comments"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id}/feedback [post]
func (h *ObservationHandler) SubmitFeedback(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feedback payload"))
		return
	}
	feedback, err := h.service.SubmitFeedback(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, feedback)
}

// GetFeedback godoc
// @Summary Feedback for an observation
// @Tags Observations
// @Produce json
// @Param id path string true "Observation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /observations/{id}/feedback [get]
func (h *ObservationHandler) GetFeedback(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feedback, err := h.service.GetFeedback(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feedback, nil)
}
