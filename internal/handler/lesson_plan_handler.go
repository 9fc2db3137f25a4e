package handler

import (
	"context"
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

type lessonPlanService interface {
	List(ctx context.Context, query dto.LessonPlanQuery, actor *models.JWTClaims) ([]models.LessonPlan, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LessonPlan, error)
	Create(ctx context.Context, req dto.LessonPlanRequest, actor *models.JWTClaims) (*models.LessonPlan, error)
	Update(ctx context.Context, id string, req dto.LessonPlanRequest, actor *models.JWTClaims) (*models.LessonPlan, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

type reviewService interface {
	Review(ctx context.Context, id string, req dto.ReviewRequest, actor *models.JWTClaims) (*dto.ReviewResult, error)
	ConfirmApproval(ctx context.Context, id string, req dto.ApproveRequest, actor *models.JWTClaims) (*dto.ApprovalResult, error)
}

type assistantService interface {
	Generate(ctx context.Context, req dto.GenerateLessonPlanRequest, actor *models.JWTClaims) (*dto.GenerateLessonPlanResponse, error)
}

type documentService interface {
	Generate(ctx context.Context, id string, actor *models.JWTClaims) (*dto.LessonPlanDocument, error)
	Resolve(ctx context.Context, token string) (*service.DocumentDownload, error)
}

// LessonPlanHandler serves lesson plan authoring, review and documents.
type LessonPlanHandler struct {
	plans     lessonPlanService
	reviews   reviewService
	assistant assistantService
	documents documentService
}

// NewLessonPlanHandler constructs the handler. The assistant and documents may be nil when disabled.
func NewLessonPlanHandler(plans lessonPlanService, reviews reviewService, assistant assistantService, documents documentService) *LessonPlanHandler {
	return &LessonPlanHandler{plans: plans, reviews: reviews, assistant: assistant, documents: documents}
}

// List godoc
// @Summary List lesson plans
// @Description Trainees only see their own plans
// @Tags LessonPlans
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param subject query string false "Subject filter"
// @Param status query string false "Status filter"
// @Param search query string false "Title or topic search"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /lesson-plans [get]
func (h *LessonPlanHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	query := dto.LessonPlanQuery{
		Page:      page,
		Limit:     intQuery(c, "limit"),
		Subject:   strings.TrimSpace(c.Query("subject")),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if status := c.Query("status"); status != "" {
		query.Status = models.LessonPlanStatus(strings.ToUpper(status))
	}
	ctx, cacheHit := service.TrackCacheHits(c.Request.Context())
	plans, pagination, err := h.plans.List(ctx, query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, *cacheHit)
	response.List(c, plans, pagination)
}

// Get godoc
// @Summary Get lesson plan
// @Tags LessonPlans
// @Produce json
// @Param id path string true "Lesson plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lesson-plans/{id} [get]
func (h *LessonPlanHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Create godoc
// @Summary Submit a lesson plan
// @Description A trainee may hold only one plan awaiting review
// @Tags LessonPlans
// @Accept json
// @Produce json
// @Param payload body dto.LessonPlanRequest true "Lesson plan"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lesson-plans [post]
func (h *LessonPlanHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.LessonPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lesson plan payload"))
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// Update godoc
// @Summary Update a lesson plan awaiting review
// @Tags LessonPlans
// @Accept json
// @Produce json
// @Param id path string true "Lesson plan ID"
// @Param payload body dto.LessonPlanRequest true "Lesson plan"
// @Success 200 {object} response.Envelope
// @Router /lesson-plans/{id} [put]
func (h *LessonPlanHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.LessonPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lesson plan payload"))
		return
	}
	plan, err := h.plans.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Delete godoc
// @Summary Delete a lesson plan awaiting review
// @Tags LessonPlans
// @Param id path string true "Lesson plan ID"
// @Success 204
// @Router /lesson-plans/{id} [delete]
func (h *LessonPlanHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.plans.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Review godoc
// @Summary Review a lesson plan
// @Description REJECTED is stored immediately. APPROVED only returns a schedule proposal; confirm it with /approve.
// @Tags LessonPlans
// @Accept json
// @Produce json
// @Param id path string true "Lesson plan ID"
// @Param payload body dto.ReviewRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lesson-plans/{id}/review [post]
func (h *LessonPlanHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}
	result, err := h.reviews.Review(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Approve godoc
// @Summary Confirm an approval with its observation schedule
// @Tags LessonPlans
// @Accept json
// @Produce json
// @Param id path string true "Lesson plan ID"
// @Param payload body dto.ApproveRequest true "Approval and schedule"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lesson-plans/{id}/approve [post]
func (h *LessonPlanHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}
	result, err := h.reviews.ConfirmApproval(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Generate godoc
// @Summary Draft a lesson plan with the assistant
// @Tags LessonPlans
// @Accept json
// @Produce json
// @Param payload body dto.GenerateLessonPlanRequest true "Chat message"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /lesson-plans/generate [post]
func (h *LessonPlanHandler) Generate(c *gin.Context) {
	if h.assistant == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "lesson plan assistant not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.GenerateLessonPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assistant payload"))
		return
	}
	result, err := h.assistant.Generate(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Document godoc
// @Summary Render a lesson plan PDF
// @Description Stores the PDF and returns a signed download link
// @Tags LessonPlans
// @Produce json
// @Param id path string true "Lesson plan ID"
// @Success 200 {object} response.Envelope
// @Router /lesson-plans/{id}/pdf [get]
func (h *LessonPlanHandler) Document(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "document service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	doc, err := h.documents.Generate(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// DownloadDocument godoc
// @Summary Download a lesson plan PDF via signed token
// @Tags LessonPlans
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *LessonPlanHandler) DownloadDocument(c *gin.Context) {
	if h.documents == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "document service not configured"))
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	doc, err := h.documents.Resolve(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer doc.File.Close() //nolint:errcheck

	info, err := doc.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read document"))
		return
	}
	response.Attachment(c, doc.Filename, "application/pdf", info.Size(), doc.File)
}
