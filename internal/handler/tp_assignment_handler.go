package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/service"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

type tpAssignmentService interface {
	List(ctx context.Context, actor *models.JWTClaims) ([]models.TPAssignment, error)
	Assign(ctx context.Context, actor *models.JWTClaims, req service.AssignRequest) (*models.TPAssignment, error)
}

// TPAssignmentHandler exposes trainee placements.
type TPAssignmentHandler struct {
	service tpAssignmentService
}

// NewTPAssignmentHandler constructs the handler.
func NewTPAssignmentHandler(svc tpAssignmentService) *TPAssignmentHandler {
	return &TPAssignmentHandler{service: svc}
}

// List godoc
// @Summary List placements
// @Description Admins see all placements, supervisors their trainees, trainees their own
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /tp-assignments [get]
func (h *TPAssignmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, nil)
}

// Create godoc
// @Summary Place a trainee under a supervisor
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.AssignRequest true "Placement"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tp-assignments [post]
func (h *TPAssignmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Assign(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}
