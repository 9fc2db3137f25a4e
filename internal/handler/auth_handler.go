package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

// RefreshCookieName is the cookie carrying the refresh token for browser clients.
const RefreshCookieName = "tp_refresh"

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error)
	Logout(ctx context.Context, refreshToken string, userID string, meta models.ClientInfo) error
	Verify(ctx context.Context, claims *models.JWTClaims) (*models.VerifyResponse, error)
}

// RefreshCookie controls whether refresh tokens are also set as an HttpOnly
// cookie. The JSON body always carries them for tpctl and other API clients.
type RefreshCookie struct {
	Enabled bool
	Path    string
	Secure  bool
	MaxAge  time.Duration
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authService
	cookie  RefreshCookie
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authService, cookie RefreshCookie) *AuthHandler {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{service: svc, cookie: cookie}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.ClientInfo = clientInfo(c)

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.setRefreshCookie(c, res.RefreshToken)
	response.JSON(c, http.StatusOK, res, nil)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Description Exchange a refresh token for a new pair. Reusing a rotated token signs out every session of that login.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest false "Refresh payload, optional when the tp_refresh cookie is sent"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, err := h.refreshToken(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.service.RefreshToken(c.Request.Context(), models.RefreshTokenRequest{
		RefreshToken: token,
		ClientInfo:   clientInfo(c),
	})
	if err != nil {
		if appErrors.FromError(err).Status == http.StatusUnauthorized {
			h.clearRefreshCookie(c)
		}
		response.Error(c, err)
		return
	}
	h.setRefreshCookie(c, res.RefreshToken)
	response.JSON(c, http.StatusOK, res, nil)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh token of the current session. Repeating it is a no-op.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest false "Refresh token, optional when the tp_refresh cookie is sent"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, err := h.refreshToken(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.service.Logout(c.Request.Context(), token, claims.UserID, clientInfo(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.clearRefreshCookie(c)
	response.NoContent(c)
}

// Verify godoc
// @Summary Verify current token
// @Description Returns the role and identifier used for client-side gating
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/verify [get]
func (h *AuthHandler) Verify(c *gin.Context) {
	res, err := h.service.Verify(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// refreshToken reads the token from the JSON body, falling back to the cookie.
func (h *AuthHandler) refreshToken(c *gin.Context) (string, error) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload")
	}
	if payload.RefreshToken != "" {
		return payload.RefreshToken, nil
	}
	if h.cookie.Enabled {
		if value, err := c.Cookie(RefreshCookieName); err == nil && value != "" {
			return value, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "refresh token required")
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	if !h.cookie.Enabled || token == "" {
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, token, int(h.cookie.MaxAge.Seconds()), h.cookie.Path, "", h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	if !h.cookie.Enabled {
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1, h.cookie.Path, "", h.cookie.Secure, true)
}
