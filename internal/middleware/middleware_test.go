package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
	tokens []string
}

func (v *validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	v.tokens = append(v.tokens, token)
	return v.claims, v.err
}

type auditRecorderStub struct {
	entries []*models.AuditLog
	err     error
}

func (a *auditRecorderStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	return r
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	r := newRouter(JWT(&validatorStub{}))
	r.GET("/private", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, bearerChallenge, w.Header().Get("WWW-Authenticate"))
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	validator := &validatorStub{}
	r := newRouter(JWT(validator))
	r.GET("/private", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, validator.tokens)
}

func TestJWTStoresClaims(t *testing.T) {
	validator := &validatorStub{claims: &models.JWTClaims{UserID: "sup-1", Role: models.RoleSupervisor}}
	r := newRouter(JWT(validator))
	var seen *models.JWTClaims
	var userID string
	r.GET("/private", func(c *gin.Context) {
		seen, _ = CurrentUser(c)
		userID = c.GetString(UserIDKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "bearer abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "sup-1", seen.UserID)
	assert.Equal(t, "sup-1", userID)
	assert.Equal(t, []string{"abc"}, validator.tokens)
}

func TestJWTInvalidToken(t *testing.T) {
	validator := &validatorStub{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}
	r := newRouter(JWT(validator))
	r.GET("/private", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer expired")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func withUser(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func TestRequireRoles(t *testing.T) {
	cases := []struct {
		name   string
		role   models.UserRole
		expect int
	}{
		{name: "supervisor allowed", role: models.RoleSupervisor, expect: http.StatusOK},
		{name: "admin allowed", role: models.RoleAdmin, expect: http.StatusOK},
		{name: "trainee forbidden", role: models.RoleTeacherTrainee, expect: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(withUser(&models.JWTClaims{UserID: "u-1", Role: tc.role}), RequireRoles(models.RoleAdmin, models.RoleSupervisor))
			r.POST("/lesson-plans/:id/review", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lesson-plans/plan-1/review", nil))
			assert.Equal(t, tc.expect, w.Code)
		})
	}
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	r := newRouter(RequireRoles(models.RoleAdmin))
	r.GET("/users", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRolesNamesAllowedRoles(t *testing.T) {
	r := newRouter(withUser(&models.JWTClaims{UserID: "tr-1", Role: models.RoleTeacherTrainee}), RequireRoles(models.RoleSupervisor, models.RoleAdmin))
	r.POST("/observations", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/observations", nil))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "requires role supervisor or admin")
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	recorder := &auditRecorderStub{}
	r := newRouter(withUser(&models.JWTClaims{UserID: "sup-1", Role: models.RoleSupervisor}))
	r.PATCH("/observations/:id/status", Audit(recorder, nil, models.AuditActionObservationAdvance, "observation"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.PATCH("/observations/:id/fail", Audit(recorder, nil, models.AuditActionObservationAdvance, "observation"), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/observations/obs-1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/observations/obs-1/fail", nil))
	require.Equal(t, http.StatusConflict, w.Code)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, models.AuditActionObservationAdvance, entry.Action)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "obs-1", *entry.ResourceID)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "sup-1", *entry.UserID)
}

func TestAuditFailureDoesNotAffectResponse(t *testing.T) {
	recorder := &auditRecorderStub{err: errors.New("db down")}
	r := newRouter()
	r.POST("/auth/logout", Audit(recorder, nil, models.AuditActionLogout, "auth"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, recorder.entries, 1)
}

func TestResponseMetaCacheHit(t *testing.T) {
	r := newRouter(WithResponseMeta())
	r.GET("/observations", func(c *gin.Context) {
		SetCacheHit(c, true)
		response.JSON(c, http.StatusOK, []string{}, nil)
	})
	r.GET("/lesson-plans", func(c *gin.Context) {
		SetCacheHit(c, false)
		response.JSON(c, http.StatusOK, []string{}, nil)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/observations", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get(CacheHeader))
	var body struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Contains(t, body.Meta, "processing_time_ms")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lesson-plans", nil))
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
}

type observerStub struct {
	routes   []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	o.routes = append(o.routes, method+" "+route)
	o.statuses = append(o.statuses, status)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &observerStub{}
	r := newRouter(Metrics(observer))
	r.GET("/observations/:id/feedback", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/observations/obs-1/feedback", "/observations/obs-2/feedback", "/wp-login.php"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, []string{
		"GET /observations/:id/feedback",
		"GET /observations/:id/feedback",
		"GET unmatched",
	}, observer.routes)
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusNotFound}, observer.statuses)
}
