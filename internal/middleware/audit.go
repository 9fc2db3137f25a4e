package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

const auditWriteTimeout = 3 * time.Second

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditTrail struct {
	Route     string `json:"route"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	RequestID string `json:"request_id,omitempty"`
}

// Audit writes one audit entry for every request that ends below 400.
// The :id path parameter, when present, becomes the resource id.
func Audit(repo AuditRecorder, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status >= 400 {
			return
		}

		actorID := ""
		if claims, ok := CurrentUser(c); ok {
			actorID = claims.UserID
		}
		client := models.ClientInfo{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
		entry := models.NewAuditLog(actorID, action, resource, c.Param("id"), client).Diff(nil, auditTrail{
			Route:     c.FullPath(),
			Method:    c.Request.Method,
			Status:    status,
			LatencyMS: time.Since(start).Milliseconds(),
			RequestID: requestid.Value(c),
		})

		// The client may already be gone; the entry is still owed.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), auditWriteTimeout)
		defer cancel()
		if err := repo.CreateAuditLog(ctx, entry); err != nil {
			logger.Warn("failed to record audit log",
				zap.String("action", action),
				zap.String("request_id", requestid.Value(c)),
				zap.Error(err),
			)
		}
	}
}
