package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

// CacheHeader tells clients whether a list was served from Redis.
const CacheHeader = "X-Cache"

// WithResponseMeta starts the per-request meta block that envelopes carry.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Begin(c)
		c.Next()
	}
}

// SetCacheHit records whether the list behind this response came from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	response.SetMeta(c, "cache_hit", hit)
	if hit {
		c.Header(CacheHeader, "HIT")
		return
	}
	c.Header(CacheHeader, "MISS")
}
