package response

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

const (
	// ErrorCodeKey holds the code of the error envelope written for the request.
	ErrorCodeKey = "response.error_code"
	// TotalCountHeader mirrors pagination.total_count on list responses.
	TotalCountHeader = "X-Total-Count"

	metaKey    = "response.meta"
	startedKey = "response.started"
)

// Envelope represents the common response contract.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Begin starts the clock reported as meta.processing_time_ms.
func Begin(c *gin.Context) {
	c.Set(startedKey, time.Now())
}

// SetMeta adds key to the meta block of the envelope written later in the request.
func SetMeta(c *gin.Context, key string, value interface{}) {
	meta, _ := c.Get(metaKey)
	typed, ok := meta.(map[string]interface{})
	if !ok {
		typed = map[string]interface{}{}
		c.Set(metaKey, typed)
	}
	typed[key] = value
}

// Meta returns a copy of the collected meta entries, nil when none were set.
func Meta(c *gin.Context) map[string]interface{} {
	stored, _ := c.Get(metaKey)
	typed, _ := stored.(map[string]interface{})
	var out map[string]interface{}
	if started, ok := c.Get(startedKey); ok {
		out = make(map[string]interface{}, len(typed)+2)
		out["processing_time_ms"] = time.Since(started.(time.Time)).Milliseconds()
		if id := requestid.Value(c); id != "" {
			out["request_id"] = id
		}
	}
	for k, v := range typed {
		if out == nil {
			out = make(map[string]interface{}, len(typed))
		}
		out[k] = v
	}
	return out
}

// JSON sends a success envelope carrying any collected meta.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination) {
	noStore(c)
	c.JSON(status, Envelope{Data: data, Pagination: pagination, Meta: Meta(c)})
}

// List sends a page of items. A nil slice is rendered as [] so clients never
// see a null data field.
func List[T any](c *gin.Context, items []T, pagination *models.Pagination) {
	if items == nil {
		items = []T{}
	}
	if pagination != nil {
		c.Header(TotalCountHeader, strconv.Itoa(pagination.TotalCount))
	}
	JSON(c, http.StatusOK, items, pagination)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Accepted responds with HTTP 202 for work finished asynchronously.
func Accepted(c *gin.Context, data interface{}) {
	JSON(c, http.StatusAccepted, data, nil)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error writes the error envelope. Server side failures are also attached to
// the gin context so the request logger reports the underlying cause.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Set(ErrorCodeKey, appErr.Code)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	noStore(c)
	c.JSON(appErr.Status, Envelope{Error: appErr, Meta: Meta(c)})
}

// Attachment streams body as a download named filename.
func Attachment(c *gin.Context, filename, contentType string, size int64, body io.Reader) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment"
	}
	noStore(c)
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, size, contentType, body, map[string]string{"Content-Disposition": disposition})
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
