package tpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

var (
	// ErrUnauthenticated means the token is missing, expired or revoked. Callers should sign in again.
	ErrUnauthenticated = errors.New("tpclient: not authenticated")
	// ErrForbidden means the caller's role may not perform the operation.
	ErrForbidden = errors.New("tpclient: forbidden")
	// ErrNotFound means the addressed resource does not exist or is not visible.
	ErrNotFound = errors.New("tpclient: not found")
	// ErrDecode means the server answered with a body the client cannot read. Reads
	// failing this way are not retried.
	ErrDecode = errors.New("tpclient: malformed response")
	// ErrSuperseded is returned by a search that a newer search cancelled.
	ErrSuperseded = errors.New("tpclient: superseded by a newer request")
)

// CodeValidation is the error code of rejected input, whether checked locally or by the server.
const CodeValidation = "VALIDATION_ERROR"

// APIError is an error answered by the API or raised by local input checks.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// RequestID echoes the server's X-Request-ID for support lookups.
	RequestID string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tpclient: request failed with status %d", e.Status)
	}
	return e.Message
}

// Unwrap maps auth and lookup failures onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeValidation
}

// localError converts a workflow guard failure into the client error type.
func localError(err error) error {
	if err == nil {
		return nil
	}
	appErr := appErrors.FromError(err)
	return &APIError{Status: appErr.Status, Code: appErr.Code, Message: appErr.Message}
}

// retryable reports whether a read should be attempted again.
func retryable(err error) bool {
	if err == nil || errors.Is(err, ErrDecode) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}
	// transport failures
	return true
}
