package cli

import (
	"errors"

	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

// Hint returns a follow-up suggestion for well known failures.
func Hint(err error) string {
	switch {
	case errors.Is(err, tpclient.ErrUnauthenticated):
		return "sign in again and export the new token as TPCTL_TOKEN"
	case errors.Is(err, tpclient.ErrForbidden):
		return "your role is not allowed to do this"
	case tpclient.IsValidation(err):
		return "check the flags and try again"
	default:
		return ""
	}
}

// RequestID returns the server correlation id carried by err, if any.
func RequestID(err error) string {
	var apiErr *tpclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RequestID
	}
	return ""
}
