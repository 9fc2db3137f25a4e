package workflow

import (
	"fmt"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

// NextObservationStatus returns the only status reachable from current.
func NextObservationStatus(current models.ObservationStatus) (models.ObservationStatus, error) {
	switch current {
	case models.ObservationStatusScheduled:
		return models.ObservationStatusOngoing, nil
	case models.ObservationStatusOngoing:
		return models.ObservationStatusCompleted, nil
	default:
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("observation in status %q cannot advance", current))
	}
}

// CanAdvance reports whether from -> to is one of the two forward edges.
func CanAdvance(from, to models.ObservationStatus) bool {
	next, err := NextObservationStatus(from)
	return err == nil && next == to
}

// ValidateAdvance returns an error describing why from -> to is refused.
func ValidateAdvance(from, to models.ObservationStatus) error {
	if !to.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown observation status")
	}
	if !CanAdvance(from, to) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move observation from %s to %s", from, to))
	}
	return nil
}

// FeedbackAllowed reports whether feedback may be attached in this status.
func FeedbackAllowed(status models.ObservationStatus) bool {
	return status == models.ObservationStatusCompleted
}
