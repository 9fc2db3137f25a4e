package workflow

import (
	"strings"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

// Score bounds shared by reviews and feedback.
const (
	MinScore = 0
	MaxScore = 10
)

// ValidateReviewDecision guards a supervisor decision on a lesson plan.
func ValidateReviewDecision(status models.LessonPlanStatus, comments string, score *int) error {
	if status != models.LessonPlanStatusApproved && status != models.LessonPlanStatusRejected {
		return appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
	if strings.TrimSpace(comments) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "review comments are required")
	}
	if score != nil && !ValidScore(*score) {
		return appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 10")
	}
	return nil
}

// ValidateFeedback guards an observation feedback submission.
func ValidateFeedback(score int, comments string) error {
	if !ValidScore(score) {
		return appErrors.Clone(appErrors.ErrValidation, "score must be between 0 and 10")
	}
	if strings.TrimSpace(comments) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "feedback comments are required")
	}
	return nil
}

// ValidScore reports whether score is within the inclusive range.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
