// Package workflow holds the pure rules of the lesson plan review and
// observation scheduling workflow. Nothing here touches storage.
package workflow

import (
	"regexp"
	"strings"
	"time"

	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

const dateLayout = "2006-01-02"

var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ValidClock reports whether value is a same-day HH:MM wall clock time.
func ValidClock(value string) bool {
	if !clockPattern.MatchString(value) {
		return false
	}
	hour := int(value[0]-'0')*10 + int(value[1]-'0')
	minute := int(value[3]-'0')*10 + int(value[4]-'0')
	return hour <= 23 && minute <= 59
}

// ValidateTimeWindow checks that both bounds are HH:MM and end is strictly after start.
// Overnight windows are rejected.
func ValidateTimeWindow(start, end string) error {
	if !ValidClock(start) || !ValidClock(end) {
		return appErrors.Clone(appErrors.ErrValidation, "start and end time must use HH:MM format")
	}
	// fixed-width HH:MM compares correctly as strings
	if end <= start {
		return appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "date must be a valid YYYY-MM-DD calendar date")
	}
	return parsed, nil
}
