package workflow

import (
	"strings"

	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

// ScheduleInput is the data required to place an observation on the calendar.
type ScheduleInput struct {
	LessonPlanID string
	TraineeID    string
	Date         string
	StartTime    string
	EndTime      string
}

// ValidateScheduleInput applies the shared scheduling guard. Checks run in a
// fixed order: presence, calendar date, clock format, window ordering.
func ValidateScheduleInput(in ScheduleInput) error {
	if strings.TrimSpace(in.LessonPlanID) == "" ||
		strings.TrimSpace(in.TraineeID) == "" ||
		strings.TrimSpace(in.Date) == "" ||
		strings.TrimSpace(in.StartTime) == "" ||
		strings.TrimSpace(in.EndTime) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "lesson plan, trainee, date, start time and end time are required")
	}
	if _, err := ParseDate(in.Date); err != nil {
		return err
	}
	return ValidateTimeWindow(in.StartTime, in.EndTime)
}

// Scheduled display record fallbacks.
const (
	UnknownTrainee     = "Unknown Trainee"
	UntitledLessonPlan = "Untitled Lesson Plan"
)

// NormalizedSchedule is a schedule record prepared for display.
type NormalizedSchedule struct {
	Date            string
	StartTime       string
	EndTime         string
	TraineeName     string
	LessonPlanTitle string
}

// NormalizeSchedule trims server timestamps to YYYY-MM-DD and HH:MM and
// substitutes fallback names when joined data is missing.
func NormalizeSchedule(date, start, end string, traineeName, lessonPlanTitle *string) NormalizedSchedule {
	return NormalizedSchedule{
		Date:            NormalizeDate(date),
		StartTime:       NormalizeClock(start),
		EndTime:         NormalizeClock(end),
		TraineeName:     fallback(traineeName, UnknownTrainee),
		LessonPlanTitle: fallback(lessonPlanTitle, UntitledLessonPlan),
	}
}

// NormalizeDate cuts an ISO date-time down to its date part.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexAny(value, "T "); idx >= 0 {
		value = value[:idx]
	}
	return value
}

// NormalizeClock cuts HH:MM:SS (or a longer time) down to HH:MM.
func NormalizeClock(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "T"); idx >= 0 {
		value = value[idx+1:]
	}
	if len(value) > 5 && value[2] == ':' {
		return value[:5]
	}
	return value
}

func fallback(value *string, def string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return def
	}
	return strings.TrimSpace(*value)
}
