package dto

import (
	"time"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// ScheduleRequest places an observation on the calendar.
type ScheduleRequest struct {
	LessonPlanID string `json:"lesson_plan_id"`
	TraineeID    string `json:"trainee_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

// ObservationQuery carries list parameters.
type ObservationQuery struct {
	Page      int
	Limit     int
	Status    models.ObservationStatus
	TraineeID string
}

// ObservationView is a normalized schedule ready for display.
type ObservationView struct {
	ID              string                   `json:"id"`
	TraineeID       string                   `json:"trainee_id"`
	TraineeName     string                   `json:"trainee_name"`
	SupervisorID    string                   `json:"supervisor_id"`
	LessonPlanID    string                   `json:"lesson_plan_id"`
	LessonPlanTitle string                   `json:"lesson_plan_title"`
	Date            string                   `json:"date"`
	StartTime       string                   `json:"start_time"`
	EndTime         string                   `json:"end_time"`
	Status          models.ObservationStatus `json:"status"`
	HasFeedback     bool                     `json:"has_feedback"`
	CreatedAt       time.Time                `json:"created_at"`
}

// StatusUpdateRequest advances an observation.
type StatusUpdateRequest struct {
	Status models.ObservationStatus `json:"status"`
}

// FeedbackRequest scores a completed observation.
type FeedbackRequest struct {
	Score    *int   `json:"score"`
	Comments string `json:"comments"`
}

// ImportRowError describes why one CSV row was not scheduled.
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarizes a bulk scheduling import. Rows that succeeded stay
// scheduled even when others fail.
type ImportResult struct {
	Imported int              `json:"imported"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors"`
}
