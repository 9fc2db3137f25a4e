package dto

import (
	"time"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/lessonmd"
)

// LessonPlanRequest is the create/update payload for a lesson plan.
type LessonPlanRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Subject      string `json:"subject" validate:"required,max=100"`
	ClassName    string `json:"class_name" validate:"required,max=100"`
	Topic        string `json:"topic" validate:"max=200"`
	Duration     string `json:"duration" validate:"max=50"`
	TeachingAids string `json:"teaching_aids"`
	Date         string `json:"date" validate:"required"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	Objectives   string `json:"objectives"`
	Activities   string `json:"activities"`
	Resources    string `json:"resources"`
	AIGenerated  bool   `json:"ai_generated"`
}

// LessonPlanQuery carries list parameters.
type LessonPlanQuery struct {
	Page      int
	Limit     int
	Subject   string
	Status    models.LessonPlanStatus
	Search    string
	SortBy    string
	SortOrder string
}

// GenerateLessonPlanRequest is a chat turn sent to the lesson plan assistant.
type GenerateLessonPlanRequest struct {
	Message        string `json:"message" validate:"required"`
	ConversationID string `json:"conversation_id"`
}

// GenerateLessonPlanResponse returns the assistant markdown and the fields parsed from it.
type GenerateLessonPlanResponse struct {
	ConversationID string         `json:"conversation_id"`
	Markdown       string         `json:"markdown"`
	Draft          lessonmd.Draft `json:"draft"`
}

// LessonPlanDocument points at a rendered lesson plan PDF.
type LessonPlanDocument struct {
	LessonPlanID string    `json:"lesson_plan_id"`
	URL          string    `json:"url"`
	ExpiresAt    time.Time `json:"expires_at"`
}
