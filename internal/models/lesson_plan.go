package models

import "time"

// LessonPlanStatus is the review state of a lesson plan. SUBMITTED is only
// produced by trainee-facing tooling and is treated as awaiting review.
type LessonPlanStatus string

const (
	LessonPlanStatusPending   LessonPlanStatus = "PENDING"
	LessonPlanStatusSubmitted LessonPlanStatus = "SUBMITTED"
	LessonPlanStatusApproved  LessonPlanStatus = "APPROVED"
	LessonPlanStatusRejected  LessonPlanStatus = "REJECTED"
)

// Valid reports whether the status belongs to the known set.
func (s LessonPlanStatus) Valid() bool {
	switch s {
	case LessonPlanStatusPending, LessonPlanStatusSubmitted, LessonPlanStatusApproved, LessonPlanStatusRejected:
		return true
	default:
		return false
	}
}

// AwaitingReview reports whether a reviewer may still decide on the plan.
func (s LessonPlanStatus) AwaitingReview() bool {
	return s == LessonPlanStatusPending || s == LessonPlanStatusSubmitted
}

// LessonPlan is a trainee-authored teaching document.
type LessonPlan struct {
	ID           string           `db:"id" json:"id"`
	TraineeID    string           `db:"trainee_id" json:"trainee_id"`
	Title        string           `db:"title" json:"title"`
	Subject      string           `db:"subject" json:"subject"`
	ClassName    string           `db:"class_name" json:"class_name"`
	Topic        string           `db:"topic" json:"topic"`
	Duration     string           `db:"duration" json:"duration"`
	TeachingAids string           `db:"teaching_aids" json:"teaching_aids"`
	Date         string           `db:"date" json:"date"`
	StartTime    string           `db:"start_time" json:"start_time"`
	EndTime      string           `db:"end_time" json:"end_time"`
	Objectives   string           `db:"objectives" json:"objectives"`
	Activities   string           `db:"activities" json:"activities"`
	Resources    string           `db:"resources" json:"resources"`
	Status       LessonPlanStatus `db:"status" json:"status"`
	AIGenerated  bool             `db:"ai_generated" json:"ai_generated"`
	DocumentRef  *string          `db:"document_ref" json:"document_ref,omitempty"`
	TraineeName  *string          `db:"trainee_name" json:"trainee_name,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// LessonPlanFilter narrows lesson plan listings.
type LessonPlanFilter struct {
	TraineeID string
	Subject   string
	Status    LessonPlanStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// LessonPlanReview records one supervisor decision on a plan.
type LessonPlanReview struct {
	ID           string           `db:"id" json:"id"`
	LessonPlanID string           `db:"lesson_plan_id" json:"lesson_plan_id"`
	SupervisorID string           `db:"supervisor_id" json:"supervisor_id"`
	Status       LessonPlanStatus `db:"status" json:"status"`
	Comments     string           `db:"comments" json:"comments"`
	Score        *int             `db:"score" json:"score,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}
