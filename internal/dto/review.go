package dto

import "github.com/noah-isme/tp-workflow-api/internal/models"

// ReviewRequest is a supervisor decision on a lesson plan.
type ReviewRequest struct {
	Status   models.LessonPlanStatus `json:"status"`
	Comments string                  `json:"comments"`
	Score    *int                    `json:"score,omitempty"`
}

// ScheduleProposal pre-fills the observation that an approval will create.
type ScheduleProposal struct {
	LessonPlanID string `json:"lesson_plan_id"`
	TraineeID    string `json:"trainee_id"`
	TraineeName  string `json:"trainee_name"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

// ReviewResult is returned by a review. Rejections carry the stored review;
// approvals carry only the proposal since nothing is persisted yet.
type ReviewResult struct {
	LessonPlan *models.LessonPlan       `json:"lesson_plan"`
	Review     *models.LessonPlanReview `json:"review,omitempty"`
	Proposal   *ScheduleProposal        `json:"proposal,omitempty"`
}

// ApproveRequest confirms an approval together with its observation schedule.
type ApproveRequest struct {
	Comments string          `json:"comments"`
	Score    *int            `json:"score,omitempty"`
	Schedule ScheduleRequest `json:"schedule"`
}

// ApprovalResult is the outcome of a confirmed approval.
type ApprovalResult struct {
	LessonPlan *models.LessonPlan       `json:"lesson_plan"`
	Review     *models.LessonPlanReview `json:"review"`
	Schedule   *ObservationView         `json:"schedule"`
}
