package models

import "time"

// ObservationStatus moves strictly forward SCHEDULED -> ONGOING -> COMPLETED.
type ObservationStatus string

const (
	ObservationStatusScheduled ObservationStatus = "SCHEDULED"
	ObservationStatusOngoing   ObservationStatus = "ONGOING"
	ObservationStatusCompleted ObservationStatus = "COMPLETED"
)

// Valid reports whether the status belongs to the known set.
func (s ObservationStatus) Valid() bool {
	switch s {
	case ObservationStatusScheduled, ObservationStatusOngoing, ObservationStatusCompleted:
		return true
	default:
		return false
	}
}

// ObservationSchedule is a planned supervisor visit.
type ObservationSchedule struct {
	ID           string            `db:"id" json:"id"`
	TraineeID    string            `db:"trainee_id" json:"trainee_id"`
	SupervisorID string            `db:"supervisor_id" json:"supervisor_id"`
	LessonPlanID string            `db:"lesson_plan_id" json:"lesson_plan_id"`
	Date         string            `db:"date" json:"date"`
	StartTime    string            `db:"start_time" json:"start_time"`
	EndTime      string            `db:"end_time" json:"end_time"`
	Status       ObservationStatus `db:"status" json:"status"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// ObservationDetail is a schedule joined to display fields.
type ObservationDetail struct {
	ObservationSchedule
	TraineeName     *string `db:"trainee_name" json:"trainee_name"`
	LessonPlanTitle *string `db:"lesson_plan_title" json:"lesson_plan_title"`
	HasFeedback     bool    `db:"has_feedback" json:"has_feedback"`
}

// ObservationFilter narrows schedule listings.
type ObservationFilter struct {
	TraineeID    string
	SupervisorID string
	Status       ObservationStatus
	Page         int
	PageSize     int
}

// ObservationFeedback is the single assessment attached to a completed schedule.
type ObservationFeedback struct {
	ID           string    `db:"id" json:"id"`
	ScheduleID   string    `db:"schedule_id" json:"schedule_id"`
	TraineeID    string    `db:"trainee_id" json:"trainee_id"`
	SupervisorID string    `db:"supervisor_id" json:"supervisor_id"`
	LessonPlanID string    `db:"lesson_plan_id" json:"lesson_plan_id"`
	Score        int       `db:"score" json:"score"`
	Comments     string    `db:"comments" json:"comments"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
