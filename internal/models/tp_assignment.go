package models

import "time"

// TPAssignment places a trainee at a school under a supervisor.
type TPAssignment struct {
	ID           string    `db:"id" json:"id"`
	TraineeID    string    `db:"trainee_id" json:"trainee_id"`
	SupervisorID string    `db:"supervisor_id" json:"supervisor_id"`
	SchoolName   string    `db:"school_name" json:"school_name"`
	StartDate    string    `db:"start_date" json:"start_date"`
	EndDate      *string   `db:"end_date" json:"end_date,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TPAssignmentFilter narrows placement listings. Empty fields match everything.
type TPAssignmentFilter struct {
	TraineeID    string
	SupervisorID string
}
