package dto

import (
	"time"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// ReportRequest is the payload of POST /reports/generate. Dates are YYYY-MM-DD.
type ReportRequest struct {
	Type      models.ReportType   `json:"type" binding:"required"`
	Format    models.ReportFormat `json:"format" binding:"required"`
	From      string              `json:"from" binding:"required"`
	To        string              `json:"to" binding:"required"`
	TraineeID *string             `json:"traineeId,omitempty"`
}

// ReportJob is the client view of an export job, returned when it is queued
// and whenever its progress is polled.
type ReportJob struct {
	ID         string              `json:"id"`
	Type       models.ReportType   `json:"type,omitempty"`
	Format     models.ReportFormat `json:"format,omitempty"`
	Status     models.ReportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"resultUrl,omitempty"`
	Error      *string             `json:"error,omitempty"`
	CreatedAt  *time.Time          `json:"createdAt,omitempty"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}

// NewReportJob projects a stored job. The download link is only exposed once
// the job finished and failure text only once it failed for good.
func NewReportJob(job *models.ReportJob) ReportJob {
	out := ReportJob{
		ID:         job.ID,
		Type:       job.Type,
		Format:     job.Params.Format,
		Status:     job.Status,
		Progress:   job.Progress,
		FinishedAt: job.FinishedAt,
	}
	if !job.CreatedAt.IsZero() {
		created := job.CreatedAt
		out.CreatedAt = &created
	}
	if job.Downloadable() {
		out.ResultURL = job.ResultURL
	}
	if job.Status == models.ReportStatusFailed && job.ErrorMessage != nil && *job.ErrorMessage != "" {
		out.Error = job.ErrorMessage
	}
	return out
}
