package tpclient

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// Reviewer drives the two-phase approval of a lesson plan: a decision first,
// then a confirmation that approves and schedules in one request.
type Reviewer struct {
	client *Client
}

// NewReviewer wraps client.
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

// Decide records a rejection, or returns the schedule proposal of an approval
// without persisting anything.
func (r *Reviewer) Decide(ctx context.Context, id string, decision dto.ReviewRequest) (*dto.ReviewResult, error) {
	return r.client.ReviewLessonPlan(ctx, id, decision)
}

// Confirm approves the plan and creates its observation. When the server
// rejects the confirmation the plan is re-fetched so the caller can show the
// authoritative state next to the error. Input rejected locally is returned
// without any request.
func (r *Reviewer) Confirm(ctx context.Context, id string, req dto.ApproveRequest) (*dto.ApprovalResult, *models.LessonPlan, error) {
	if err := validateApproval(req); err != nil {
		return nil, nil, err
	}
	result, err := r.client.ApproveLessonPlan(ctx, id, req)
	if err == nil {
		return result, result.LessonPlan, nil
	}

	plan, fetchErr := r.client.GetLessonPlan(ctx, id)
	if fetchErr != nil {
		r.client.logger.Warn("reconcile lesson plan after failed approval",
			zap.String("lesson_plan_id", id),
			zap.Error(fetchErr),
		)
		return nil, nil, errors.Join(err, fetchErr)
	}
	return nil, plan, err
}

// ScheduleFromProposal turns an approval proposal into the schedule to confirm.
func ScheduleFromProposal(p *dto.ScheduleProposal) dto.ScheduleRequest {
	if p == nil {
		return dto.ScheduleRequest{}
	}
	return dto.ScheduleRequest{
		LessonPlanID: p.LessonPlanID,
		TraineeID:    p.TraineeID,
		Date:         p.Date,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
	}
}
