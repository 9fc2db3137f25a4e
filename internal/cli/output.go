package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

func statusLabel(status string) string {
	switch status {
	case string(models.LessonPlanStatusApproved), string(models.ObservationStatusCompleted), string(models.ReportStatusFinished):
		return color.New(color.FgHiGreen).Sprint(status)
	case string(models.LessonPlanStatusRejected), string(models.ReportStatusFailed):
		return color.New(color.FgRed).Sprint(status)
	case string(models.ObservationStatusOngoing), string(models.ReportStatusProcessing):
		return color.New(color.FgHiBlue).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

func printPagination(w io.Writer, p models.Pagination) {
	fmt.Fprintln(w, color.New(color.FgHiBlack).Sprintf("page %d of %d (%d total)", p.Page, p.TotalPages, p.TotalCount))
}

func printLessonPlans(w io.Writer, page *tpclient.LessonPlanPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(w, "No lesson plans found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSUBJECT\tDATE\tTIME\tSTATUS")
	for _, plan := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s-%s\t%s\n", plan.ID, plan.Title, plan.Subject, plan.Date, plan.StartTime, plan.EndTime, statusLabel(string(plan.Status)))
	}
	_ = tw.Flush()
	printPagination(w, page.Pagination)
}

func printObservations(w io.Writer, items []dto.ObservationView, pagination models.Pagination) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No observations found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRAINEE\tLESSON PLAN\tDATE\tTIME\tSTATUS\tFEEDBACK")
	for _, item := range items {
		feedback := "-"
		if item.HasFeedback {
			feedback = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s-%s\t%s\t%s\n", item.ID, item.TraineeName, item.LessonPlanTitle, item.Date, item.StartTime, item.EndTime, statusLabel(string(item.Status)), feedback)
	}
	_ = tw.Flush()
	printPagination(w, pagination)
}

func printObservation(w io.Writer, verb string, item *dto.ObservationView) {
	fmt.Fprintf(w, "%s observation %s for %s on %s %s-%s [%s]\n", verb, item.ID, item.TraineeName, item.Date, item.StartTime, item.EndTime, statusLabel(string(item.Status)))
}

func printProposal(w io.Writer, p *dto.ScheduleProposal) {
	fmt.Fprintln(w, color.New(color.Bold).Sprint("Approval proposal (nothing saved yet):"))
	fmt.Fprintf(w, "  lesson plan: %s %s\n", p.LessonPlanID, p.Title)
	fmt.Fprintf(w, "  trainee:     %s %s\n", p.TraineeID, p.TraineeName)
	fmt.Fprintf(w, "  observation: %s %s-%s\n", p.Date, p.StartTime, p.EndTime)
}
