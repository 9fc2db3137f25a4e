package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

// scheduleFlags override the observation slot proposed for an approval.
type scheduleFlags struct {
	date, start, end string
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "observation date YYYY-MM-DD (defaults to the lesson plan date)")
	cmd.Flags().StringVar(&f.start, "start", "", "observation start HH:MM")
	cmd.Flags().StringVar(&f.end, "end", "", "observation end HH:MM")
}

func (f *scheduleFlags) apply(req *dto.ScheduleRequest) {
	if f.date != "" {
		req.Date = f.date
	}
	if f.start != "" {
		req.StartTime = f.start
	}
	if f.end != "" {
		req.EndTime = f.end
	}
}

func optionalScore(cmd *cobra.Command, value int) *int {
	if !cmd.Flags().Changed("score") {
		return nil
	}
	return &value
}

func plansCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plans",
		Aliases: []string{"lesson-plans"},
		Short:   "List and review lesson plans",
	}
	cmd.AddCommand(plansListCmd(s))
	cmd.AddCommand(plansReviewCmd(s))
	cmd.AddCommand(plansApproveCmd(s))
	return cmd
}

func plansListCmd(s *session) *cobra.Command {
	var query dto.LessonPlanQuery
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lesson plans visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			query.Status = models.LessonPlanStatus(strings.ToUpper(status))
			fetcher := tpclient.NewFetcher(client, 0)
			var page *tpclient.LessonPlanPage
			if query.Search != "" {
				page, err = fetcher.SearchLessonPlans(cmd.Context(), query)
			} else {
				page, err = fetcher.LessonPlans(cmd.Context(), query)
			}
			if err != nil {
				return err
			}
			printLessonPlans(cmd.OutOrStdout(), page)
			return nil
		},
	}
	cmd.Flags().IntVar(&query.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().StringVar(&status, "status", "", "PENDING, SUBMITTED, APPROVED or REJECTED")
	cmd.Flags().StringVar(&query.Subject, "subject", "", "subject filter")
	cmd.Flags().StringVar(&query.Search, "search", "", "free text search")
	cmd.Flags().StringVar(&query.SortBy, "sort", "", "sort column")
	cmd.Flags().StringVar(&query.SortOrder, "order", "", "asc or desc")
	return cmd
}

func plansReviewCmd(s *session) *cobra.Command {
	var (
		decision string
		comments string
		score    int
		confirm  bool
		slot     scheduleFlags
	)

	cmd := &cobra.Command{
		Use:   "review <lesson-plan-id>",
		Short: "Approve or reject a lesson plan awaiting review",
		Long: `Records a review decision. A rejection is saved immediately. An approval
only returns the proposed observation slot; pass --confirm to approve and
schedule in one step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			reviewer := tpclient.NewReviewer(client)
			out := cmd.OutOrStdout()

			result, err := reviewer.Decide(cmd.Context(), args[0], dto.ReviewRequest{
				Status:   models.LessonPlanStatus(strings.ToUpper(decision)),
				Comments: comments,
				Score:    optionalScore(cmd, score),
			})
			if err != nil {
				return err
			}
			if result.Proposal == nil {
				fmt.Fprintf(out, "Lesson plan %s %s\n", args[0], statusLabel(string(models.LessonPlanStatusRejected)))
				return nil
			}
			printProposal(out, result.Proposal)
			if !confirm {
				fmt.Fprintln(out, "Run again with --confirm to approve and schedule.")
				return nil
			}

			schedule := tpclient.ScheduleFromProposal(result.Proposal)
			slot.apply(&schedule)
			return confirmApproval(cmd, reviewer, args[0], dto.ApproveRequest{
				Comments: comments,
				Score:    optionalScore(cmd, score),
				Schedule: schedule,
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "APPROVED or REJECTED")
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	cmd.Flags().IntVar(&score, "score", 0, "optional score 0-10")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm an approval and create the observation")
	slot.register(cmd)
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("comments")
	return cmd
}

func plansApproveCmd(s *session) *cobra.Command {
	var (
		comments string
		score    int
		slot     scheduleFlags
	)

	cmd := &cobra.Command{
		Use:   "approve <lesson-plan-id>",
		Short: "Approve a lesson plan and schedule its observation",
		Long: `Approves and schedules in a single request. The observation slot defaults
to the date and time written on the lesson plan.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			plan, err := client.GetLessonPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			schedule := dto.ScheduleRequest{
				LessonPlanID: plan.ID,
				TraineeID:    plan.TraineeID,
				Date:         plan.Date,
				StartTime:    plan.StartTime,
				EndTime:      plan.EndTime,
			}
			slot.apply(&schedule)
			return confirmApproval(cmd, tpclient.NewReviewer(client), args[0], dto.ApproveRequest{
				Comments: comments,
				Score:    optionalScore(cmd, score),
				Schedule: schedule,
			})
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	cmd.Flags().IntVar(&score, "score", 0, "optional score 0-10")
	slot.register(cmd)
	_ = cmd.MarkFlagRequired("comments")
	return cmd
}

func confirmApproval(cmd *cobra.Command, reviewer *tpclient.Reviewer, id string, req dto.ApproveRequest) error {
	out := cmd.OutOrStdout()
	result, plan, err := reviewer.Confirm(cmd.Context(), id, req)
	if err != nil {
		if plan != nil {
			fmt.Fprintf(out, "Lesson plan %s is now %s\n", plan.ID, statusLabel(string(plan.Status)))
		}
		return err
	}
	fmt.Fprintf(out, "Lesson plan %s %s\n", id, color.New(color.FgHiGreen).Sprint("APPROVED"))
	if result.Schedule != nil {
		printObservation(out, "Scheduled", result.Schedule)
	}
	return nil
}
