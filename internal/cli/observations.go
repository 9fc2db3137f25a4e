package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

// boardPageSize bounds how many schedules advance loads to find its target.
const boardPageSize = 100

func observationsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "observations",
		Aliases: []string{"obs"},
		Short:   "Schedule and run teaching practice observations",
	}
	cmd.AddCommand(observationsListCmd(s))
	cmd.AddCommand(observationsScheduleCmd(s))
	cmd.AddCommand(observationsAdvanceCmd(s))
	cmd.AddCommand(observationsFeedbackCmd(s))
	cmd.AddCommand(observationsImportCmd(s))
	return cmd
}

func observationsListCmd(s *session) *cobra.Command {
	var query dto.ObservationQuery
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List observation schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			query.Status = models.ObservationStatus(strings.ToUpper(status))
			page, err := tpclient.NewFetcher(client, 0).Observations(cmd.Context(), query)
			if err != nil {
				return err
			}
			printObservations(cmd.OutOrStdout(), page.Items, page.Pagination)
			return nil
		},
	}
	cmd.Flags().IntVar(&query.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "page size (server default when 0)")
	cmd.Flags().StringVar(&status, "status", "", "SCHEDULED, ONGOING or COMPLETED")
	cmd.Flags().StringVar(&query.TraineeID, "trainee", "", "trainee id")
	return cmd
}

func observationsScheduleCmd(s *session) *cobra.Command {
	var req dto.ScheduleRequest

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule an observation outside the approval flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			view, err := client.ScheduleObservation(cmd.Context(), req)
			if err != nil {
				return err
			}
			printObservation(cmd.OutOrStdout(), "Scheduled", view)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.LessonPlanID, "lesson-plan", "", "lesson plan id")
	cmd.Flags().StringVar(&req.TraineeID, "trainee", "", "trainee id")
	cmd.Flags().StringVar(&req.Date, "date", "", "date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.StartTime, "start", "", "start HH:MM")
	cmd.Flags().StringVar(&req.EndTime, "end", "", "end HH:MM")
	return cmd
}

func observationsAdvanceCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <observation-id>",
		Short: "Move an observation to its next status",
		Long:  "SCHEDULED becomes ONGOING and ONGOING becomes COMPLETED.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			board := tpclient.NewBoard(client)
			if err := board.Load(cmd.Context(), dto.ObservationQuery{Page: 1, Limit: boardPageSize}); err != nil {
				return err
			}
			before, _ := board.Get(args[0])
			view, err := board.Advance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Observation %s %s -> %s\n", view.ID, statusLabel(string(before.Status)), statusLabel(string(view.Status)))
			return nil
		},
	}
}

func observationsFeedbackCmd(s *session) *cobra.Command {
	var (
		score    int
		comments string
		show     bool
	)

	cmd := &cobra.Command{
		Use:   "feedback <observation-id>",
		Short: "Submit or show feedback for a completed observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show {
				feedback, err := client.GetFeedback(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "score: %d/10\ncomments: %s\n", feedback.Score, feedback.Comments)
				return nil
			}
			req := dto.FeedbackRequest{Comments: comments}
			if cmd.Flags().Changed("score") {
				req.Score = &score
			}
			feedback, err := client.SubmitFeedback(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Feedback %s recorded with score %d/10\n", feedback.ID, feedback.Score)
			return nil
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "score 0-10")
	cmd.Flags().StringVar(&comments, "comments", "", "feedback comments")
	cmd.Flags().BoolVar(&show, "show", false, "print existing feedback instead of submitting")
	return cmd
}

func observationsImportCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk schedule observations from a CSV file",
		Long: `The CSV header must contain lesson_plan_id, trainee_id, date, start_time and
end_time. Valid rows are scheduled even when other rows fail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer file.Close()

			res, err := client.ImportObservations(cmd.Context(), file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %s, failed %s\n",
				color.New(color.FgHiGreen).Sprint(res.Imported),
				color.New(color.FgRed).Sprint(res.Failed))
			for _, rowErr := range res.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", rowErr.Row, rowErr.Message)
			}
			return nil
		},
	}
}
