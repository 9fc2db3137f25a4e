package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
)

func reportsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Export lesson plans, observations or feedback",
	}
	cmd.AddCommand(reportsGenerateCmd(s))
	cmd.AddCommand(reportsStatusCmd(s))
	return cmd
}

func reportsGenerateCmd(s *session) *cobra.Command {
	var (
		reportType string
		format     string
		from, to   string
		trainee    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Queue an export job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			req := dto.ReportRequest{
				Type:   models.ReportType(strings.ToLower(reportType)),
				Format: models.ReportFormat(strings.ToLower(format)),
				From:   from,
				To:     to,
			}
			if trainee != "" {
				req.TraineeID = &trainee
			}
			job, err := client.GenerateReport(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report %s %s\n", job.ID, statusLabel(string(job.Status)))
			return nil
		},
	}
	cmd.Flags().StringVar(&reportType, "type", string(models.ReportTypeObservations), "lesson_plans, observations or feedback")
	cmd.Flags().StringVar(&format, "format", string(models.ReportFormatCSV), "csv or pdf")
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD")
	cmd.Flags().StringVar(&trainee, "trainee", "", "limit to one trainee")
	return cmd
}

func reportsStatusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show progress of an export job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := s.Client()
			if err != nil {
				return err
			}
			status, err := client.ReportStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Report %s %s %d%%\n", status.ID, statusLabel(string(status.Status)), status.Progress)
			if status.ResultURL != nil {
				fmt.Fprintf(out, "download: %s\n", *status.ResultURL)
			}
			if status.Error != nil {
				fmt.Fprintf(out, "error: %s\n", *status.Error)
			}
			return nil
		},
	}
}
