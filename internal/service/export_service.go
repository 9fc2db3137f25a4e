package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	"github.com/noah-isme/tp-workflow-api/pkg/export"
	"github.com/noah-isme/tp-workflow-api/pkg/storage"
)

type lessonPlanExportSource interface {
	ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.LessonPlan, error)
}

type observationExportSource interface {
	ListBetween(ctx context.Context, from, to string, traineeID *string) ([]models.ObservationDetail, error)
	ListFeedbackBetween(ctx context.Context, from, to string, traineeID *string) ([]repository.FeedbackRow, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ErrUnsupportedReport marks jobs whose type or format cannot be rendered.
var ErrUnsupportedReport = errors.New("unsupported report")

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
	Rows         int
}

// ExportService builds workflow datasets and persists rendered files.
type ExportService struct {
	plans        lessonPlanExportSource
	observations observationExportSource
	storage      fileStorage
	csv          csvRenderer
	pdf          pdfRenderer
	signer       *storage.SignedURLSigner
	logger       *zap.Logger
	cfg          ExportConfig
	now          func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(plans lessonPlanExportSource, observations observationExportSource, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		plans:        plans,
		observations: observations,
		storage:      store,
		csv:          csv,
		pdf:          pdf,
		signer:       signer,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Generate renders the job's dataset in the requested format and stores it
// under a signed download token.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, errors.New("generate report: nil job")
	}
	build, ok := s.builders()[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedReport, job.Type)
	}
	render, ok := s.renderers()[job.Params.Format]
	if !ok {
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedReport, job.Params.Format)
	}

	dataset, err := build.rows(ctx, job.Params)
	if err != nil {
		return nil, fmt.Errorf("collect %s rows: %w", job.Type, err)
	}
	payload, err := render(dataset, periodTitle(build.title, job.Params))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Params.Format, err)
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("report rendered",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("format", string(job.Params.Format)),
		zap.Int("rows", len(dataset.Rows)),
		zap.Int("bytes", len(payload)),
	)
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          downloadURL(s.cfg.APIPrefix, "export", token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
		Rows:         len(dataset.Rows),
	}, nil
}

type datasetBuilder struct {
	title string
	rows  func(ctx context.Context, params models.ReportJobParams) (export.Dataset, error)
}

func (s *ExportService) builders() map[models.ReportType]datasetBuilder {
	return map[models.ReportType]datasetBuilder{
		models.ReportTypeLessonPlans:  {title: "Lesson Plans", rows: s.lessonPlanRows},
		models.ReportTypeObservations: {title: "Observations", rows: s.observationRows},
		models.ReportTypeFeedback:     {title: "Observation Feedback", rows: s.feedbackRows},
	}
}

type renderFunc func(data export.Dataset, title string) ([]byte, error)

func (s *ExportService) renderers() map[models.ReportFormat]renderFunc {
	return map[models.ReportFormat]renderFunc{
		models.ReportFormatCSV: func(data export.Dataset, _ string) ([]byte, error) { return s.csv.Render(data) },
		models.ReportFormatPDF: s.pdf.Render,
	}
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	scope := "all"
	if job.Params.TraineeID != nil && *job.Params.TraineeID != "" {
		scope = sanitizeFilename(*job.Params.TraineeID)
	}
	return fmt.Sprintf("reports/%s_%s_%s_%s_%s.%s",
		job.Type,
		sanitizeFilename(job.Params.From),
		sanitizeFilename(job.Params.To),
		scope,
		timestamp,
		job.Params.Format,
	)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) lessonPlanRows(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	plans, err := s.plans.ListBetween(ctx, params.From, params.To, params.TraineeID)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([]map[string]string, 0, len(plans))
	for _, plan := range plans {
		normalized := workflow.NormalizeSchedule(plan.Date, plan.StartTime, plan.EndTime, plan.TraineeName, &plan.Title)
		rows = append(rows, map[string]string{
			"Date":         normalized.Date,
			"Time":         normalized.StartTime + "-" + normalized.EndTime,
			"Trainee":      normalized.TraineeName,
			"Title":        normalized.LessonPlanTitle,
			"Subject":      plan.Subject,
			"Class":        plan.ClassName,
			"Status":       string(plan.Status),
			"AI Generated": strconv.FormatBool(plan.AIGenerated),
		})
	}
	return export.Dataset{
		Headers: []string{"Date", "Time", "Trainee", "Title", "Subject", "Class", "Status", "AI Generated"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) observationRows(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	items, err := s.observations.ListBetween(ctx, params.From, params.To, params.TraineeID)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([]map[string]string, 0, len(items))
	for i := range items {
		view := observationViewFromDetail(&items[i])
		feedback := "no"
		if view.HasFeedback {
			feedback = "yes"
		}
		rows = append(rows, map[string]string{
			"Date":        view.Date,
			"Time":        view.StartTime + "-" + view.EndTime,
			"Trainee":     view.TraineeName,
			"Lesson Plan": view.LessonPlanTitle,
			"Status":      string(view.Status),
			"Feedback":    feedback,
		})
	}
	return export.Dataset{
		Headers: []string{"Date", "Time", "Trainee", "Lesson Plan", "Status", "Feedback"},
		Rows:    rows,
	}, nil
}

func (s *ExportService) feedbackRows(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	entries, err := s.observations.ListFeedbackBetween(ctx, params.From, params.To, params.TraineeID)
	if err != nil {
		return export.Dataset{}, err
	}
	rows := make([]map[string]string, 0, len(entries)+1)
	total := 0
	for _, entry := range entries {
		normalized := workflow.NormalizeSchedule(entry.Date, "", "", entry.TraineeName, entry.LessonPlanTitle)
		total += entry.Score
		rows = append(rows, map[string]string{
			"Date":        normalized.Date,
			"Trainee":     normalized.TraineeName,
			"Lesson Plan": normalized.LessonPlanTitle,
			"Score":       strconv.Itoa(entry.Score),
			"Comments":    entry.Comments,
		})
	}
	if len(entries) > 0 {
		rows = append(rows, map[string]string{
			"Trainee": "Average",
			"Score":   fmt.Sprintf("%.2f", float64(total)/float64(len(entries))),
		})
	}
	return export.Dataset{
		Headers: []string{"Date", "Trainee", "Lesson Plan", "Score", "Comments"},
		Rows:    rows,
	}, nil
}

func periodTitle(kind string, params models.ReportJobParams) string {
	return fmt.Sprintf("%s %s to %s", kind, params.From, params.To)
}

func downloadURL(prefix, route, token string) string {
	base := strings.TrimRight(prefix, "/")
	if base == "" {
		base = "/api/v1"
	}
	return fmt.Sprintf("%s/%s/%s", base, route, token)
}
