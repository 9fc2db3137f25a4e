package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/export"
	"github.com/noah-isme/tp-workflow-api/pkg/storage"
)

type visiblePlanReader interface {
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.LessonPlan, error)
}

type documentRefStore interface {
	FindByID(ctx context.Context, id string) (*models.LessonPlan, error)
	SetDocumentRef(ctx context.Context, id, ref string) error
}

type reviewLister interface {
	ListByLessonPlan(ctx context.Context, lessonPlanID string) ([]models.LessonPlanReview, error)
}

type documentRenderer interface {
	RenderDocument(doc export.Document) ([]byte, error)
}

type documentStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

// DocumentDownload is a resolved lesson plan PDF.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// DocumentService renders lesson plans to PDF and hands out signed links.
type DocumentService struct {
	plans     visiblePlanReader
	refs      documentRefStore
	reviews   reviewLister
	renderer  documentRenderer
	storage   documentStorage
	signer    *storage.SignedURLSigner
	apiPrefix string
	logger    *zap.Logger
}

// NewDocumentService constructs the service.
func NewDocumentService(plans visiblePlanReader, refs documentRefStore, reviews reviewLister, renderer documentRenderer, store documentStorage, signer *storage.SignedURLSigner, apiPrefix string, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewPDFExporter()
	}
	return &DocumentService{
		plans:     plans,
		refs:      refs,
		reviews:   reviews,
		renderer:  renderer,
		storage:   store,
		signer:    signer,
		apiPrefix: apiPrefix,
		logger:    logger,
	}
}

// Generate renders the plan, stores the file and records it as the plan's
// document. The file is re-rendered on every call so it reflects edits.
func (s *DocumentService) Generate(ctx context.Context, id string, actor *models.JWTClaims) (*dto.LessonPlanDocument, error) {
	plan, err := s.plans.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	var latest *models.LessonPlanReview
	if s.reviews != nil {
		reviews, err := s.reviews.ListByLessonPlan(ctx, plan.ID)
		if err != nil {
			s.logger.Warn("failed to load reviews for document", zap.String("lesson_plan_id", plan.ID), zap.Error(err))
		} else if len(reviews) > 0 {
			latest = &reviews[0]
		}
	}

	payload, err := s.renderer.RenderDocument(lessonPlanDocument(plan, latest))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render lesson plan")
	}
	relPath, err := s.storage.Save(documentPath(plan.ID), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store lesson plan document")
	}
	if err := s.refs.SetDocumentRef(ctx, plan.ID, relPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record lesson plan document")
	}
	token, expiresAt, err := s.signer.Generate(plan.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document link")
	}

	s.logger.Info("lesson plan document generated", zap.String("lesson_plan_id", plan.ID), zap.Int("bytes", len(payload)))
	return &dto.LessonPlanDocument{
		LessonPlanID: plan.ID,
		URL:          downloadURL(s.apiPrefix, "documents", token),
		ExpiresAt:    expiresAt,
	}, nil
}

// Resolve validates a document token. A token stops working once the plan
// has been deleted or its document path changed.
func (s *DocumentService) Resolve(ctx context.Context, token string) (*DocumentDownload, error) {
	planID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "document link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid document token")
	}
	plan, err := s.refs.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson plan")
	}
	if plan.DocumentRef == nil || *plan.DocumentRef != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "document link no longer valid")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "document is no longer available")
	}
	return &DocumentDownload{File: file, Filename: documentFilename(plan), ExpiresAt: expiresAt}, nil
}

func documentPath(planID string) string {
	return fmt.Sprintf("lesson-plans/%s.pdf", planID)
}

func documentFilename(plan *models.LessonPlan) string {
	name := sanitizeFilename(strings.ToLower(strings.TrimSpace(plan.Title)))
	if name == "na" || name == "" {
		return filepath.Base(documentPath(plan.ID))
	}
	return name + ".pdf"
}

func lessonPlanDocument(plan *models.LessonPlan, review *models.LessonPlanReview) export.Document {
	normalized := workflow.NormalizeSchedule(plan.Date, plan.StartTime, plan.EndTime, plan.TraineeName, &plan.Title)
	doc := export.Document{
		Title: normalized.LessonPlanTitle,
		Fields: []export.Field{
			{Label: "Trainee", Value: normalized.TraineeName},
			{Label: "Subject", Value: plan.Subject},
			{Label: "Class", Value: plan.ClassName},
			{Label: "Topic", Value: plan.Topic},
			{Label: "Date", Value: normalized.Date},
			{Label: "Time", Value: normalized.StartTime + " - " + normalized.EndTime},
			{Label: "Duration", Value: plan.Duration},
			{Label: "Teaching Aids", Value: plan.TeachingAids},
		},
		Sections: []export.Section{
			{Heading: "Behavioral Objectives", Body: plan.Objectives},
			{Heading: "Presentation and Development", Body: plan.Activities},
			{Heading: "Resources", Body: plan.Resources},
		},
		Footer: "Status: " + string(plan.Status),
	}
	if review != nil {
		body := review.Comments
		if review.Score != nil {
			body = fmt.Sprintf("Score: %d/%d\n%s", *review.Score, workflow.MaxScore, body)
		}
		doc.Sections = append(doc.Sections, export.Section{Heading: "Supervisor Review (" + string(review.Status) + ")", Body: body})
	}
	if plan.AIGenerated {
		doc.Footer += " | AI assisted"
	}
	return doc
}
