package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/lessonmd"
)

const maxAssistantResponseBytes = 1 << 20

// AssistantConfig points the service at the lesson plan generator.
type AssistantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// AssistantService relays trainee prompts to the AI generator and parses
// the returned markdown into a draft lesson plan.
type AssistantService struct {
	client    *http.Client
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AssistantConfig
}

type assistantRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type assistantReply struct {
	ConversationID string `json:"conversation_id"`
	Markdown       string `json:"markdown"`
	Response       string `json:"response"`
}

// NewAssistantService constructs the service. A nil client gets one bound to cfg.Timeout.
func NewAssistantService(client *http.Client, validate *validator.Validate, logger *zap.Logger, cfg AssistantConfig) *AssistantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &AssistantService{client: client, validator: validate, logger: logger, cfg: cfg}
}

// Generate sends one chat turn. The conversation id is passed through so the
// generator can keep context across turns.
func (s *AssistantService) Generate(ctx context.Context, req dto.GenerateLessonPlanRequest, actor *models.JWTClaims) (*dto.GenerateLessonPlanResponse, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacherTrainee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only trainees can generate lesson plans")
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "message is required")
	}
	if s.cfg.URL == "" {
		return nil, appErrors.Clone(appErrors.ErrUpstream, "lesson plan assistant is not configured")
	}

	body, err := json.Marshal(assistantRequest{Message: req.Message, ConversationID: req.ConversationID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode assistant request")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build assistant request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("assistant request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "lesson plan assistant is unavailable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAssistantResponseBytes))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to read assistant response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("assistant returned error status", zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(start)))
		return nil, appErrors.Clone(appErrors.ErrUpstream, fmt.Sprintf("lesson plan assistant responded with status %d", resp.StatusCode))
	}

	var reply assistantReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "assistant response is not valid JSON")
	}
	markdown := reply.Markdown
	if markdown == "" {
		markdown = reply.Response
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, appErrors.Clone(appErrors.ErrUpstream, "lesson plan assistant returned an empty answer")
	}
	conversationID := reply.ConversationID
	if conversationID == "" {
		conversationID = req.ConversationID
	}

	s.logger.Info("lesson plan generated",
		zap.String("trainee_id", actor.UserID),
		zap.String("conversation_id", conversationID),
		zap.Duration("duration", time.Since(start)),
	)
	return &dto.GenerateLessonPlanResponse{
		ConversationID: conversationID,
		Markdown:       markdown,
		Draft:          lessonmd.Parse(markdown),
	}, nil
}
