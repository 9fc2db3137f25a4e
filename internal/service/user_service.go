package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

const userResource = "users"

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Deactivate(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type sessionRevoker interface {
	RevokeUser(ctx context.Context, userID string, at time.Time) error
}

// CreateUserRequest represents payload for creating accounts.
type CreateUserRequest struct {
	Email      string          `json:"email" validate:"required,email"`
	FullName   string          `json:"full_name" validate:"required"`
	Identifier string          `json:"identifier" validate:"required,max=50"`
	Role       models.UserRole `json:"role" validate:"required,oneof=admin supervisor teacherTrainee"`
	Active     bool            `json:"active"`
	Password   string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating accounts.
type UpdateUserRequest struct {
	FullName   string          `json:"full_name" validate:"required"`
	Identifier string          `json:"identifier" validate:"required,max=50"`
	Role       models.UserRole `json:"role" validate:"required,oneof=admin supervisor teacherTrainee"`
	Active     *bool           `json:"active"`
}

// ResetPasswordRequest sets a new password chosen by an administrator.
type ResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// accountState is the audited part of an account.
type accountState struct {
	FullName   string          `json:"full_name,omitempty"`
	Identifier string          `json:"identifier"`
	Role       models.UserRole `json:"role"`
	Active     bool            `json:"active"`
}

func stateOf(u *models.User) accountState {
	return accountState{FullName: u.FullName, Identifier: u.Identifier, Role: u.Role, Active: u.Active}
}

// UserService lets administrators manage trainee, supervisor and admin accounts.
type UserService struct {
	repo      userRepository
	sessions  sessionRevoker
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions sessionRevoker, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:      repo,
		sessions:  sessions,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns paginated accounts and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role filter")
	}
	filter.Normalize()

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, buildPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns an account by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a new account. Email and identifier must both be unused.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.ClientInfo) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid create user payload")
	}

	if err := s.ensureUnused(ctx, "email", req.Email, s.repo.FindByEmail); err != nil {
		return nil, err
	}
	if err := s.ensureUnused(ctx, "identifier", req.Identifier, s.repo.FindByIdentifier); err != nil {
		return nil, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		Identifier:   req.Identifier,
		Role:         req.Role,
		Active:       req.Active,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email or identifier already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	after := stateOf(user)
	s.audit(ctx, models.NewAuditLog(actorID, models.AuditActionUserCreate, userResource, user.ID, meta).Diff(nil, after))
	return user, nil
}

// Update modifies the account attributes. Deactivating an account also ends its sessions.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.ClientInfo) (*models.User, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if id == actorID && req.Role != user.Role {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot change your own role")
	}
	if id == actorID && req.Active != nil && !*req.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}

	before := stateOf(user)
	user.FullName = strings.TrimSpace(req.FullName)
	user.Identifier = req.Identifier
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "identifier already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	if before.Active && !user.Active {
		s.endSessions(ctx, user.ID)
	}

	s.audit(ctx, models.NewAuditLog(actorID, models.AuditActionUserUpdate, userResource, user.ID, meta).Diff(before, stateOf(user)))
	return user, nil
}

// Delete deactivates an account and revokes its refresh tokens. Rows are kept
// because lesson plans and observations reference them.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.ClientInfo) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot deactivate your own account")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.endSessions(ctx, id)

	before := stateOf(user)
	after := before
	after.Active = false
	s.audit(ctx, models.NewAuditLog(actorID, models.AuditActionUserDelete, userResource, id, meta).Diff(before, after))
	return nil
}

// ResetPassword replaces the account password and signs the account out
// everywhere. Administrators change their own password through the same call.
func (s *UserService) ResetPassword(ctx context.Context, id string, req ResetPasswordRequest, actorID string, meta models.ClientInfo) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid password payload")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset password")
	}
	s.endSessions(ctx, id)

	s.audit(ctx, models.NewAuditLog(actorID, models.AuditActionUserPasswordReset, userResource, id, meta))
	return nil
}

// RevokeSessions signs the account out of every device. Unlike deactivation a
// failure to revoke is reported to the caller.
func (s *UserService) RevokeSessions(ctx context.Context, id string, actorID string, meta models.ClientInfo) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.sessions == nil {
		return appErrors.Clone(appErrors.ErrInternal, "session store is not configured")
	}
	if err := s.sessions.RevokeUser(ctx, id, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}

	s.audit(ctx, models.NewAuditLog(actorID, models.AuditActionUserSignOut, userResource, id, meta))
	return nil
}

type userLookup func(ctx context.Context, value string) (*models.User, error)

func (s *UserService) ensureUnused(ctx context.Context, field, value string, find userLookup) error {
	_, err := find(ctx, value)
	switch {
	case err == nil:
		return appErrors.Clone(appErrors.ErrConflict, field+" already exists")
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return appErrors.Wrapf(err, appErrors.ErrInternal, "failed to check %s uniqueness", field)
	}
}

func (s *UserService) endSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeUser(ctx, userID, s.now()); err != nil {
		s.logger.Warn("failed to revoke user sessions", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) audit(ctx context.Context, entry *models.AuditLog) {
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	return string(hash), nil
}
