package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/repository"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByHash(ctx context.Context, hash string) (*models.Session, error)
	Rotate(ctx context.Context, currentID string, next *models.Session) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error)
	RevokeUser(ctx context.Context, userID string, at time.Time) error
}

type sessionMetrics interface {
	RecordSessionReplay()
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
	SingleSession      bool
}

// AuthService signs people in and keeps their refresh sessions rotating.
type AuthService struct {
	users     authUserRepository
	sessions  sessionStore
	metrics   sessionMetrics
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, sessions sessionStore, metrics sessionMetrics, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login checks credentials and opens a new session family.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Spend comparable time on unknown emails.
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(req.Password))
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	now := s.now()
	if s.config.SingleSession {
		if err := s.sessions.RevokeUser(ctx, user.ID, now); err != nil {
			s.logger.Warn("failed to end previous sessions", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	pair, session, err := s.issue(user, "", req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open session")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.audit(ctx, user.ID, models.AuditActionLogin, map[string]string{"session_family": session.FamilyID}, req.IP, req.UserAgent)

	return &models.LoginResponse{
		TokenPair: *pair,
		User:      user.Info(),
	}, nil
}

// RefreshToken trades a live refresh token for a new pair. Presenting a token
// that was already rotated away ends every session in its family.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid refresh payload")
	}

	current, err := s.sessions.FindByHash(ctx, hashRefreshToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not recognised")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	now := s.now()
	switch {
	case current.Rotated():
		return nil, s.endFamily(ctx, current, req.IP, req.UserAgent)
	case current.Revoked():
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has been signed out")
	case current.Expired(now):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has expired")
	}

	user, err := s.users.FindByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		if err := s.sessions.RevokeUser(ctx, user.ID, now); err != nil {
			s.logger.Warn("failed to end sessions of inactive user", zap.String("user_id", user.ID), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	pair, next, err := s.issue(user, current.FamilyID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rotate(ctx, current.ID, next); err != nil {
		if errors.Is(err, repository.ErrSessionConsumed) {
			return nil, s.endFamily(ctx, current, req.IP, req.UserAgent)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	s.audit(ctx, user.ID, models.AuditActionTokenRefresh, map[string]string{"session_family": next.FamilyID}, req.IP, req.UserAgent)
	return pair, nil
}

// Logout ends the session behind refreshToken when it belongs to userID.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, userID string, meta models.ClientInfo) error {
	session, err := s.sessions.FindByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not recognised")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another user")
	}
	if session.Revoked() {
		return nil
	}
	if err := s.sessions.Revoke(ctx, session.ID, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to end session")
	}

	s.audit(ctx, userID, models.AuditActionLogout, map[string]string{"session_family": session.FamilyID}, meta.IP, meta.UserAgent)
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "access token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Verify resolves the current role and identifier of the token holder.
// The account is re-read so a deactivated user stops passing role gates
// before the token expires.
func (s *AuthService) Verify(ctx context.Context, claims *models.JWTClaims) (*models.VerifyResponse, error) {
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return &models.VerifyResponse{Role: user.Role, Identifier: user.Identifier}, nil
}

// endFamily handles a replayed refresh token.
func (s *AuthService) endFamily(ctx context.Context, session *models.Session, ip, userAgent string) error {
	if s.metrics != nil {
		s.metrics.RecordSessionReplay()
	}
	ended, err := s.sessions.RevokeFamily(ctx, session.FamilyID, s.now())
	if err != nil {
		s.logger.Error("failed to end session family", zap.String("family_id", session.FamilyID), zap.Error(err))
	}
	s.logger.Warn("refresh token replayed",
		zap.String("user_id", session.UserID),
		zap.String("family_id", session.FamilyID),
		zap.Int64("sessions_ended", ended),
	)
	s.audit(ctx, session.UserID, models.AuditActionSessionReuse, map[string]interface{}{
		"session_family": session.FamilyID,
		"sessions_ended": ended,
	}, ip, userAgent)
	return appErrors.Clone(appErrors.ErrUnauthorized, "refresh token was already used; sign in again")
}

// issue signs an access token and prepares the session for a fresh refresh
// token. An empty family starts a new one.
func (s *AuthService) issue(user *models.User, family, ip, userAgent string) (*models.TokenPair, *models.Session, error) {
	issuedAt := s.now()
	access, err := s.signAccessToken(user, issuedAt)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	raw, err := newRefreshToken()
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	id := uuid.NewString()
	if family == "" {
		family = id
	}
	session := &models.Session{
		ID:        id,
		UserID:    user.ID,
		FamilyID:  family,
		TokenHash: hashRefreshToken(raw),
		ExpiresAt: issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt: issuedAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, session, nil
}

func (s *AuthService) signAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:     user.ID,
		Role:       user.Role,
		Email:      user.Email,
		FullName:   user.FullName,
		Identifier: user.Identifier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *AuthService) audit(ctx context.Context, userID, action string, payload interface{}, ip, userAgent string) {
	entry := models.NewAuditLog(userID, action, "auth", userID, models.ClientInfo{IP: ip, UserAgent: userAgent}).Diff(nil, payload)
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record auth audit log", zap.String("action", action), zap.Error(err))
	}
}

// dummyPasswordHash is compared against when the email is unknown.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("tp-workflow-placeholder"), bcrypt.DefaultCost)

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
