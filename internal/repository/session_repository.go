package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tp-workflow-api/internal/models"
)

// ErrSessionConsumed is returned by Rotate when another request already
// rotated or revoked the session.
var ErrSessionConsumed = errors.New("session already consumed")

const sessionColumns = `id, user_id, family_id, token_hash, expires_at, created_at, revoked_at, replaced_by, ip_address, user_agent`

// SessionRepository stores refresh-token sessions by token hash.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository wires the sessions table.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts the first session of a new family.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	prepareSession(session)
	if _, err := r.db.NamedExecContext(ctx, insertSessionQuery, session); err != nil {
		return fmt.Errorf("create session: %w", translateUnique(err))
	}
	return nil
}

// FindByHash loads a session, revoked or not, by its token hash.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// Rotate inserts next into the family of currentID and retires currentID in
// one transaction. Only one caller can win the rotation of a session.
func (r *SessionRepository) Rotate(ctx context.Context, currentID string, next *models.Session) (err error) {
	prepareSession(next)
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, insertSessionQuery, next); err != nil {
		return fmt.Errorf("insert rotated session: %w", translateUnique(err))
	}
	result, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked_at IS NULL`, currentID, next.CreatedAt, next.ID)
	if err != nil {
		return fmt.Errorf("retire session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("retire session: %w", err)
	}
	if affected == 0 {
		err = ErrSessionConsumed
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

// Revoke ends a single session.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeFamily ends every live session descended from the same login.
func (r *SessionRepository) RevokeFamily(ctx context.Context, familyID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL`, familyID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke session family: %w", err)
	}
	return result.RowsAffected()
}

// RevokeUser ends every live session of a user.
func (r *SessionRepository) RevokeUser(ctx context.Context, userID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

const insertSessionQuery = `INSERT INTO sessions (id, user_id, family_id, token_hash, expires_at, created_at, revoked_at, replaced_by, ip_address, user_agent) VALUES (:id, :user_id, :family_id, :token_hash, :expires_at, :created_at, :revoked_at, :replaced_by, :ip_address, :user_agent)`

func prepareSession(session *models.Session) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.FamilyID == "" {
		session.FamilyID = session.ID
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
}
