package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openroster/roster-api/internal/models"
)

// ErrRotationConflict is returned when a concurrent refresh rotated the
// session first. The losing caller gets a retryable conflict instead of a
// silently clobbered hash.
var ErrRotationConflict = fmt.Errorf("session rotated concurrently")

// SessionRepository owns the session metadata rows. No other component
// writes this table.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, revoked, expires_at, created_at, updated_at) VALUES (:id, :user_id, :token_hash, :ip_address, :user_agent, :revoked, :expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by its id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT id, user_id, token_hash, ip_address, user_agent, revoked, expires_at, created_at, updated_at FROM sessions WHERE id = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// RotateHash replaces the stored refresh token hash, conditional on the
// previous hash still being in place. The WHERE clause is the optimistic
// concurrency check: if another request already rotated this session, zero
// rows match and the caller receives ErrRotationConflict.
func (r *SessionRepository) RotateHash(ctx context.Context, id, oldHash, newHash, ip, userAgent string, expiresAt time.Time) error {
	const query = `UPDATE sessions SET token_hash = $3, ip_address = $4, user_agent = $5, expires_at = $6, updated_at = $7 WHERE id = $1 AND token_hash = $2 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, oldHash, newHash, ip, userAgent, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate session hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate session hash result: %w", err)
	}
	if affected == 0 {
		return ErrRotationConflict
	}
	return nil
}

// Revoke flags a session as revoked without deleting it.
func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	const query = `UPDATE sessions SET revoked = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Delete removes a session row.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByUser removes every session for a user except the one given.
// An empty keepID removes them all.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID, keepID string) error {
	const query = `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`
	if _, err := r.db.ExecContext(ctx, query, userID, keepID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions whose stored expiry has passed. Used by the
// background sweeper.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions result: %w", err)
	}
	return affected, nil
}
