package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// SessionRepository handles database operations for login sessions
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert creates a new session in the database
func (r *SessionRepository) Insert(ctx context.Context, session *models.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, token, expires_at, ip_address, user_agent, is_revoked, last_activity, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		constants.TableSession)

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.ExpiresAt,
		session.IPAddress,
		session.UserAgent,
		session.IsRevoked,
		session.LastActivity,
	)
	return err
}

// Get retrieves a session by its ID (the JWT JTI), nil when absent
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, token, expires_at, ip_address, user_agent, is_revoked, last_activity, created_date, last_modified_date
		FROM %s
		WHERE id = $1 LIMIT 1`,
		constants.TableSession)

	var s models.Session
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.ExpiresAt,
		&s.IPAddress,
		&s.UserAgent,
		&s.IsRevoked,
		&s.LastActivity,
		&s.CreatedDate,
		&s.LastModifiedDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// IsRevoked reports the revocation flag for a session.
// sql.ErrNoRows is surfaced so callers can distinguish "missing" from "revoked".
func (r *SessionRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		constants.FieldIsRevoked, constants.TableSession, constants.FieldID)

	var revoked bool
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(&revoked)
	return revoked, err
}

// Revoke marks a session as revoked
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf("UPDATE %s SET is_revoked = TRUE, last_modified_date = NOW() WHERE id = $1",
		constants.TableSession)
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}

// Touch updates the last activity timestamp
func (r *SessionRepository) Touch(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf("UPDATE %s SET last_activity = NOW() WHERE id = $1",
		constants.TableSession)
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}

// DeleteExpired removes sessions past their expiry, returning the count
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1",
		constants.TableSession, constants.FieldExpiresAt)

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
