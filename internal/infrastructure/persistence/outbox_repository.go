package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/utils"
)

// Outbox event statuses.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusProcessed = "processed"
	OutboxStatusFailed    = "failed"
)

// OutboxEvent represents a persisted event record
type OutboxEvent struct {
	ID            string
	EventType     string
	Payload       string
	Status        string
	RetryCount    int
	ErrorMessage  sql.NullString
	CreatedDate   time.Time
	ProcessedDate sql.NullTime
}

// OutboxRepository handles database operations for the outbox pattern
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a new event into the outbox
func (r *OutboxRepository) Enqueue(ctx context.Context, exec Executor, eventType string, payload interface{}) (string, error) {
	id := utils.GenerateID()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, payload, status, retry_count, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())`,
		constants.TableOutboxEvent)

	_, err = exec.ExecContext(ctx, query, id, eventType, payloadJSON, OutboxStatusPending)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}
	return id, nil
}

// GetPending retrieves pending events ordered by creation time
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, event_type, payload, retry_count
		FROM %s
		WHERE status = $1
		ORDER BY created_date ASC
		LIMIT $2`,
		constants.TableOutboxEvent)

	rows, err := r.db.QueryContext(ctx, query, OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.RetryCount); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Claim attempts to lock a specific pending event for processing.
// Returns empty when another worker already claimed it.
func (r *OutboxRepository) Claim(ctx context.Context, exec Executor, id string) (string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE id = $1 AND status = $2
		FOR UPDATE SKIP LOCKED`,
		constants.TableOutboxEvent)

	var claimedID string
	err := exec.QueryRowContext(ctx, query, id, OutboxStatusPending).Scan(&claimedID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return claimedID, nil
}

// MarkProcessed marks an event as successfully published
func (r *OutboxRepository) MarkProcessed(ctx context.Context, exec Executor, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, processed_date = NOW(), last_modified_date = NOW()
		WHERE id = $2`,
		constants.TableOutboxEvent)

	_, err := exec.ExecContext(ctx, query, OutboxStatusProcessed, id)
	return err
}

// MarkFailed marks an event as permanently failed
func (r *OutboxRepository) MarkFailed(ctx context.Context, exec Executor, id, errMessage string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, error_message = $2, last_modified_date = NOW()
		WHERE id = $3`,
		constants.TableOutboxEvent)

	_, err := exec.ExecContext(ctx, query, OutboxStatusFailed, errMessage, id)
	return err
}

// IncrementRetry increments the retry count and records the error
func (r *OutboxRepository) IncrementRetry(ctx context.Context, exec Executor, id string, newCount int, errMessage string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = $1, error_message = $2, last_modified_date = NOW()
		WHERE id = $3`,
		constants.TableOutboxEvent)

	_, err := exec.ExecContext(ctx, query, newCount, errMessage, id)
	return err
}

// CleanupProcessed deletes old processed events
func (r *OutboxRepository) CleanupProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = $1 AND processed_date < $2`,
		constants.TableOutboxEvent)

	result, err := r.db.ExecContext(ctx, query, OutboxStatusProcessed, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
