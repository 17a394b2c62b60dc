package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// ConnectionRepository handles OAuth connection rows
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new ConnectionRepository
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = "id, org_id, user_id, provider, broker_connection_id, event_filter, status, created_date, last_modified_date"

// Insert creates a connection row
func (r *ConnectionRepository) Insert(ctx context.Context, exec Executor, c *models.Connection) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, org_id, user_id, provider, broker_connection_id, event_filter, status, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		constants.TableConnection)

	_, err := exec.ExecContext(ctx, query,
		c.ID, c.OrgID, c.UserID, c.Provider, c.BrokerConnectionID, c.EventFilter, c.Status)
	return err
}

// GetByID retrieves a connection by ID, nil when absent
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 LIMIT 1",
		connectionColumns, constants.TableConnection)

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByBrokerID retrieves a connection by the broker's connection ID
func (r *ConnectionRepository) GetByBrokerID(ctx context.Context, brokerID string) (*models.Connection, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE broker_connection_id = $1 LIMIT 1",
		connectionColumns, constants.TableConnection)

	return r.scanOne(r.db.QueryRowContext(ctx, query, brokerID))
}

func (r *ConnectionRepository) scanOne(row *sql.Row) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(
		&c.ID, &c.OrgID, &c.UserID, &c.Provider, &c.BrokerConnectionID,
		&c.EventFilter, &c.Status, &c.CreatedDate, &c.LastModifiedDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListByOrg returns all connections for an organization
func (r *ConnectionRepository) ListByOrg(ctx context.Context, orgID string) ([]models.Connection, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE org_id = $1 ORDER BY created_date ASC",
		connectionColumns, constants.TableConnection)

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(
			&c.ID, &c.OrgID, &c.UserID, &c.Provider, &c.BrokerConnectionID,
			&c.EventFilter, &c.Status, &c.CreatedDate, &c.LastModifiedDate); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// CountByOrg returns the number of active connections for an organization
func (r *ConnectionRepository) CountByOrg(ctx context.Context, orgID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE org_id = $1 AND status = 'active'",
		constants.TableConnection)

	var count int
	err := r.db.QueryRowContext(ctx, query, orgID).Scan(&count)
	return count, err
}

// UpdateEventFilter replaces the connection's event filter expression
func (r *ConnectionRepository) UpdateEventFilter(ctx context.Context, id, filter string) error {
	query := fmt.Sprintf("UPDATE %s SET event_filter = $1, last_modified_date = NOW() WHERE id = $2",
		constants.TableConnection)

	_, err := r.db.ExecContext(ctx, query, filter, id)
	return err
}

// UpdateStatus changes the connection status (active/revoked)
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, exec Executor, id, status string) error {
	query := fmt.Sprintf("UPDATE %s SET status = $1, last_modified_date = NOW() WHERE id = $2",
		constants.TableConnection)

	_, err := exec.ExecContext(ctx, query, status, id)
	return err
}

// Delete removes a connection row
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", constants.TableConnection)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
