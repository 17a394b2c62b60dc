package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowdesk/backend/internal/domain"
	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// InstanceRepository handles instance rows
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository creates a new InstanceRepository
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const instanceColumns = "id, org_id, tier, state, platform_service_id, url, last_error, created_date, last_modified_date"

// Insert creates an instance row
func (r *InstanceRepository) Insert(ctx context.Context, exec Executor, i *models.Instance) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, org_id, tier, state, platform_service_id, url, last_error, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		constants.TableInstance)

	_, err := exec.ExecContext(ctx, query,
		i.ID, i.OrgID, i.Tier, string(i.State), i.PlatformServiceID, i.URL, i.LastError)
	return err
}

// GetByID retrieves an instance by ID, nil when absent
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 LIMIT 1",
		instanceColumns, constants.TableInstance)

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *InstanceRepository) scanOne(row *sql.Row) (*models.Instance, error) {
	var i models.Instance
	var state string
	err := row.Scan(
		&i.ID, &i.OrgID, &i.Tier, &state, &i.PlatformServiceID, &i.URL,
		&i.LastError, &i.CreatedDate, &i.LastModifiedDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	i.State = domain.InstanceState(state)
	return &i, nil
}

// ListByOrg returns all instances for an organization
func (r *InstanceRepository) ListByOrg(ctx context.Context, orgID string) ([]models.Instance, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE org_id = $1 ORDER BY created_date ASC",
		instanceColumns, constants.TableInstance)

	return r.list(ctx, query, orgID)
}

// ListByState returns all instances in a given state (health sweep)
func (r *InstanceRepository) ListByState(ctx context.Context, state domain.InstanceState) ([]models.Instance, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE state = $1 ORDER BY created_date ASC",
		instanceColumns, constants.TableInstance)

	return r.list(ctx, query, string(state))
}

func (r *InstanceRepository) list(ctx context.Context, query string, arg interface{}) ([]models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []models.Instance
	for rows.Next() {
		var i models.Instance
		var state string
		if err := rows.Scan(
			&i.ID, &i.OrgID, &i.Tier, &state, &i.PlatformServiceID, &i.URL,
			&i.LastError, &i.CreatedDate, &i.LastModifiedDate); err != nil {
			return nil, err
		}
		i.State = domain.InstanceState(state)
		instances = append(instances, i)
	}
	return instances, rows.Err()
}

// CountActiveByOrg counts instances not yet deprovisioned for an org
func (r *InstanceRepository) CountActiveByOrg(ctx context.Context, orgID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE org_id = $1 AND state != $2",
		constants.TableInstance)

	var count int
	err := r.db.QueryRowContext(ctx, query, orgID, string(domain.InstanceDeprovisioned)).Scan(&count)
	return count, err
}

// TransitionState atomically moves an instance from one state to another.
// Returns false when the row was not in the expected state (lost race).
func (r *InstanceRepository) TransitionState(ctx context.Context, id string, from, to domain.InstanceState) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET state = $1, last_modified_date = NOW()
		WHERE id = $2 AND state = $3`,
		constants.TableInstance)

	result, err := r.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetPlatformDetails records the platform service ID and public URL
func (r *InstanceRepository) SetPlatformDetails(ctx context.Context, id, serviceID, url string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET platform_service_id = $1, url = $2, last_modified_date = NOW()
		WHERE id = $3`,
		constants.TableInstance)

	_, err := r.db.ExecContext(ctx, query, serviceID, url, id)
	return err
}

// SetLastError records the most recent provisioning or health failure
func (r *InstanceRepository) SetLastError(ctx context.Context, id, message string) error {
	query := fmt.Sprintf("UPDATE %s SET last_error = $1, last_modified_date = NOW() WHERE id = $2",
		constants.TableInstance)

	_, err := r.db.ExecContext(ctx, query, message, id)
	return err
}
