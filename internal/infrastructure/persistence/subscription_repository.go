package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// SubscriptionRepository handles plans and subscriptions
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// GetPlan retrieves a plan by ID, nil when absent
func (r *SubscriptionRepository) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	query := fmt.Sprintf(`
		SELECT id, name, max_connections, max_memory_entries, max_instances, instance_tier
		FROM %s WHERE id = $1 LIMIT 1`,
		constants.TablePlan)

	var p models.Plan
	err := r.db.QueryRowContext(ctx, query, planID).Scan(
		&p.ID, &p.Name, &p.MaxConnections, &p.MaxMemoryEntries, &p.MaxInstances, &p.InstanceTier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// UpsertPlan inserts or updates a plan row (bootstrap seeding)
func (r *SubscriptionRepository) UpsertPlan(ctx context.Context, p *models.Plan) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, max_connections, max_memory_entries, max_instances, instance_tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			max_connections = EXCLUDED.max_connections,
			max_memory_entries = EXCLUDED.max_memory_entries,
			max_instances = EXCLUDED.max_instances,
			instance_tier = EXCLUDED.instance_tier`,
		constants.TablePlan)

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.MaxConnections, p.MaxMemoryEntries, p.MaxInstances, p.InstanceTier)
	return err
}

// Insert creates a subscription row
func (r *SubscriptionRepository) Insert(ctx context.Context, exec Executor, s *models.Subscription) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, org_id, plan_id, status, external_ref, period_end, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		constants.TableSubscription)

	_, err := exec.ExecContext(ctx, query,
		s.ID, s.OrgID, s.PlanID, s.Status, s.ExternalRef, s.PeriodEnd)
	return err
}

// GetByOrg retrieves the subscription for an organization, nil when absent
func (r *SubscriptionRepository) GetByOrg(ctx context.Context, orgID string) (*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT id, org_id, plan_id, status, external_ref, period_end, created_date, last_modified_date
		FROM %s WHERE org_id = $1 LIMIT 1`,
		constants.TableSubscription)

	return r.scanOne(r.db.QueryRowContext(ctx, query, orgID))
}

// GetByExternalRef retrieves a subscription by the billing provider's ID
func (r *SubscriptionRepository) GetByExternalRef(ctx context.Context, ref string) (*models.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT id, org_id, plan_id, status, external_ref, period_end, created_date, last_modified_date
		FROM %s WHERE external_ref = $1 LIMIT 1`,
		constants.TableSubscription)

	return r.scanOne(r.db.QueryRowContext(ctx, query, ref))
}

func (r *SubscriptionRepository) scanOne(row *sql.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID, &s.OrgID, &s.PlanID, &s.Status, &s.ExternalRef, &s.PeriodEnd,
		&s.CreatedDate, &s.LastModifiedDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Update rewrites plan, status, external reference and period end
func (r *SubscriptionRepository) Update(ctx context.Context, s *models.Subscription) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET plan_id = $1, status = $2, external_ref = $3, period_end = $4, last_modified_date = NOW()
		WHERE id = $5`,
		constants.TableSubscription)

	_, err := r.db.ExecContext(ctx, query,
		s.PlanID, s.Status, s.ExternalRef, s.PeriodEnd, s.ID)
	return err
}

// UpdateStatus changes only the subscription status
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := fmt.Sprintf("UPDATE %s SET status = $1, last_modified_date = NOW() WHERE id = $2",
		constants.TableSubscription)

	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

// ExtendPeriod moves the current period end forward
func (r *SubscriptionRepository) ExtendPeriod(ctx context.Context, id string, periodEnd time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET period_end = $1, last_modified_date = NOW() WHERE id = $2",
		constants.TableSubscription)

	_, err := r.db.ExecContext(ctx, query, periodEnd, id)
	return err
}
