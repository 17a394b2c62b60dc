package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// OrgRepository handles database operations for organizations and membership
type OrgRepository struct {
	db *sql.DB
}

// NewOrgRepository creates a new OrgRepository
func NewOrgRepository(db *sql.DB) *OrgRepository {
	return &OrgRepository{db: db}
}

// Insert creates an organization row
func (r *OrgRepository) Insert(ctx context.Context, exec Executor, org *models.Organization) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, owner_id, created_date, last_modified_date)
		VALUES ($1, $2, $3, NOW(), NOW())`,
		constants.TableOrganization)

	_, err := exec.ExecContext(ctx, query, org.ID, org.Name, org.OwnerID)
	return err
}

// GetByID retrieves an organization by ID, nil when absent
func (r *OrgRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := fmt.Sprintf(`
		SELECT id, name, owner_id, created_date, last_modified_date
		FROM %s WHERE id = $1 LIMIT 1`,
		constants.TableOrganization)

	var org models.Organization
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.OwnerID, &org.CreatedDate, &org.LastModifiedDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

// ListByUser returns all organizations the user is a member of
func (r *OrgRepository) ListByUser(ctx context.Context, userID string) ([]models.Organization, error) {
	query := fmt.Sprintf(`
		SELECT o.id, o.name, o.owner_id, o.created_date, o.last_modified_date
		FROM %s o
		JOIN %s m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_date ASC`,
		constants.TableOrganization, constants.TableOrgMember)

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var org models.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedDate, &org.LastModifiedDate); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// AddMember inserts a membership row
func (r *OrgRepository) AddMember(ctx context.Context, exec Executor, m *models.OrgMember) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (org_id, user_id, role, created_date)
		VALUES ($1, $2, $3, NOW())`,
		constants.TableOrgMember)

	_, err := exec.ExecContext(ctx, query, m.OrgID, m.UserID, m.Role)
	return err
}

// RemoveMember deletes a membership row
func (r *OrgRepository) RemoveMember(ctx context.Context, orgID, userID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE org_id = $1 AND user_id = $2",
		constants.TableOrgMember)

	_, err := r.db.ExecContext(ctx, query, orgID, userID)
	return err
}

// GetMemberRole returns the user's role in the org, empty when not a member
func (r *OrgRepository) GetMemberRole(ctx context.Context, orgID, userID string) (string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE org_id = $1 AND user_id = $2 LIMIT 1",
		constants.FieldRole, constants.TableOrgMember)

	var role string
	err := r.db.QueryRowContext(ctx, query, orgID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// ListMembers returns all members of an organization
func (r *OrgRepository) ListMembers(ctx context.Context, orgID string) ([]models.OrgMember, error) {
	query := fmt.Sprintf(`
		SELECT org_id, user_id, role, created_date
		FROM %s WHERE org_id = $1
		ORDER BY created_date ASC`,
		constants.TableOrgMember)

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.OrgMember
	for rows.Next() {
		var m models.OrgMember
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.CreatedDate); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
