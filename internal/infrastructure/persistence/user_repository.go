package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, name, email, password_hash, active_org_id, is_admin, created_date, last_modified_date"

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.ActiveOrgID,
		&u.IsAdmin,
		&u.CreatedDate,
		&u.LastModifiedDate,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Insert creates a new user row
func (r *UserRepository) Insert(ctx context.Context, exec Executor, u *models.User) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, email, password_hash, active_org_id, is_admin, created_date, last_modified_date)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		constants.TableUser)

	_, err := exec.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.PasswordHash, u.ActiveOrgID, u.IsAdmin)
	return err
}

// GetByID retrieves a user by ID, nil when absent
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		userColumns, constants.TableUser, constants.FieldID)

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetByEmail retrieves a user by email, nil when absent
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		userColumns, constants.TableUser, constants.FieldEmail)

	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ExistsByEmail reports whether a user exists with the given email
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)",
		constants.TableUser, constants.FieldEmail)

	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, err
}

// UpdatePassword sets a new password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, hash string) error {
	query := fmt.Sprintf("UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2",
		constants.TableUser, constants.FieldPassword, constants.FieldLastModifiedDate, constants.FieldID)

	_, err := r.db.ExecContext(ctx, query, hash, userID)
	return err
}

// UpdateActiveOrg sets the user's active organization
func (r *UserRepository) UpdateActiveOrg(ctx context.Context, userID, orgID string) error {
	query := fmt.Sprintf("UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2",
		constants.TableUser, constants.FieldActiveOrgID, constants.FieldLastModifiedDate, constants.FieldID)

	_, err := r.db.ExecContext(ctx, query, orgID, userID)
	return err
}

// SetAdmin toggles the platform administrator flag
func (r *UserRepository) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	query := fmt.Sprintf("UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2",
		constants.TableUser, constants.FieldIsAdmin, constants.FieldLastModifiedDate, constants.FieldID)

	_, err := r.db.ExecContext(ctx, query, isAdmin, userID)
	return err
}

// CountAdmins returns the number of platform administrators
func (r *UserRepository) CountAdmins(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = TRUE",
		constants.TableUser, constants.FieldIsAdmin)

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
