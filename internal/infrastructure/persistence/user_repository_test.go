package persistence

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk/backend/pkg/constants"
)

func TestUserExistsByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewUserRepository(db)

	email := "test@example.com"
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)", constants.TableUser, constants.FieldEmail)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs(email).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByEmail(context.Background(), email)
	assert.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err = repo.ExistsByEmail(context.Background(), "nobody@example.com")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestUserGetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	now := time.Now()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		userColumns, constants.TableUser, constants.FieldEmail)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "password_hash", "active_org_id", "is_admin", "created_date", "last_modified_date",
		}).AddRow("user-1", "Ada", "ada@example.com", "hash", "org-1", false, now, now))

	u, err := repo.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "org-1", u.ActiveOrgID.String)
	assert.False(t, u.IsAdmin)
}

func TestUserGetByIDMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		userColumns, constants.TableUser, constants.FieldID)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := repo.GetByID(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserUpdateActiveOrg(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	query := fmt.Sprintf("UPDATE %s SET %s = $1, %s = NOW() WHERE %s = $2",
		constants.TableUser, constants.FieldActiveOrgID, constants.FieldLastModifiedDate, constants.FieldID)

	mock.ExpectExec(regexp.QuoteMeta(query)).WithArgs("org-2", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.UpdateActiveOrg(context.Background(), "user-1", "org-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
