package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk/backend/pkg/constants"
)

func TestSessionIsRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1",
		constants.FieldIsRevoked, constants.TableSession, constants.FieldID)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"is_revoked"}).AddRow(false))

	revoked, err := repo.IsRevoked(context.Background(), "sess-1")
	assert.NoError(t, err)
	assert.False(t, revoked)

	// Missing session surfaces ErrNoRows so callers can distinguish it
	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("gone").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.IsRevoked(context.Background(), "gone")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSessionRevoke(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)

	query := fmt.Sprintf("UPDATE %s SET is_revoked = TRUE, last_modified_date = NOW() WHERE id = $1",
		constants.TableSession)

	mock.ExpectExec(regexp.QuoteMeta(query)).WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Revoke(context.Background(), "sess-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionDeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionRepository(db)

	now := time.Now()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < $1",
		constants.TableSession, constants.FieldExpiresAt)

	mock.ExpectExec(regexp.QuoteMeta(query)).WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteExpired(context.Background(), now)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}
