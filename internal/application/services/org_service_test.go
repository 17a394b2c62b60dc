package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
)

func newOrgFixture(t *testing.T) (*OrgService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := database.NewFromDB(db)
	tm := persistence.NewTransactionManager(conn)
	authSvc := NewAuthService(conn, tm, nil, nil)
	return NewOrgService(conn, tm, nil, authSvc), mock
}

func userRow(id, name, email, activeOrg string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "email", "password_hash", "active_org_id", "is_admin",
		"created_date", "last_modified_date",
	}).AddRow(id, name, email, "hash", activeOrg, false, now, now)
}

func TestSwitchActiveOrgIssuesValidatableSession(t *testing.T) {
	svc, mock := newOrgFixture(t)

	user := &auth.UserSession{ID: "u-1", Email: "ana@example.com", ActiveOrgID: "org-1"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM organization_members")).
		WithArgs("org-2", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active_org_id")).
		WithArgs("org-2", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id")).
		WithArgs("u-1").
		WillReturnRows(userRow("u-1", "Ana", "ana@example.com", "org-2"))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.SwitchActiveOrg(context.Background(), user, "org-2", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "org-2", result.User.ActiveOrgID)
	assert.NotEmpty(t, result.Token)

	// The minted token must validate against its own session row
	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_revoked FROM sessions")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"is_revoked"}).AddRow(false))

	claims, err := svc.auth.ValidateSession(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, "org-2", claims.User.ActiveOrgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwitchActiveOrgRejectsNonMember(t *testing.T) {
	svc, mock := newOrgFixture(t)

	user := &auth.UserSession{ID: "u-1", Email: "ana@example.com", ActiveOrgID: "org-1"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM organization_members")).
		WithArgs("org-2", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	_, err := svc.SwitchActiveOrg(context.Background(), user, "org-2", "127.0.0.1", "test-agent")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
