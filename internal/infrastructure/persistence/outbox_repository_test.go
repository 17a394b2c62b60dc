package persistence

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEnqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(sqlmock.AnyArg(), "instance.requested", sqlmock.AnyArg(), OutboxStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.Enqueue(context.Background(), db, "instance.requested", map[string]string{"instance_id": "i-1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxGetPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, event_type, payload, retry_count")).
		WithArgs(OutboxStatusPending, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "retry_count"}).
			AddRow("e-1", "instance.requested", `{"instance_id":"i-1"}`, 0).
			AddRow("e-2", "connection.created", `{"connection_id":"c-1"}`, 2))

	events, err := repo.GetPending(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "instance.requested", events[0].EventType)
	assert.Equal(t, 2, events[1].RetryCount)
}

func TestOutboxClaimAlreadyTaken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("e-1", OutboxStatusPending).
		WillReturnError(sql.ErrNoRows)

	claimed, err := repo.Claim(context.Background(), db, "e-1")
	assert.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestOutboxMarkFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events")).
		WithArgs(OutboxStatusFailed, "boom", "e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkFailed(context.Background(), db, "e-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
