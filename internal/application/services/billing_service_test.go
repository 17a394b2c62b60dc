package services

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
)

const billingTestSecret = "whsec-billing-test"

func newBillingFixture(t *testing.T) (*BillingService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := database.NewFromDB(db)
	tm := persistence.NewTransactionManager(conn)
	outbox := NewOutboxService(conn, NewEventBus(), tm)
	return NewBillingService(conn, outbox, nil, billingTestSecret), mock
}

func subscriptionRow(id, org, plan, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "plan_id", "status", "external_ref", "period_end",
		"created_date", "last_modified_date",
	}).AddRow(id, org, plan, status, nil, nil, now, now)
}

func planRow(id, tier string, maxInstances int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "max_connections", "max_memory_entries", "max_instances", "instance_tier",
	}).AddRow(id, id, 50, 50000, maxInstances, tier)
}

func signedBillingEvent(body []byte) string {
	return SignWebhook(billingTestSecret, time.Now().Unix(), body)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, mock := newBillingFixture(t)

	body := []byte(`{"id":"evt-1","type":"subscription.updated","data":{}}`)
	err := svc.HandleWebhook(context.Background(), body, "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookMovesOrgToPurchasedPlan(t *testing.T) {
	svc, mock := newBillingFixture(t)

	body := []byte(`{"id":"evt-1","type":"subscription.updated","data":{"subscription":"ext-1","org_id":"org-1","plan":"pro"}}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE external_ref")).
		WithArgs("ext-1").
		WillReturnRows(subscriptionRow("sub-1", "org-1", "starter", "active"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id")).
		WithArgs("pro").
		WillReturnRows(planRow("pro", "nf-compute-200", 3))
	mock.ExpectExec(regexp.QuoteMeta("SET plan_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.HandleWebhook(context.Background(), body, signedBillingEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookRedeliveryAppliesAfterTransientFailure(t *testing.T) {
	svc, mock := newBillingFixture(t)

	body := []byte(`{"id":"evt-1","type":"subscription.updated","data":{"subscription":"ext-1","org_id":"org-1","plan":"pro"}}`)

	// First delivery dies on a transient database error and must surface it
	// so the provider retries
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE external_ref")).
		WithArgs("ext-1").
		WillReturnError(fmt.Errorf("connection reset"))

	err := svc.HandleWebhook(context.Background(), body, signedBillingEvent(body))
	require.Error(t, err)

	// The identical redelivery goes through
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE external_ref")).
		WithArgs("ext-1").
		WillReturnRows(subscriptionRow("sub-1", "org-1", "starter", "active"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id")).
		WithArgs("pro").
		WillReturnRows(planRow("pro", "nf-compute-200", 3))
	mock.ExpectExec(regexp.QuoteMeta("SET plan_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = svc.HandleWebhook(context.Background(), body, signedBillingEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookIgnoresUnknownEventType(t *testing.T) {
	svc, mock := newBillingFixture(t)

	body := []byte(`{"id":"evt-2","type":"customer.created","data":{}}`)
	err := svc.HandleWebhook(context.Background(), body, signedBillingEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
