package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/broker"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/rules"
)

const integrationTestSecret = "whsec-broker-test"

// fakeBroker is an in-memory broker.Client
type fakeBroker struct {
	deleted []string
}

func (f *fakeBroker) CreateConnectSession(ctx context.Context, endUserID, provider string) (*broker.ConnectSession, error) {
	return &broker.ConnectSession{Token: "sess-token"}, nil
}

func (f *fakeBroker) GetCredentials(ctx context.Context, connectionID string) (*broker.Credentials, error) {
	return &broker.Credentials{Payload: []byte(`{"access_token":"x"}`)}, nil
}

func (f *fakeBroker) DeleteConnection(ctx context.Context, connectionID string) error {
	f.deleted = append(f.deleted, connectionID)
	return nil
}

func newIntegrationFixture(t *testing.T) (*IntegrationService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := database.NewFromDB(db)
	tm := persistence.NewTransactionManager(conn)
	outbox := NewOutboxService(conn, NewEventBus(), tm)
	billing := NewBillingService(conn, outbox, nil, "whsec-billing")
	svc := NewIntegrationService(conn, &fakeBroker{}, billing, outbox, tm, rules.NewEngine(), nil, integrationTestSecret)
	return svc, mock
}

func connectionRow(id, org, provider, brokerID, filter, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "user_id", "provider", "broker_connection_id",
		"event_filter", "status", "created_date", "last_modified_date",
	}).AddRow(id, org, "u-1", provider, brokerID, filter, status, now, now)
}

func runningInstanceRow(id, org, url string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "tier", "state", "platform_service_id", "url", "last_error",
		"created_date", "last_modified_date",
	}).AddRow(id, org, "starter", "running", "svc-1", url, nil, now, now)
}

func signedBrokerEvent(body []byte) string {
	return SignWebhook(integrationTestSecret, time.Now().Unix(), body)
}

func TestProviderEventForwardedToRunningInstance(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hooks/provider", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	body := []byte(`{"id":"evt-1","type":"provider.event","connection_id":"bc-1","provider":"github","payload":{"kind":"push"}}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", "", "active"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM instances WHERE org_id")).
		WithArgs("org-1").
		WillReturnRows(runningInstanceRow("i-1", "org-1", server.URL))

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.NoError(t, err)

	assert.Equal(t, "conn-1", received["connection_id"])
	assert.Equal(t, "github", received["provider"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderEventFilteredOutIsNotForwarded(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	body := []byte(`{"id":"evt-2","type":"provider.event","connection_id":"bc-1","provider":"github","payload":{"kind":"fork"}}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", `event.kind == "push"`, "active"))

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderEventDeliveryFailureSurfacesForRetry(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	body := []byte(`{"id":"evt-3","type":"provider.event","connection_id":"bc-1","provider":"github","payload":{"kind":"push"}}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", "", "active"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM instances WHERE org_id")).
		WithArgs("org-1").
		WillReturnRows(runningInstanceRow("i-1", "org-1", server.URL))

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderEventDroppedWithoutRunningInstance(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	body := []byte(`{"id":"evt-4","type":"provider.event","connection_id":"bc-1","provider":"github","payload":{"kind":"push"}}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", "", "active"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM instances WHERE org_id")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "tier", "state", "platform_service_id", "url", "last_error",
			"created_date", "last_modified_date",
		}))

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeFromBrokerCommitsStatusAndCleanupTogether(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	body := []byte(`{"id":"evt-5","type":"connection.revoked","connection_id":"bc-1","provider":"github"}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", "", "active"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE connections SET status")).
		WithArgs("revoked", "conn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeFromBrokerRollsBackWhenEnqueueFails(t *testing.T) {
	svc, mock := newIntegrationFixture(t)

	body := []byte(`{"id":"evt-6","type":"connection.revoked","connection_id":"bc-1","provider":"github"}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM connections WHERE broker_connection_id")).
		WithArgs("bc-1").
		WillReturnRows(connectionRow("conn-1", "org-1", "github", "bc-1", "", "active"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE connections SET status")).
		WithArgs("revoked", "conn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := svc.HandleBrokerWebhook(context.Background(), body, signedBrokerEvent(body))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
