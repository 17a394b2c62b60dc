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

	"github.com/flowdesk/backend/internal/domain"
	"github.com/flowdesk/backend/internal/domain/events"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/platform"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
)

// fakePlatform is an in-memory platform.Client
type fakePlatform struct {
	createErr  error
	service    platform.Service
	created    []string
	paused     []string
	resumed    []string
	deleted    []string
	getStatus  string
	waitStatus string
	waitErr    error
}

func (f *fakePlatform) CreateService(ctx context.Context, req platform.CreateServiceRequest) (*platform.Service, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req.Name)
	svc := f.service
	svc.Name = req.Name
	return &svc, nil
}

func (f *fakePlatform) GetService(ctx context.Context, serviceID string) (*platform.Service, error) {
	return &platform.Service{ID: serviceID, Status: f.getStatus}, nil
}

func (f *fakePlatform) PauseService(ctx context.Context, serviceID string) error {
	f.paused = append(f.paused, serviceID)
	return nil
}

func (f *fakePlatform) ResumeService(ctx context.Context, serviceID string) error {
	f.resumed = append(f.resumed, serviceID)
	return nil
}

func (f *fakePlatform) DeleteService(ctx context.Context, serviceID string) error {
	f.deleted = append(f.deleted, serviceID)
	return nil
}

func (f *fakePlatform) WaitForRunning(ctx context.Context, serviceID string) (*platform.Service, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &platform.Service{ID: serviceID, Status: f.waitStatus, URL: "https://" + serviceID + ".example"}, nil
}

func newProvisioningFixture(t *testing.T, fake *fakePlatform) (*ProvisioningService, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := database.NewFromDB(db)
	tm := persistence.NewTransactionManager(conn)
	outbox := NewOutboxService(conn, NewEventBus(), tm)
	billing := NewBillingService(conn, outbox, nil, "whsec-test")
	return NewProvisioningService(conn, fake, billing, outbox, tm), mock
}

func instanceRow(id, org, state, serviceID string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "org_id", "tier", "state", "platform_service_id", "url", "last_error",
		"created_date", "last_modified_date",
	})
	var svc interface{}
	if serviceID != "" {
		svc = serviceID
	}
	now := time.Now()
	return rows.AddRow(id, org, "starter", state, svc, nil, nil, now, now)
}

func TestHandleInstanceRequestedProvisionsAndRuns(t *testing.T) {
	fake := &fakePlatform{
		service:    platform.Service{ID: "svc-1", Status: platform.StatusDeploying},
		waitStatus: platform.StatusRunning,
	}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "requested", ""))

	// requested -> provisioning
	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("provisioning", "i-1", "requested").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET platform_service_id")).
		WithArgs("svc-1", "", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET platform_service_id")).
		WithArgs("svc-1", "https://svc-1.example", "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// provisioning -> running
	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("running", "i-1", "provisioning").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.handleInstanceRequested(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInstanceRequestedMarksFailedOnPlatformError(t *testing.T) {
	fake := &fakePlatform{createErr: fmt.Errorf("quota exceeded")}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "requested", ""))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("provisioning", "i-1", "requested").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET last_error")).
		WithArgs(sqlmock.AnyArg(), "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// provisioning -> failed
	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("failed", "i-1", "provisioning").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.handleInstanceRequested(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInstanceRequestedSkipsRunningInstance(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	// A redelivered event must not re-provision an instance that is
	// already up
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "running", "svc-1"))

	err := svc.handleInstanceRequested(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.Empty(t, fake.created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInstanceRequestedSkipsLostClaim(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "requested", ""))

	// Another worker already moved the row
	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("provisioning", "i-1", "requested").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.handleInstanceRequested(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleInstanceSuspendPausesService(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "running", "svc-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("suspended", "i-1", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.handleInstanceSuspend(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-1"}, fake.paused)
}

func TestHandleInstanceSuspendSkipsNonRunning(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "suspended", "svc-1"))

	err := svc.handleInstanceSuspend(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.Empty(t, fake.paused)
}

func TestHandleInstanceDeprovisionDeletesService(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, tier, state")).
		WithArgs("i-1").
		WillReturnRows(instanceRow("i-1", "org-1", "suspended", "svc-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("deprovisioned", "i-1", "suspended").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.handleInstanceDeprovision(context.Background(), events.Payload{InstanceID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-1"}, fake.deleted)
}

func TestSweepMarksFailedInstances(t *testing.T) {
	fake := &fakePlatform{getStatus: platform.StatusFailed}
	svc, mock := newProvisioningFixture(t, fake)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE state = $1")).
		WithArgs("running").
		WillReturnRows(instanceRow("i-1", "org-1", "running", "svc-1"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET last_error")).
		WithArgs(sqlmock.AnyArg(), "i-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE instances SET state")).
		WithArgs("failed", "i-1", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.SweepInstances(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectPlanLookup(mock sqlmock.Sqlmock, orgID string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE org_id")).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "plan_id", "status", "external_ref", "period_end",
			"created_date", "last_modified_date",
		}).AddRow("sub-1", orgID, "starter", "active", nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id")).
		WithArgs("starter").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "max_connections", "max_memory_entries", "max_instances", "instance_tier",
		}).AddRow("starter", "Starter", 10, 5000, 1, "nf-compute-50"))
}

func TestRequestInstanceCommitsRowAndEventTogether(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	expectPlanLookup(mock, "org-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM instances WHERE org_id")).
		WithArgs("org-1", "deprovisioned").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectPlanLookup(mock, "org-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instances")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user := &auth.UserSession{ID: "u-1", ActiveOrgID: "org-1"}
	instance, err := svc.RequestInstance(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceRequested, instance.State)
	assert.Equal(t, "nf-compute-50", instance.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestInstanceRollsBackWhenEnqueueFails(t *testing.T) {
	fake := &fakePlatform{}
	svc, mock := newProvisioningFixture(t, fake)

	expectPlanLookup(mock, "org-1")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM instances WHERE org_id")).
		WithArgs("org-1", "deprovisioned").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectPlanLookup(mock, "org-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO instances")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	user := &auth.UserSession{ID: "u-1", ActiveOrgID: "org-1"}
	_, err := svc.RequestInstance(context.Background(), user)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateMachineGuardsRetry(t *testing.T) {
	sm := domain.NewInstanceStateMachine()
	assert.True(t, sm.CanTransition(domain.InstanceFailed, domain.TransitionProvision))
	assert.False(t, sm.CanTransition(domain.InstanceRunning, domain.TransitionProvision))
}
