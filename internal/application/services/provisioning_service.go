package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/flowdesk/backend/internal/domain"
	"github.com/flowdesk/backend/internal/domain/events"
	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/platform"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/errors"
	"github.com/flowdesk/backend/pkg/utils"
)

// ProvisioningService manages the lifecycle of per-org workflow-automation
// instances on the cloud platform. API calls only write the desired state
// and enqueue an event; the actual platform work happens in outbox handlers
// so a crash mid-provision is retried instead of lost.
type ProvisioningService struct {
	db           *database.PostgresConnection
	instances    *persistence.InstanceRepository
	platform     platform.Client
	billing      *BillingService
	outbox       *OutboxService
	txManager    *persistence.TransactionManager
	stateMachine *domain.InstanceStateMachine
}

// NewProvisioningService creates a new ProvisioningService
func NewProvisioningService(
	db *database.PostgresConnection,
	platformClient platform.Client,
	billing *BillingService,
	outbox *OutboxService,
	txManager *persistence.TransactionManager,
) *ProvisioningService {
	return &ProvisioningService{
		db:           db,
		instances:    persistence.NewInstanceRepository(db.DB()),
		platform:     platformClient,
		billing:      billing,
		outbox:       outbox,
		txManager:    txManager,
		stateMachine: domain.NewInstanceStateMachine(),
	}
}

// RequestInstance creates an instance row in the requested state and
// enqueues provisioning. The instance tier comes from the org's plan.
func (s *ProvisioningService) RequestInstance(ctx context.Context, user *auth.UserSession) (*models.Instance, error) {
	orgID := user.ActiveOrgID
	if err := s.billing.CheckInstanceLimit(ctx, orgID); err != nil {
		return nil, err
	}

	plan, err := s.billing.PlanForOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	instance := &models.Instance{
		ID:    utils.GenerateID(),
		OrgID: orgID,
		Tier:  plan.InstanceTier,
		State: domain.InstanceRequested,
	}
	payload := events.Payload{OrgID: orgID, UserID: user.ID, InstanceID: instance.ID}

	// Row and event commit together; a crash cannot strand a requested
	// instance with no event to drive it.
	err = s.txManager.WithRetry(func(tx *sql.Tx) error {
		if err := s.instances.Insert(ctx, tx, instance); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		return s.outbox.EnqueueEventTx(ctx, tx, events.InstanceRequested, payload)
	}, 3)
	if err != nil {
		return nil, err
	}

	log.Printf("🚀 Instance requested: %s for org %s (tier: %s)", instance.ID, orgID, plan.InstanceTier)
	return instance, nil
}

// GetInstance returns an instance belonging to the caller's org
func (s *ProvisioningService) GetInstance(ctx context.Context, user *auth.UserSession, instanceID string) (*models.Instance, error) {
	instance, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil || instance.OrgID != user.ActiveOrgID {
		return nil, errors.NewNotFoundError("Instance", instanceID)
	}
	return instance, nil
}

// ListInstances returns the org's instances
func (s *ProvisioningService) ListInstances(ctx context.Context, orgID string) ([]models.Instance, error) {
	return s.instances.ListByOrg(ctx, orgID)
}

// RetryInstance re-enqueues provisioning for a failed instance
func (s *ProvisioningService) RetryInstance(ctx context.Context, user *auth.UserSession, instanceID string) error {
	instance, err := s.GetInstance(ctx, user, instanceID)
	if err != nil {
		return err
	}
	if !s.stateMachine.CanTransition(instance.State, domain.TransitionProvision) {
		return errors.NewValidationError("state", fmt.Sprintf("Instance in state '%s' cannot be provisioned", instance.State))
	}

	payload := events.Payload{OrgID: instance.OrgID, UserID: user.ID, InstanceID: instance.ID}
	return s.outbox.EnqueueEvent(ctx, events.InstanceRequested, payload)
}

// DeprovisionInstance enqueues deletion of the platform service
func (s *ProvisioningService) DeprovisionInstance(ctx context.Context, user *auth.UserSession, instanceID string) error {
	instance, err := s.GetInstance(ctx, user, instanceID)
	if err != nil {
		return err
	}
	if !s.stateMachine.CanTransition(instance.State, domain.TransitionDeprovision) {
		return errors.NewValidationError("state", fmt.Sprintf("Instance in state '%s' cannot be deprovisioned", instance.State))
	}

	payload := events.Payload{OrgID: instance.OrgID, UserID: user.ID, InstanceID: instance.ID}
	return s.outbox.EnqueueEvent(ctx, events.InstanceDeprovision, payload)
}

// RegisterHandlers subscribes the provisioning handlers on the bus
func (s *ProvisioningService) RegisterHandlers(bus *EventBus) {
	bus.Subscribe(events.InstanceRequested, s.handleInstanceRequested)
	bus.Subscribe(events.InstanceSuspend, s.handleInstanceSuspend)
	bus.Subscribe(events.InstanceResume, s.handleInstanceResume)
	bus.Subscribe(events.InstanceDeprovision, s.handleInstanceDeprovision)
}

// handleInstanceRequested creates the platform service and waits for it to
// come up. The compare-and-set transition doubles as a claim: a second
// delivery of the same event loses the race and returns clean.
func (s *ProvisioningService) handleInstanceRequested(ctx context.Context, payload events.Payload) error {
	instance, err := s.instances.GetByID(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if instance == nil {
		log.Printf("⏭️ Instance %s vanished before provisioning", payload.InstanceID)
		return nil
	}
	// Stale or duplicate deliveries must not touch instances that already
	// moved on (running, suspended, mid-provision).
	if !s.stateMachine.CanTransition(instance.State, domain.TransitionProvision) {
		log.Printf("⏭️ Instance %s in state %s cannot be provisioned, skipping", instance.ID, instance.State)
		return nil
	}

	moved, err := s.instances.TransitionState(ctx, instance.ID, instance.State, domain.InstanceProvisioning)
	if err != nil {
		return err
	}
	if !moved {
		log.Printf("⏭️ Instance %s no longer in state %s, skipping provision", instance.ID, instance.State)
		return nil
	}

	svc, err := s.platform.CreateService(ctx, platform.CreateServiceRequest{
		Name: fmt.Sprintf("flowdesk-%s", instance.ID),
		Tier: instance.Tier,
		Env: map[string]string{
			"FLOWDESK_ORG_ID":      instance.OrgID,
			"FLOWDESK_INSTANCE_ID": instance.ID,
		},
	})
	if err != nil {
		return s.markFailed(ctx, instance.ID, domain.InstanceProvisioning, fmt.Errorf("platform create failed: %w", err))
	}

	if err := s.instances.SetPlatformDetails(ctx, instance.ID, svc.ID, svc.URL); err != nil {
		return err
	}

	ready, err := s.platform.WaitForRunning(ctx, svc.ID)
	if err != nil {
		return s.markFailed(ctx, instance.ID, domain.InstanceProvisioning, fmt.Errorf("platform readiness failed: %w", err))
	}
	if ready.URL != "" {
		if err := s.instances.SetPlatformDetails(ctx, instance.ID, svc.ID, ready.URL); err != nil {
			return err
		}
	}

	if _, err := s.instances.TransitionState(ctx, instance.ID, domain.InstanceProvisioning, domain.InstanceRunning); err != nil {
		return err
	}

	log.Printf("✅ Instance %s running at %s", instance.ID, ready.URL)
	return nil
}

// handleInstanceSuspend pauses the platform service
func (s *ProvisioningService) handleInstanceSuspend(ctx context.Context, payload events.Payload) error {
	instance, err := s.instances.GetByID(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if instance == nil || instance.State != domain.InstanceRunning {
		log.Printf("⏭️ Instance %s not running, skipping suspend", payload.InstanceID)
		return nil
	}
	if !instance.PlatformServiceID.Valid {
		return fmt.Errorf("instance %s has no platform service", instance.ID)
	}

	if err := s.platform.PauseService(ctx, instance.PlatformServiceID.String); err != nil {
		return fmt.Errorf("platform pause failed: %w", err)
	}

	if _, err := s.instances.TransitionState(ctx, instance.ID, domain.InstanceRunning, domain.InstanceSuspended); err != nil {
		return err
	}
	log.Printf("⏸️ Instance %s suspended", instance.ID)
	return nil
}

// handleInstanceResume restarts a suspended platform service
func (s *ProvisioningService) handleInstanceResume(ctx context.Context, payload events.Payload) error {
	instance, err := s.instances.GetByID(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if instance == nil || instance.State != domain.InstanceSuspended {
		log.Printf("⏭️ Instance %s not suspended, skipping resume", payload.InstanceID)
		return nil
	}
	if !instance.PlatformServiceID.Valid {
		return fmt.Errorf("instance %s has no platform service", instance.ID)
	}

	if err := s.platform.ResumeService(ctx, instance.PlatformServiceID.String); err != nil {
		return fmt.Errorf("platform resume failed: %w", err)
	}

	if _, err := s.instances.TransitionState(ctx, instance.ID, domain.InstanceSuspended, domain.InstanceRunning); err != nil {
		return err
	}
	log.Printf("▶️ Instance %s resumed", instance.ID)
	return nil
}

// handleInstanceDeprovision deletes the platform service
func (s *ProvisioningService) handleInstanceDeprovision(ctx context.Context, payload events.Payload) error {
	instance, err := s.instances.GetByID(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if instance == nil {
		return nil
	}
	if instance.State == domain.InstanceDeprovisioned {
		log.Printf("⏭️ Instance %s already deprovisioned", instance.ID)
		return nil
	}

	if instance.PlatformServiceID.Valid {
		if err := s.platform.DeleteService(ctx, instance.PlatformServiceID.String); err != nil {
			return fmt.Errorf("platform delete failed: %w", err)
		}
	}

	if _, err := s.instances.TransitionState(ctx, instance.ID, instance.State, domain.InstanceDeprovisioned); err != nil {
		return err
	}
	log.Printf("🗑️ Instance %s deprovisioned", instance.ID)
	return nil
}

// markFailed records the failure reason and moves the instance to failed
func (s *ProvisioningService) markFailed(ctx context.Context, instanceID string, from domain.InstanceState, cause error) error {
	log.Printf("❌ Instance %s provisioning failed: %v", instanceID, cause)
	if err := s.instances.SetLastError(ctx, instanceID, cause.Error()); err != nil {
		return err
	}
	if _, err := s.instances.TransitionState(ctx, instanceID, from, domain.InstanceFailed); err != nil {
		return err
	}
	return nil
}

// SweepInstances reconciles running instances against the platform. Called
// by the scheduler; an instance whose service reports failed is marked so.
func (s *ProvisioningService) SweepInstances(ctx context.Context) error {
	running, err := s.instances.ListByState(ctx, domain.InstanceRunning)
	if err != nil {
		return err
	}

	for _, instance := range running {
		if !instance.PlatformServiceID.Valid {
			continue
		}
		svc, err := s.platform.GetService(ctx, instance.PlatformServiceID.String)
		if err != nil {
			log.Printf("⚠️ Health check failed for instance %s: %v", instance.ID, err)
			continue
		}
		if svc.Status == platform.StatusFailed {
			if err := s.markFailed(ctx, instance.ID, domain.InstanceRunning, fmt.Errorf("platform reports service failed")); err != nil {
				log.Printf("⚠️ Failed to record failure for instance %s: %v", instance.ID, err)
			}
		}
	}
	return nil
}
