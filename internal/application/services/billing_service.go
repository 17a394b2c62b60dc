package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/flowdesk/backend/internal/domain"
	"github.com/flowdesk/backend/internal/domain/events"
	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/cache"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
)

// Billing provider webhook event types.
const (
	BillingEventSubscriptionCreated = "subscription.created"
	BillingEventSubscriptionUpdated = "subscription.updated"
	BillingEventSubscriptionDeleted = "subscription.deleted"
	BillingEventInvoicePaid         = "invoice.paid"
	BillingEventPaymentFailed       = "invoice.payment_failed"
)

// BillingWebhookEvent is the provider's webhook envelope
type BillingWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SubscriptionRef string `json:"subscription"`
		OrgID           string `json:"org_id"`
		Plan            string `json:"plan"`
		PeriodEnd       int64  `json:"period_end"`
	} `json:"data"`
}

// BillingService owns plans, subscriptions, and the billing provider
// webhook. Suspend and resume side effects flow through the outbox so a
// crashed webhook handler never loses them.
type BillingService struct {
	db            *database.PostgresConnection
	subs          *persistence.SubscriptionRepository
	instances     *persistence.InstanceRepository
	connections   *persistence.ConnectionRepository
	outbox        *OutboxService
	cache         *cache.RedisCache
	webhookSecret string
}

// NewBillingService creates a new BillingService
func NewBillingService(db *database.PostgresConnection, outbox *OutboxService, redisCache *cache.RedisCache, webhookSecret string) *BillingService {
	return &BillingService{
		db:            db,
		subs:          persistence.NewSubscriptionRepository(db.DB()),
		instances:     persistence.NewInstanceRepository(db.DB()),
		connections:   persistence.NewConnectionRepository(db.DB()),
		outbox:        outbox,
		cache:         redisCache,
		webhookSecret: webhookSecret,
	}
}

// GetSubscription returns the org's subscription together with its plan
func (s *BillingService) GetSubscription(ctx context.Context, orgID string) (*models.Subscription, *models.Plan, error) {
	sub, err := s.subs.GetByOrg(ctx, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("database error: %w", err)
	}
	if sub == nil {
		return nil, nil, errors.NewNotFoundError("Subscription", orgID)
	}

	plan, err := s.subs.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("database error: %w", err)
	}
	if plan == nil {
		return nil, nil, errors.NewNotFoundError("Plan", sub.PlanID)
	}
	return sub, plan, nil
}

// PlanForOrg returns the active plan limits for an organization
func (s *BillingService) PlanForOrg(ctx context.Context, orgID string) (*models.Plan, error) {
	_, plan, err := s.GetSubscription(ctx, orgID)
	return plan, err
}

// CheckConnectionLimit errors when the org has used up its connection quota
func (s *BillingService) CheckConnectionLimit(ctx context.Context, orgID string) error {
	plan, err := s.PlanForOrg(ctx, orgID)
	if err != nil {
		return err
	}
	count, err := s.connections.CountByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= plan.MaxConnections {
		return errors.NewLimitError("connections", plan.MaxConnections)
	}
	return nil
}

// CheckInstanceLimit errors when the org has used up its instance quota
func (s *BillingService) CheckInstanceLimit(ctx context.Context, orgID string) error {
	plan, err := s.PlanForOrg(ctx, orgID)
	if err != nil {
		return err
	}
	count, err := s.instances.CountActiveByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= plan.MaxInstances {
		return errors.NewLimitError("instances", plan.MaxInstances)
	}
	return nil
}

// CheckMemoryLimit errors when a tenant's memory table is at the plan cap
func (s *BillingService) CheckMemoryLimit(ctx context.Context, orgID string, currentCount int) error {
	plan, err := s.PlanForOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if currentCount >= plan.MaxMemoryEntries {
		return errors.NewLimitError("memory entries", plan.MaxMemoryEntries)
	}
	return nil
}

// HandleWebhook verifies, deduplicates, and applies a billing provider
// webhook. Duplicate deliveries are acknowledged without effect.
func (s *BillingService) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	if err := VerifyWebhookSignature(s.webhookSecret, signatureHeader, body, time.Now()); err != nil {
		log.Printf("⚠️ Billing webhook rejected: %v", err)
		return errors.NewUnauthorizedError("Invalid webhook signature")
	}

	var event BillingWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return errors.NewValidationError("body", "Invalid webhook payload")
	}
	if event.ID == "" || event.Type == "" {
		return errors.NewValidationError("body", "Webhook event missing id or type")
	}

	if !s.cache.MarkEventProcessed(ctx, event.ID) {
		log.Printf("⏭️ Billing webhook %s already processed, skipping", event.ID)
		return nil
	}

	log.Printf("💳 Billing webhook received: %s (%s)", event.Type, event.ID)

	if err := s.applyEvent(ctx, &event); err != nil {
		// Release the dedupe claim so the provider's retry gets through
		s.cache.UnmarkEventProcessed(ctx, event.ID)
		return err
	}
	return nil
}

func (s *BillingService) applyEvent(ctx context.Context, event *BillingWebhookEvent) error {
	switch event.Type {
	case BillingEventSubscriptionCreated, BillingEventSubscriptionUpdated:
		return s.applySubscriptionChange(ctx, event)
	case BillingEventInvoicePaid:
		return s.applyInvoicePaid(ctx, event)
	case BillingEventPaymentFailed:
		return s.applyPaymentFailed(ctx, event)
	case BillingEventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, event)
	default:
		log.Printf("⏭️ Ignoring unhandled billing event type: %s", event.Type)
		return nil
	}
}

// applySubscriptionChange links the provider subscription and moves the org
// to the purchased plan.
func (s *BillingService) applySubscriptionChange(ctx context.Context, event *BillingWebhookEvent) error {
	sub, err := s.findSubscription(ctx, event)
	if err != nil {
		return err
	}

	plan, err := s.subs.GetPlan(ctx, event.Data.Plan)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if plan == nil {
		return errors.NewValidationError("plan", fmt.Sprintf("Unknown plan '%s'", event.Data.Plan))
	}

	sub.PlanID = plan.ID
	sub.Status = constants.SubscriptionActive
	sub.ExternalRef = sql.NullString{String: event.Data.SubscriptionRef, Valid: event.Data.SubscriptionRef != ""}
	if event.Data.PeriodEnd > 0 {
		sub.PeriodEnd = sql.NullTime{Time: time.Unix(event.Data.PeriodEnd, 0), Valid: true}
	}

	if err := s.subs.Update(ctx, sub); err != nil {
		return err
	}

	log.Printf("✅ Org %s moved to plan %s", sub.OrgID, plan.ID)
	return s.outbox.EnqueueEvent(ctx, events.SubscriptionChanged, events.Payload{OrgID: sub.OrgID})
}

// applyInvoicePaid reactivates the subscription and resumes any instances
// suspended while it was past due.
func (s *BillingService) applyInvoicePaid(ctx context.Context, event *BillingWebhookEvent) error {
	sub, err := s.findSubscription(ctx, event)
	if err != nil {
		return err
	}

	if err := s.subs.UpdateStatus(ctx, sub.ID, constants.SubscriptionActive); err != nil {
		return err
	}
	if event.Data.PeriodEnd > 0 {
		if err := s.subs.ExtendPeriod(ctx, sub.ID, time.Unix(event.Data.PeriodEnd, 0)); err != nil {
			return err
		}
	}

	return s.enqueueForInstances(ctx, sub.OrgID, domain.InstanceSuspended, events.InstanceResume)
}

// applyPaymentFailed marks the subscription past due and suspends running
// instances until the invoice settles.
func (s *BillingService) applyPaymentFailed(ctx context.Context, event *BillingWebhookEvent) error {
	sub, err := s.findSubscription(ctx, event)
	if err != nil {
		return err
	}

	if err := s.subs.UpdateStatus(ctx, sub.ID, constants.SubscriptionPastDue); err != nil {
		return err
	}
	log.Printf("⚠️ Org %s subscription past due, suspending instances", sub.OrgID)

	return s.enqueueForInstances(ctx, sub.OrgID, domain.InstanceRunning, events.InstanceSuspend)
}

// applySubscriptionDeleted downgrades the org to the free plan and suspends
// instances the free tier does not cover.
func (s *BillingService) applySubscriptionDeleted(ctx context.Context, event *BillingWebhookEvent) error {
	sub, err := s.findSubscription(ctx, event)
	if err != nil {
		return err
	}

	sub.PlanID = constants.PlanFree
	sub.Status = constants.SubscriptionCanceled
	sub.ExternalRef = sql.NullString{}
	sub.PeriodEnd = sql.NullTime{}
	if err := s.subs.Update(ctx, sub); err != nil {
		return err
	}
	log.Printf("💳 Org %s subscription canceled, downgraded to free", sub.OrgID)

	if err := s.enqueueForInstances(ctx, sub.OrgID, domain.InstanceRunning, events.InstanceSuspend); err != nil {
		return err
	}
	return s.outbox.EnqueueEvent(ctx, events.SubscriptionChanged, events.Payload{OrgID: sub.OrgID})
}

// findSubscription resolves the webhook's target by external reference
// first, falling back to the org ID for first-time subscription events.
func (s *BillingService) findSubscription(ctx context.Context, event *BillingWebhookEvent) (*models.Subscription, error) {
	if event.Data.SubscriptionRef != "" {
		sub, err := s.subs.GetByExternalRef(ctx, event.Data.SubscriptionRef)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if sub != nil {
			return sub, nil
		}
	}

	if event.Data.OrgID != "" {
		sub, err := s.subs.GetByOrg(ctx, event.Data.OrgID)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if sub != nil {
			return sub, nil
		}
	}

	return nil, errors.NewNotFoundError("Subscription", event.Data.SubscriptionRef)
}

// enqueueForInstances enqueues one lifecycle event per org instance in the
// given state.
func (s *BillingService) enqueueForInstances(ctx context.Context, orgID string, state domain.InstanceState, eventType events.EventType) error {
	instances, err := s.instances.ListByOrg(ctx, orgID)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		if inst.State != state {
			continue
		}
		payload := events.Payload{OrgID: orgID, InstanceID: inst.ID}
		if err := s.outbox.EnqueueEvent(ctx, eventType, payload); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHandlers subscribes billing's event handlers on the bus
func (s *BillingService) RegisterHandlers(bus *EventBus) {
	bus.Subscribe(events.SubscriptionChanged, s.handleSubscriptionChanged)
}

// handleSubscriptionChanged re-checks plan limits after a plan move. Usage
// above the new limits is reported, never destroyed.
func (s *BillingService) handleSubscriptionChanged(ctx context.Context, payload events.Payload) error {
	plan, err := s.PlanForOrg(ctx, payload.OrgID)
	if err != nil {
		return err
	}

	connCount, err := s.connections.CountByOrg(ctx, payload.OrgID)
	if err != nil {
		return err
	}
	if connCount > plan.MaxConnections {
		log.Printf("⚠️ Org %s has %d connections, above plan limit %d", payload.OrgID, connCount, plan.MaxConnections)
	}

	instCount, err := s.instances.CountActiveByOrg(ctx, payload.OrgID)
	if err != nil {
		return err
	}
	if instCount > plan.MaxInstances {
		log.Printf("⚠️ Org %s has %d instances, above plan limit %d", payload.OrgID, instCount, plan.MaxInstances)
	}

	return nil
}
