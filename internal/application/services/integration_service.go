package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/flowdesk/backend/internal/domain"
	"github.com/flowdesk/backend/internal/domain/events"
	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/cache"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/broker"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/errors"
	"github.com/flowdesk/backend/pkg/rules"
	"github.com/flowdesk/backend/pkg/utils"
)

// Connection statuses.
const (
	ConnectionStatusActive  = "active"
	ConnectionStatusRevoked = "revoked"
)

// BrokerWebhookEvent is the connector broker's callback envelope. It arrives
// after a user finishes the hosted OAuth flow, and on later credential or
// provider events.
type BrokerWebhookEvent struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	ConnectionID string                 `json:"connection_id"`
	Provider     string                 `json:"provider"`
	EndUserID    string                 `json:"end_user_id"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Broker webhook event types.
const (
	BrokerEventConnectionCreated = "connection.created"
	BrokerEventConnectionRevoked = "connection.revoked"
	BrokerEventProviderEvent     = "provider.event"
)

// IntegrationService manages OAuth connections through the hosted connector
// broker. The broker keeps the provider credentials; the control plane keeps
// a registry row and mirrors credential payloads into the owner's tenant
// schema via the outbox.
type IntegrationService struct {
	db            *database.PostgresConnection
	connections   *persistence.ConnectionRepository
	credentials   *persistence.CredentialRepository
	users         *persistence.UserRepository
	instances     *persistence.InstanceRepository
	broker        broker.Client
	billing       *BillingService
	outbox        *OutboxService
	txManager     *persistence.TransactionManager
	rules         *rules.Engine
	cache         *cache.RedisCache
	httpClient    *http.Client
	webhookSecret string
}

// NewIntegrationService creates a new IntegrationService
func NewIntegrationService(
	db *database.PostgresConnection,
	brokerClient broker.Client,
	billing *BillingService,
	outbox *OutboxService,
	txManager *persistence.TransactionManager,
	rulesEngine *rules.Engine,
	redisCache *cache.RedisCache,
	webhookSecret string,
) *IntegrationService {
	return &IntegrationService{
		db:            db,
		connections:   persistence.NewConnectionRepository(db.DB()),
		credentials:   persistence.NewCredentialRepository(db.DB()),
		users:         persistence.NewUserRepository(db.DB()),
		instances:     persistence.NewInstanceRepository(db.DB()),
		broker:        brokerClient,
		billing:       billing,
		outbox:        outbox,
		txManager:     txManager,
		rules:         rulesEngine,
		cache:         redisCache,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		webhookSecret: webhookSecret,
	}
}

// StartConnect checks the plan limit and asks the broker for a connect
// session. The returned token drives the broker-hosted OAuth UI.
func (s *IntegrationService) StartConnect(ctx context.Context, user *auth.UserSession, provider string) (*broker.ConnectSession, error) {
	if provider == "" {
		return nil, errors.NewValidationError("provider", "Provider is required")
	}
	if err := s.billing.CheckConnectionLimit(ctx, user.ActiveOrgID); err != nil {
		return nil, err
	}

	session, err := s.broker.CreateConnectSession(ctx, user.ID, provider)
	if err != nil {
		return nil, fmt.Errorf("broker connect session failed: %w", err)
	}

	log.Printf("🔌 Connect session created for %s (provider: %s)", user.Email, provider)
	return session, nil
}

// ListConnections returns the org's connections
func (s *IntegrationService) ListConnections(ctx context.Context, orgID string) ([]models.Connection, error) {
	return s.connections.ListByOrg(ctx, orgID)
}

// UpdateEventFilter validates and stores a connection's event filter
// expression. An empty expression matches every event.
func (s *IntegrationService) UpdateEventFilter(ctx context.Context, user *auth.UserSession, connectionID, filter string) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil || conn.OrgID != user.ActiveOrgID {
		return errors.NewNotFoundError("Connection", connectionID)
	}

	if filter != "" {
		if err := s.rules.Validate(filter); err != nil {
			return errors.NewValidationError("event_filter", fmt.Sprintf("Invalid filter expression: %v", err))
		}
	}

	return s.connections.UpdateEventFilter(ctx, connectionID, filter)
}

// RevokeConnection marks a connection revoked and enqueues the cleanup:
// credential removal from the tenant schema and deletion on the broker side.
func (s *IntegrationService) RevokeConnection(ctx context.Context, user *auth.UserSession, connectionID string) error {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil || conn.OrgID != user.ActiveOrgID {
		return errors.NewNotFoundError("Connection", connectionID)
	}
	if conn.Status == ConnectionStatusRevoked {
		return nil
	}

	payload := events.Payload{
		OrgID:        conn.OrgID,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Data:         map[string]interface{}{"provider": conn.Provider, "broker_connection_id": conn.BrokerConnectionID},
	}

	// Status flip and cleanup event commit together
	return s.txManager.WithTransaction(func(tx *sql.Tx) error {
		if err := s.connections.UpdateStatus(ctx, tx, connectionID, ConnectionStatusRevoked); err != nil {
			return err
		}
		return s.outbox.EnqueueEvent(s.txManager.InjectTx(ctx, tx), events.ConnectionRevoked, payload)
	})
}

// HandleBrokerWebhook verifies, deduplicates, and applies a broker callback
func (s *IntegrationService) HandleBrokerWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	if err := VerifyWebhookSignature(s.webhookSecret, signatureHeader, body, time.Now()); err != nil {
		log.Printf("⚠️ Broker webhook rejected: %v", err)
		return errors.NewUnauthorizedError("Invalid webhook signature")
	}

	var event BrokerWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return errors.NewValidationError("body", "Invalid webhook payload")
	}
	if event.ID == "" || event.Type == "" {
		return errors.NewValidationError("body", "Webhook event missing id or type")
	}

	if !s.cache.MarkEventProcessed(ctx, event.ID) {
		log.Printf("⏭️ Broker webhook %s already processed, skipping", event.ID)
		return nil
	}

	log.Printf("🔌 Broker webhook received: %s (%s)", event.Type, event.ID)

	if err := s.applyEvent(ctx, &event); err != nil {
		// Release the dedupe claim so the broker's retry gets through
		s.cache.UnmarkEventProcessed(ctx, event.ID)
		return err
	}
	return nil
}

func (s *IntegrationService) applyEvent(ctx context.Context, event *BrokerWebhookEvent) error {
	switch event.Type {
	case BrokerEventConnectionCreated:
		return s.registerConnection(ctx, event)
	case BrokerEventConnectionRevoked:
		return s.revokeFromBroker(ctx, event)
	case BrokerEventProviderEvent:
		return s.dispatchProviderEvent(ctx, event)
	default:
		log.Printf("⏭️ Ignoring unhandled broker event type: %s", event.Type)
		return nil
	}
}

// registerConnection records a finished OAuth flow and enqueues the
// credential mirror into the owner's tenant schema.
func (s *IntegrationService) registerConnection(ctx context.Context, event *BrokerWebhookEvent) error {
	user, err := s.users.GetByID(ctx, event.EndUserID)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		return errors.NewNotFoundError("User", event.EndUserID)
	}
	if !user.ActiveOrgID.Valid {
		return errors.NewValidationError("end_user_id", "User has no active organization")
	}

	existing, err := s.connections.GetByBrokerID(ctx, event.ConnectionID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("⏭️ Connection %s already registered", event.ConnectionID)
		return nil
	}

	conn := &models.Connection{
		ID:                 utils.GenerateID(),
		OrgID:              user.ActiveOrgID.String,
		UserID:             user.ID,
		Provider:           event.Provider,
		BrokerConnectionID: event.ConnectionID,
		Status:             ConnectionStatusActive,
	}
	payload := events.Payload{
		OrgID:        conn.OrgID,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Data:         map[string]interface{}{"provider": conn.Provider, "broker_connection_id": conn.BrokerConnectionID},
	}

	// Registry row and mirror event commit together
	return s.txManager.WithTransaction(func(tx *sql.Tx) error {
		if err := s.connections.Insert(ctx, tx, conn); err != nil {
			return err
		}
		return s.outbox.EnqueueEventTx(ctx, tx, events.ConnectionCreated, payload)
	})
}

// revokeFromBroker handles a revocation initiated on the broker or provider
// side (user uninstalled the app, token revoked upstream).
func (s *IntegrationService) revokeFromBroker(ctx context.Context, event *BrokerWebhookEvent) error {
	conn, err := s.connections.GetByBrokerID(ctx, event.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		log.Printf("⏭️ Revocation for unknown broker connection %s", event.ConnectionID)
		return nil
	}
	if conn.Status == ConnectionStatusRevoked {
		return nil
	}

	payload := events.Payload{
		OrgID:        conn.OrgID,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Data:         map[string]interface{}{"provider": conn.Provider, "broker_connection_id": conn.BrokerConnectionID, "broker_initiated": true},
	}

	return s.txManager.WithTransaction(func(tx *sql.Tx) error {
		if err := s.connections.UpdateStatus(ctx, tx, conn.ID, ConnectionStatusRevoked); err != nil {
			return err
		}
		return s.outbox.EnqueueEventTx(ctx, tx, events.ConnectionRevoked, payload)
	})
}

// dispatchProviderEvent applies the connection's event filter to an inbound
// provider event. Matching events are forwarded to the org's running
// instance and counted against usage.
func (s *IntegrationService) dispatchProviderEvent(ctx context.Context, event *BrokerWebhookEvent) error {
	conn, err := s.connections.GetByBrokerID(ctx, event.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil || conn.Status != ConnectionStatusActive {
		log.Printf("⏭️ Provider event for inactive connection %s", event.ConnectionID)
		return nil
	}

	matched, err := s.MatchesFilter(conn, event.Payload)
	if err != nil {
		log.Printf("⚠️ Event filter error on connection %s: %v", conn.ID, err)
		// A broken filter must not drop events silently
		matched = true
	}
	if !matched {
		log.Printf("⏭️ Provider event filtered out on connection %s", conn.ID)
		return nil
	}

	if err := s.forwardToInstance(ctx, conn, event); err != nil {
		return err
	}

	s.cache.IncrementUsage(ctx, conn.OrgID, "provider_events")
	log.Printf("📨 Provider event forwarded on connection %s (provider: %s)", conn.ID, conn.Provider)
	return nil
}

// forwardToInstance delivers a matched provider event to the org's running
// workflow instance. With no running instance the event is dropped; the org
// opted into events before provisioning anything that consumes them.
func (s *IntegrationService) forwardToInstance(ctx context.Context, conn *models.Connection, event *BrokerWebhookEvent) error {
	instances, err := s.instances.ListByOrg(ctx, conn.OrgID)
	if err != nil {
		return err
	}

	var target *models.Instance
	for i := range instances {
		if instances[i].State == domain.InstanceRunning && instances[i].URL.Valid {
			target = &instances[i]
			break
		}
	}
	if target == nil {
		log.Printf("⏭️ No running instance for org %s, dropping provider event %s", conn.OrgID, event.ID)
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
		"payload":       event.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL.String+"/hooks/provider", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instance delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("instance delivery failed: status %d", resp.StatusCode)
	}
	return nil
}

// MatchesFilter evaluates the connection's filter expression against an
// event payload. Connections without a filter accept everything.
func (s *IntegrationService) MatchesFilter(conn *models.Connection, payload map[string]interface{}) (bool, error) {
	env := map[string]interface{}{
		"provider": conn.Provider,
		"event":    payload,
	}
	return s.rules.EvaluateBool(conn.EventFilter, env)
}

// RegisterHandlers subscribes the credential mirror handlers on the bus
func (s *IntegrationService) RegisterHandlers(bus *EventBus) {
	bus.Subscribe(events.ConnectionCreated, s.handleConnectionCreated)
	bus.Subscribe(events.ConnectionRevoked, s.handleConnectionRevoked)
}

// handleConnectionCreated pulls the credential payload from the broker and
// mirrors it into the owner's tenant schema.
func (s *IntegrationService) handleConnectionCreated(ctx context.Context, payload events.Payload) error {
	conn, err := s.connections.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		log.Printf("⏭️ Connection %s vanished before credential mirror", payload.ConnectionID)
		return nil
	}

	creds, err := s.broker.GetCredentials(ctx, conn.BrokerConnectionID)
	if err != nil {
		return fmt.Errorf("failed to fetch broker credentials: %w", err)
	}

	schema, err := persistence.SchemaName(conn.UserID)
	if err != nil {
		return err
	}

	cred := &models.SocialCredential{
		ID:       utils.GenerateID(),
		Provider: conn.Provider,
		Payload:  string(creds.Payload),
	}
	if err := s.credentials.Upsert(ctx, schema, cred); err != nil {
		return fmt.Errorf("failed to mirror credentials: %w", err)
	}

	log.Printf("✅ Credentials mirrored for %s into %s", conn.Provider, schema)
	return nil
}

// handleConnectionRevoked removes the mirrored credential and deletes the
// connection on the broker side.
func (s *IntegrationService) handleConnectionRevoked(ctx context.Context, payload events.Payload) error {
	provider, _ := payload.Data["provider"].(string)
	brokerConnectionID, _ := payload.Data["broker_connection_id"].(string)
	brokerInitiated, _ := payload.Data["broker_initiated"].(bool)

	schema, err := persistence.SchemaName(payload.UserID)
	if err != nil {
		return err
	}
	if err := s.credentials.DeleteByProvider(ctx, schema, provider); err != nil {
		return fmt.Errorf("failed to remove mirrored credentials: %w", err)
	}

	// The broker already knows when it told us
	if !brokerInitiated && brokerConnectionID != "" {
		if err := s.broker.DeleteConnection(ctx, brokerConnectionID); err != nil {
			return fmt.Errorf("failed to delete broker connection: %w", err)
		}
	}

	log.Printf("✅ Connection %s cleanup complete (provider: %s)", payload.ConnectionID, provider)
	return nil
}
