package services

import (
	"fmt"
	"os"
	"time"

	"github.com/flowdesk/backend/internal/infrastructure/cache"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/broker"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/embeddings"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/mailer"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/platform"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/rules"
)

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	db *database.PostgresConnection

	TxManager *persistence.TransactionManager
	EventBus  *EventBus
	Cache     *cache.RedisCache
	Rules     *rules.Engine

	Auth         *AuthService
	Orgs         *OrgService
	Billing      *BillingService
	Integrations *IntegrationService
	Provisioning *ProvisioningService
	Memory       *MemoryService
	Outbox       *OutboxService
	Scheduler    *SchedulerService
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(db *database.PostgresConnection) (*ServiceManager, error) {
	sm := &ServiceManager{
		db: db,
	}

	// Infrastructure
	sm.TxManager = persistence.NewTransactionManager(db)
	sm.EventBus = NewEventBus()
	sm.Cache = cache.NewRedisCache()
	sm.Rules = rules.NewEngine()

	// Vendor gateways
	mail := mailer.NewSendGridMailer()
	brokerClient := broker.NewHTTPClient(os.Getenv("BROKER_API_URL"), os.Getenv("BROKER_API_KEY"))
	platformClient := platform.NewHTTPClient(os.Getenv("PLATFORM_API_URL"), os.Getenv("PLATFORM_API_TOKEN"))
	embeddingsClient := embeddings.NewHTTPClient(
		os.Getenv("EMBEDDINGS_BASE_URL"),
		os.Getenv("EMBEDDINGS_API_KEY"),
		os.Getenv("EMBEDDINGS_MODEL"),
	)

	// Services in dependency order
	sm.Outbox = NewOutboxService(db, sm.EventBus, sm.TxManager)
	sm.Auth = NewAuthService(db, sm.TxManager, sm.Cache, mail)
	sm.Orgs = NewOrgService(db, sm.TxManager, mail, sm.Auth)
	sm.Billing = NewBillingService(db, sm.Outbox, sm.Cache, os.Getenv("BILLING_WEBHOOK_SECRET"))
	sm.Integrations = NewIntegrationService(db, brokerClient, sm.Billing, sm.Outbox, sm.TxManager, sm.Rules, sm.Cache, os.Getenv("BROKER_WEBHOOK_SECRET"))
	sm.Provisioning = NewProvisioningService(db, platformClient, sm.Billing, sm.Outbox, sm.TxManager)
	sm.Memory = NewMemoryService(db, embeddingsClient, sm.Billing, sm.Cache)

	scheduler, err := NewSchedulerService(sm.Auth, sm.Outbox, sm.Provisioning)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}
	sm.Scheduler = scheduler

	// Event handlers fan in through the outbox worker
	sm.Billing.RegisterHandlers(sm.EventBus)
	sm.Integrations.RegisterHandlers(sm.EventBus)
	sm.Provisioning.RegisterHandlers(sm.EventBus)

	return sm, nil
}

// StartWorkers starts the outbox worker and the maintenance scheduler.
// Call during server startup.
func (sm *ServiceManager) StartWorkers() {
	sm.Outbox.StartWorker(500 * time.Millisecond)
	go sm.Scheduler.Start()
}

// StopWorkers stops background workers gracefully. Call during shutdown.
func (sm *ServiceManager) StopWorkers() {
	sm.Scheduler.Stop()
	sm.Outbox.StopWorker()
	_ = sm.Cache.Close()
}
