package bootstrap

import (
	"context"
	"log"
	"os"

	"github.com/flowdesk/backend/internal/application/services"
	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/constants"
)

// InitializeSystemData seeds plan rows and the initial platform admin.
// Safe to run on every startup.
func InitializeSystemData(db *database.PostgresConnection, svcMgr *services.ServiceManager) error {
	log.Println("🔧 Initializing system data...")

	ctx := context.Background()
	subs := persistence.NewSubscriptionRepository(db.DB())

	plans := []*models.Plan{
		{
			ID:               constants.PlanFree,
			Name:             "Free",
			MaxConnections:   2,
			MaxMemoryEntries: 200,
			MaxInstances:     1,
			InstanceTier:     "nf-compute-10",
		},
		{
			ID:               constants.PlanStarter,
			Name:             "Starter",
			MaxConnections:   10,
			MaxMemoryEntries: 5000,
			MaxInstances:     1,
			InstanceTier:     "nf-compute-50",
		},
		{
			ID:               constants.PlanPro,
			Name:             "Pro",
			MaxConnections:   50,
			MaxMemoryEntries: 50000,
			MaxInstances:     3,
			InstanceTier:     "nf-compute-200",
		},
	}

	for _, p := range plans {
		if err := subs.UpsertPlan(ctx, p); err != nil {
			return err
		}
	}
	log.Printf("✅ Seeded %d plans", len(plans))

	if err := seedInitialAdmin(ctx, db, svcMgr); err != nil {
		return err
	}

	return nil
}

// seedInitialAdmin creates the first platform admin from ADMIN_EMAIL and
// ADMIN_PASSWORD. Skipped when unset or when an admin already exists.
func seedInitialAdmin(ctx context.Context, db *database.PostgresConnection, svcMgr *services.ServiceManager) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Println("⚠️ ADMIN_EMAIL/ADMIN_PASSWORD not set, skipping admin seed")
		return nil
	}

	users := persistence.NewUserRepository(db.DB())

	count, err := users.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	// The admin may exist as a regular user from a previous partial seed
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing == nil {
		result, err := svcMgr.Auth.Signup(ctx, "Platform Admin", email, password, "", "bootstrap")
		if err != nil {
			return err
		}
		existing = &models.User{ID: result.User.ID}
	}

	if err := users.SetAdmin(ctx, existing.ID, true); err != nil {
		return err
	}

	log.Printf("✅ Seeded platform admin %s", email)
	return nil
}
