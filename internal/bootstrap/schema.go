package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/pkg/constants"
)

// InitializeSchema creates the control-plane tables in the public schema.
// All statements are idempotent; startup runs this unconditionally.
// Tenant schemas are created separately at signup.
func InitializeSchema(db *database.PostgresConnection) error {
	log.Println("🔧 Initializing control-plane schema...")

	statements := []string{
		// pgvector must be installed before any tenant schema is created
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  email VARCHAR(255) NOT NULL UNIQUE,
  password_hash VARCHAR(255) NOT NULL,
  active_org_id UUID,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableUser),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  ip_address VARCHAR(64),
  user_agent TEXT,
  is_revoked BOOLEAN NOT NULL DEFAULT FALSE,
  last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableSession),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  owner_id UUID NOT NULL REFERENCES users(id),
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableOrganization),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  role VARCHAR(32) NOT NULL,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (org_id, user_id)
)`, constants.TableOrgMember),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id VARCHAR(64) PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  max_connections INT NOT NULL,
  max_memory_entries INT NOT NULL,
  max_instances INT NOT NULL,
  instance_tier VARCHAR(64) NOT NULL
)`, constants.TablePlan),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE UNIQUE,
  plan_id VARCHAR(64) NOT NULL REFERENCES plans(id),
  status VARCHAR(32) NOT NULL,
  external_ref VARCHAR(255) UNIQUE,
  period_end TIMESTAMPTZ,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableSubscription),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
  user_id UUID NOT NULL REFERENCES users(id),
  provider VARCHAR(64) NOT NULL,
  broker_connection_id VARCHAR(255) NOT NULL UNIQUE,
  event_filter TEXT NOT NULL DEFAULT '',
  status VARCHAR(32) NOT NULL,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableConnection),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  org_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
  tier VARCHAR(64) NOT NULL,
  state VARCHAR(32) NOT NULL,
  platform_service_id VARCHAR(255),
  url TEXT,
  last_error TEXT,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableInstance),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id UUID PRIMARY KEY,
  event_type VARCHAR(128) NOT NULL,
  payload JSONB NOT NULL,
  status VARCHAR(32) NOT NULL,
  retry_count INT NOT NULL DEFAULT 0,
  error_message TEXT,
  processed_date TIMESTAMPTZ,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_modified_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, constants.TableOutboxEvent),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON %s (status, created_date)`,
			constants.TableOutboxEvent),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON %s (expires_at)`,
			constants.TableSession),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_instances_org_state ON %s (org_id, state)`,
			constants.TableInstance),
	}

	ctx := context.Background()
	for _, ddl := range statements {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}
	}

	log.Println("✅ Control-plane schema ready")
	return nil
}
