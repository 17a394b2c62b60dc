package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"

	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/utils"
)

// TenantSchemaOps creates and drops per-tenant Postgres schemas. All DDL is
// assembled from validated identifiers; user input never reaches a statement
// unvalidated.
type TenantSchemaOps struct {
	db *sql.DB
}

// NewTenantSchemaOps creates a new TenantSchemaOps
func NewTenantSchemaOps(db *sql.DB) *TenantSchemaOps {
	return &TenantSchemaOps{db: db}
}

// validSchemaName rejects anything that is not a plain lowercase identifier.
var validSchemaName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SchemaName derives the tenant schema name from a user ID.
func SchemaName(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("empty user ID for tenant schema")
	}
	name := constants.TenantSchemaPrefix + utils.SchemaSuffix(userID)
	if !validSchemaName.MatchString(name) {
		return "", fmt.Errorf("invalid tenant schema name derived from user ID '%s'", userID)
	}
	return name, nil
}

// EnsureTenantSchema creates the tenant schema and its tables if missing.
// Safe to call repeatedly.
func (t *TenantSchemaOps) EnsureTenantSchema(ctx context.Context, userID string) (string, error) {
	schema, err := SchemaName(userID)
	if err != nil {
		return "", err
	}

	log.Printf("📐 Ensuring tenant schema: %s", schema)

	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
  id UUID PRIMARY KEY,
  content TEXT NOT NULL,
  embedding vector(%d),
  metadata JSONB NOT NULL DEFAULT '{}',
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema, constants.TenantTableMemory, constants.EmbeddingDimension),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
  id UUID PRIMARY KEY,
  provider VARCHAR(64) NOT NULL,
  payload JSONB NOT NULL,
  created_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (provider)
)`, schema, constants.TenantTableCredentials),
	}

	for _, ddl := range statements {
		if _, err := t.db.ExecContext(ctx, ddl); err != nil {
			log.Printf("❌ Tenant DDL failed for %s: %v", schema, err)
			return "", fmt.Errorf("failed to ensure tenant schema %s: %w", schema, err)
		}
	}

	log.Printf("✅ Tenant schema ready: %s", schema)
	return schema, nil
}

// DropTenantSchema removes a tenant schema and everything in it.
// Used when an account is deleted.
func (t *TenantSchemaOps) DropTenantSchema(ctx context.Context, userID string) error {
	schema, err := SchemaName(userID)
	if err != nil {
		return err
	}

	log.Printf("🗑️ Dropping tenant schema: %s", schema)
	_, err = t.db.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, schema))
	if err != nil {
		return fmt.Errorf("failed to drop tenant schema %s: %w", schema, err)
	}
	return nil
}

// SchemaExists reports whether the tenant schema has been created.
func (t *TenantSchemaOps) SchemaExists(ctx context.Context, userID string) (bool, error) {
	schema, err := SchemaName(userID)
	if err != nil {
		return false, err
	}

	var exists bool
	err = t.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schema).Scan(&exists)
	return exists, err
}
