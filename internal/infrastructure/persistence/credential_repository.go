package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// CredentialRepository mirrors broker credential payloads into the tenant
// schema so the tenant's instance can read them directly.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert writes a credential payload, replacing any prior payload for the
// same provider.
func (r *CredentialRepository) Upsert(ctx context.Context, schema string, cred *models.SocialCredential) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.%s (id, provider, payload, created_date)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider) DO UPDATE SET payload = EXCLUDED.payload`,
		schema, constants.TenantTableCredentials)

	_, err := r.db.ExecContext(ctx, query, cred.ID, cred.Provider, cred.Payload)
	return err
}

// DeleteByProvider removes the credential for a provider
func (r *CredentialRepository) DeleteByProvider(ctx context.Context, schema, provider string) error {
	query := fmt.Sprintf("DELETE FROM %s.%s WHERE provider = $1",
		schema, constants.TenantTableCredentials)

	_, err := r.db.ExecContext(ctx, query, provider)
	return err
}

// ListProviders returns the providers with mirrored credentials
func (r *CredentialRepository) ListProviders(ctx context.Context, schema string) ([]string, error) {
	query := fmt.Sprintf("SELECT provider FROM %s.%s ORDER BY provider ASC",
		schema, constants.TenantTableCredentials)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
