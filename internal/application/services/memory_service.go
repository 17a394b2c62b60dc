package services

import (
	"context"
	"fmt"
	"log"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/internal/infrastructure/cache"
	"github.com/flowdesk/backend/internal/infrastructure/database"
	"github.com/flowdesk/backend/internal/infrastructure/gateway/embeddings"
	"github.com/flowdesk/backend/internal/infrastructure/persistence"
	"github.com/flowdesk/backend/pkg/auth"
	"github.com/flowdesk/backend/pkg/constants"
	"github.com/flowdesk/backend/pkg/errors"
	"github.com/flowdesk/backend/pkg/utils"
)

// Memory search defaults.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// MemoryService stores and searches vector memory inside the caller's
// tenant schema. Embeddings come from the configured provider; the plan
// caps how many entries a tenant can hold.
type MemoryService struct {
	db         *database.PostgresConnection
	memories   *persistence.MemoryRepository
	tenants    *persistence.TenantSchemaOps
	embeddings embeddings.Client
	billing    *BillingService
	cache      *cache.RedisCache
}

// NewMemoryService creates a new MemoryService
func NewMemoryService(
	db *database.PostgresConnection,
	embeddingsClient embeddings.Client,
	billing *BillingService,
	redisCache *cache.RedisCache,
) *MemoryService {
	return &MemoryService{
		db:         db,
		memories:   persistence.NewMemoryRepository(db.DB()),
		tenants:    persistence.NewTenantSchemaOps(db.DB()),
		embeddings: embeddingsClient,
		billing:    billing,
		cache:      redisCache,
	}
}

// AddMemory embeds the content and stores it in the caller's tenant schema
func (s *MemoryService) AddMemory(ctx context.Context, user *auth.UserSession, content string, metadata map[string]interface{}) (*models.MemoryEntry, error) {
	if content == "" {
		return nil, errors.NewValidationError("content", "Content is required")
	}

	schema, err := persistence.SchemaName(user.ID)
	if err != nil {
		return nil, err
	}

	count, err := s.memories.Count(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to count memory entries: %w", err)
	}
	if err := s.billing.CheckMemoryLimit(ctx, user.ActiveOrgID, count); err != nil {
		return nil, err
	}

	embedding, err := s.embeddings.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(embedding) != constants.EmbeddingDimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), constants.EmbeddingDimension)
	}

	entry := &models.MemoryEntry{
		ID:       utils.GenerateID(),
		Content:  content,
		Metadata: metadata,
	}
	if err := s.memories.Insert(ctx, schema, entry, embedding); err != nil {
		return nil, fmt.Errorf("failed to store memory entry: %w", err)
	}

	s.cache.IncrementUsage(ctx, user.ActiveOrgID, "memory_writes")
	log.Printf("🧠 Memory entry stored for user %s (%s)", user.ID, entry.ID)
	return entry, nil
}

// SearchMemory embeds the query and returns the nearest entries by cosine
// distance.
func (s *MemoryService) SearchMemory(ctx context.Context, user *auth.UserSession, query string, limit int) ([]models.MemoryEntry, error) {
	if query == "" {
		return nil, errors.NewValidationError("query", "Query is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	schema, err := persistence.SchemaName(user.ID)
	if err != nil {
		return nil, err
	}

	embedding, err := s.embeddings.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.memories.Search(ctx, schema, embedding, limit)
}

// ListMemory returns the most recent entries without vector scoring
func (s *MemoryService) ListMemory(ctx context.Context, user *auth.UserSession, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	schema, err := persistence.SchemaName(user.ID)
	if err != nil {
		return nil, err
	}
	return s.memories.List(ctx, schema, limit)
}

// DeleteMemory removes a single entry from the caller's tenant schema
func (s *MemoryService) DeleteMemory(ctx context.Context, user *auth.UserSession, entryID string) error {
	if !utils.IsValidUUID(entryID) {
		return errors.NewValidationError("id", "Invalid entry ID")
	}

	schema, err := persistence.SchemaName(user.ID)
	if err != nil {
		return err
	}
	return s.memories.Delete(ctx, schema, entryID)
}
