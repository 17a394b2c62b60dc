package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowdesk/backend/internal/domain/models"
	"github.com/flowdesk/backend/pkg/constants"
)

// MemoryRepository reads and writes memory entries inside a tenant schema.
// Every method takes the already-validated schema name from TenantSchemaOps;
// only $n placeholders carry user data.
type MemoryRepository struct {
	db *sql.DB
}

// NewMemoryRepository creates a new MemoryRepository
func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// VectorLiteral renders an embedding as a pgvector input literal:
// [0.1,0.2,...]. Passed as a bind parameter and cast with ::vector.
func VectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Insert stores a memory entry with its embedding
func (r *MemoryRepository) Insert(ctx context.Context, schema string, entry *models.MemoryEntry, embedding []float32) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal memory metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.%s (id, content, embedding, metadata, created_date)
		VALUES ($1, $2, $3::vector, $4, NOW())`,
		schema, constants.TenantTableMemory)

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Content, VectorLiteral(embedding), metadataJSON)
	return err
}

// Search returns the entries closest to the query embedding by cosine
// distance, nearest first.
func (r *MemoryRepository) Search(ctx context.Context, schema string, embedding []float32, limit int) ([]models.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding <=> $1::vector AS distance, created_date
		FROM %s.%s
		ORDER BY distance ASC
		LIMIT $2`,
		schema, constants.TenantTableMemory)

	rows, err := r.db.QueryContext(ctx, query, VectorLiteral(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemoryRows(rows, true)
}

// List returns the most recent entries without vector scoring
func (r *MemoryRepository) List(ctx context.Context, schema string, limit int) ([]models.MemoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, created_date
		FROM %s.%s
		ORDER BY created_date DESC
		LIMIT $1`,
		schema, constants.TenantTableMemory)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMemoryRows(rows, false)
}

func scanMemoryRows(rows *sql.Rows, withDistance bool) ([]models.MemoryEntry, error) {
	var entries []models.MemoryEntry
	for rows.Next() {
		var e models.MemoryEntry
		var metadataJSON []byte

		var err error
		if withDistance {
			err = rows.Scan(&e.ID, &e.Content, &metadataJSON, &e.Distance, &e.CreatedDate)
		} else {
			err = rows.Scan(&e.ID, &e.Content, &metadataJSON, &e.CreatedDate)
		}
		if err != nil {
			return nil, err
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal memory metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries in the tenant's memory table
func (r *MemoryRepository) Count(ctx context.Context, schema string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, constants.TenantTableMemory)

	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// Delete removes a single entry
func (r *MemoryRepository) Delete(ctx context.Context, schema, id string) error {
	query := fmt.Sprintf("DELETE FROM %s.%s WHERE id = $1", schema, constants.TenantTableMemory)
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}
