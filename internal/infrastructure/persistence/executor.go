package persistence

import (
	"context"
	"database/sql"
)

// Executor abstracts *sql.DB and *sql.Tx so repository methods can run
// either standalone or inside a caller-owned transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
