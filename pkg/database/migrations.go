package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateGINIndexes creates full-text and JSONB containment search indexes for PostgreSQL.
// These indexes enable efficient search over task titles and the events/sub_tasks blobs
// (e.g. "find tasks whose terminal report mentions OOMKilled").
// Applied as raw idempotent SQL on every startup rather than migration DDL, since the
// expression indexes below aren't something a plain schema definition generates.
func CreateGINIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_title_gin
		ON tasks USING gin(to_tsvector('english', title))`)
	if err != nil {
		return fmt.Errorf("failed to create title GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_events_gin
		ON tasks USING gin(events jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to create events GIN index: %w", err)
	}

	return nil
}
