package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS phone_document (
		id          UUID PRIMARY KEY,
		query       TEXT NOT NULL DEFAULT '',
		method      TEXT NOT NULL DEFAULT '',
		source      TEXT NOT NULL,
		brand       TEXT NOT NULL,
		model       TEXT NOT NULL,
		url         TEXT NOT NULL,
		document    JSONB NOT NULL,
		scraped_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS phone_document_scraped_at_idx ON phone_document (scraped_at DESC)`,
	`CREATE INDEX IF NOT EXISTS phone_document_brand_idx ON phone_document (brand)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id              UUID PRIMARY KEY,
		aggregate_type  TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         JSONB NOT NULL,
		target_stream   TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		retry_count     INT NOT NULL DEFAULT 0,
		error_message   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at    TIMESTAMPTZ,
		next_retry_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_event_pending_idx ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables used by the phone catalog if missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
