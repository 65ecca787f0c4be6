package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaStatements creates the pipeline tables. ON DELETE CASCADE carries the
// no-orphans invariant: removing a source removes its items and their queue
// slots in one statement. item_id is unique per queue table so an item can
// hold at most one slot in each.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		last_checked TIMESTAMPTZ,
		check_interval_seconds BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		payload TEXT NOT NULL,
		discovered_at TIMESTAMPTZ NOT NULL,
		rank DOUBLE PRECISION,
		ranked_at TIMESTAMPTZ,
		CONSTRAINT uq_items_source_guid UNIQUE (source_id, guid)
	)`,
	`CREATE TABLE IF NOT EXISTS pending_slots (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scored_slots (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS error_slots (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_last_checked ON sources (last_checked ASC NULLS FIRST)`,
	`CREATE INDEX IF NOT EXISTS idx_items_source ON items (source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_rank ON items (rank DESC) WHERE rank IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_pending_slots_fifo ON pending_slots (created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_scored_slots_fifo ON scored_slots (created_at, id)`,
}

// EnsureSchema creates the pipeline tables when missing. It runs inside one
// transaction so a partially created schema never survives a crash. The
// supervisor calls this before arming any worker.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=schema.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=schema.commit: %w", err)
	}
	return nil
}
