// Package migrations applies the coordinator's database schema. Statements
// are idempotent and executed in order on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS shuffle_participants (
		utxo_id    TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS shuffle_queues (
		token      TEXT NOT NULL,
		amount     TEXT NOT NULL,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (token, amount)
	)`,
	`CREATE TABLE IF NOT EXISTS shuffle_rooms (
		id         UUID PRIMARY KEY,
		state      TEXT NOT NULL,
		deadline   TIMESTAMPTZ,
		value      JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shuffle_rooms_state_idx ON shuffle_rooms (state)`,
}

// Apply runs every migration statement against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
