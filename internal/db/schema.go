package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the tables used by the patient directory and the journal.
// Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id          TEXT PRIMARY KEY,
		given_name  TEXT NOT NULL,
		family_name TEXT NOT NULL,
		email       TEXT,
		phone       TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS patients_id_lower_idx ON patients (lower(id))`,
	`CREATE INDEX IF NOT EXISTS patients_email_lower_idx ON patients (lower(email))`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id             BIGSERIAL PRIMARY KEY,
		event_type     TEXT NOT NULL,
		appointment_id UUID,
		payload        JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS event_logs_appointment_idx ON event_logs (appointment_id)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
