package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// schema is idempotent and applied at startup when database.migrate is set.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		is_admin   BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id          TEXT PRIMARY KEY,
		balance          BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		accrued_earnings NUMERIC(14,2) NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id          BIGSERIAL PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		creator_id  TEXT NOT NULL,
		fee         BIGINT NOT NULL DEFAULT 0 CHECK (fee >= 0),
		capacity    INTEGER NOT NULL DEFAULT 100 CHECK (capacity > 0),
		status      TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'active', 'closed')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS room_participants (
		room_id   BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id   TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         BIGSERIAL PRIMARY KEY,
		room_id    BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		username   TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL,
		kind       TEXT NOT NULL CHECK (kind IN ('debit', 'earning_accrual', 'withdrawal', 'subscription_payment', 'credit_purchase')),
		amount     NUMERIC(14,2) NOT NULL,
		room_id    BIGINT,
		reference  TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_user_kind_idx ON ledger_entries (user_id, kind)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_room_idx ON ledger_entries (room_id)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		user_id   TEXT PRIMARY KEY,
		plan_id   TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		end_date  TIMESTAMPTZ
	)`,
}

// Migrate applies the schema in a single transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	log.Info().Str("module", "database").Int("statements", len(schema)).Msg("schema up to date")
	return nil
}
