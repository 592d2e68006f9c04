package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied on startup; every statement is idempotent. The partial
// unique indexes enforce the credential invariants (one active binding per
// account) and idempotency-key deduplication at the database level, so
// they hold even across multiple server processes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance NUMERIC(12, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts (id),
		amount NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_account_idempotency_key
		ON transactions (account_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_account_created_at
		ON transactions (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		tag TEXT PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts (id),
		issued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS credentials_active_account
		ON credentials (account_id) WHERE revoked_at IS NULL`,
}

// Migrate bootstraps the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
