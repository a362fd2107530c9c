package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/passbook"
)

// Migration is one versioned schema change.
type Migration struct {
	Name    string
	Version string
	Up      string
	Down    string
}

// Migrations is the ordered schema history of the PostgreSQL store.
var Migrations = []Migration{
	{
		Name:    "create_passbook_accounts",
		Version: "20260301000001",
		Up: `
CREATE TABLE IF NOT EXISTS passbook_accounts (
    user_id                   TEXT PRIMARY KEY,
    balance                   BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    replenish_mode            TEXT NOT NULL DEFAULT '',
    replenish_threshold       BIGINT NOT NULL DEFAULT 0,
    replenish_bundle_id       TEXT NOT NULL DEFAULT '',
    last_updated_at           TIMESTAMPTZ,
    last_auto_purchase_at     TIMESTAMPTZ,
    low_balance_email_sent_at TIMESTAMPTZ,
    created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS passbook_credit_entries (
    seq           BIGSERIAL PRIMARY KEY,
    id            TEXT NOT NULL UNIQUE,
    user_id       TEXT NOT NULL REFERENCES passbook_accounts (user_id) ON DELETE CASCADE,
    type          TEXT NOT NULL,
    amount        BIGINT NOT NULL CHECK (amount > 0),
    balance_after BIGINT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    occurred_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passbook_credit_entries_user ON passbook_credit_entries (user_id, seq);
`,
		Down: `DROP TABLE IF EXISTS passbook_credit_entries; DROP TABLE IF EXISTS passbook_accounts;`,
	},
	{
		Name:    "create_passbook_groups",
		Version: "20260301000002",
		Up: `
CREATE TABLE IF NOT EXISTS passbook_groups (
    id                      TEXT PRIMARY KEY,
    name                    TEXT NOT NULL DEFAULT '',
    owner_id                TEXT NOT NULL,
    organizer_ids           TEXT[] NOT NULL DEFAULT '{}',
    subscription_status     TEXT NOT NULL DEFAULT '',
    subscription_expired_at TIMESTAMPTZ,
    subscription_renewed_at TIMESTAMPTZ,
    subscription_updated_at TIMESTAMPTZ,
    subscription_renews_at  TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_passbook_groups_owner ON passbook_groups (owner_id);
CREATE INDEX IF NOT EXISTS idx_passbook_groups_expiry ON passbook_groups (subscription_status, subscription_expired_at);
`,
		Down: `DROP TABLE IF EXISTS passbook_groups`,
	},
	{
		Name:    "create_passbook_events",
		Version: "20260301000003",
		Up: `
CREATE TABLE IF NOT EXISTS passbook_events (
    id            TEXT PRIMARY KEY,
    group_id      TEXT NOT NULL,
    created_by_id TEXT NOT NULL,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    location      TEXT NOT NULL DEFAULT '',
    host_name     TEXT NOT NULL DEFAULT '',
    starts_at     TIMESTAMPTZ NOT NULL,
    ends_at       TIMESTAMPTZ,
    is_visible    BOOLEAN NOT NULL DEFAULT TRUE,
    hidden_reason TEXT NOT NULL DEFAULT '',
    hidden_at     TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_passbook_events_group ON passbook_events (group_id, created_at);
`,
		Down: `DROP TABLE IF EXISTS passbook_events`,
	},
}

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 73402026

// Migrate applies every migration not yet recorded in passbook_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s.closed.Load() {
		return passbook.ErrStoreClosed
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS passbook_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return err
		}

		applied := make(map[string]bool)
		rows, err := tx.Query(ctx, `SELECT version FROM passbook_migrations`)
		if err != nil {
			return err
		}
		versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		for _, v := range versions {
			applied[v] = true
		}

		for _, m := range Migrations {
			if applied[m.Version] {
				continue
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO passbook_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: postgres: %w", passbook.ErrMigrationFailed, err)
	}
	return nil
}
