package sqlite

// Migrations returns the schema statements in order. Each string is a single
// statement; all of them are idempotent.
func Migrations() []string {
	return []string{
		// Credit accounts
		`CREATE TABLE IF NOT EXISTS passbook_accounts (
			user_id                   TEXT PRIMARY KEY,
			balance                   INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			replenish_mode            TEXT NOT NULL DEFAULT '',
			replenish_threshold       INTEGER NOT NULL DEFAULT 0,
			replenish_bundle_id       TEXT NOT NULL DEFAULT '',
			last_updated_at           TEXT,
			last_auto_purchase_at     TEXT,
			low_balance_email_sent_at TEXT,
			created_at                TEXT NOT NULL,
			updated_at                TEXT NOT NULL
		)`,

		// Append-only credit history; seq preserves insertion order
		`CREATE TABLE IF NOT EXISTS passbook_credit_entries (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			user_id       TEXT NOT NULL REFERENCES passbook_accounts (user_id) ON DELETE CASCADE,
			type          TEXT NOT NULL,
			amount        INTEGER NOT NULL CHECK (amount > 0),
			balance_after INTEGER NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			occurred_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passbook_credit_entries_user ON passbook_credit_entries (user_id, seq)`,

		// Groups and their subscription state
		`CREATE TABLE IF NOT EXISTS passbook_groups (
			id                      TEXT PRIMARY KEY,
			name                    TEXT NOT NULL DEFAULT '',
			owner_id                TEXT NOT NULL,
			organizer_ids           TEXT NOT NULL DEFAULT '[]',
			subscription_status     TEXT NOT NULL DEFAULT '',
			subscription_expired_at TEXT,
			subscription_renewed_at TEXT,
			subscription_updated_at TEXT,
			subscription_renews_at  TEXT,
			created_at              TEXT NOT NULL,
			updated_at              TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passbook_groups_owner ON passbook_groups (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_passbook_groups_expiry ON passbook_groups (subscription_status, subscription_expired_at)`,

		// Events
		`CREATE TABLE IF NOT EXISTS passbook_events (
			id            TEXT PRIMARY KEY,
			group_id      TEXT NOT NULL,
			created_by_id TEXT NOT NULL,
			title         TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			location      TEXT NOT NULL DEFAULT '',
			host_name     TEXT NOT NULL DEFAULT '',
			starts_at     TEXT NOT NULL,
			ends_at       TEXT,
			is_visible    INTEGER NOT NULL DEFAULT 1,
			hidden_reason TEXT NOT NULL DEFAULT '',
			hidden_at     TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passbook_events_group ON passbook_events (group_id, created_at)`,
	}
}
