// Package db provides SQLite database management for the ledger.
package db

import "context"

// Schema defines the SQL statements to create database tables.
//
// Money columns hold minor units (cents). Timestamps are TEXT in
// TimeLayout so lexical order equals chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance_minor INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner
    ON accounts(owner_id);

CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,                -- 'income' or 'expense'
    created_at TEXT NOT NULL,
    UNIQUE(owner_id, name)
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    to_account_id TEXT REFERENCES accounts(id),
    category_id TEXT,
    amount_minor INTEGER NOT NULL CHECK (amount_minor >= 0),
    type TEXT NOT NULL,
    date TEXT NOT NULL,                -- YYYY-MM-DD
    description TEXT NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',   -- JSON array
    is_verified INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,              -- 'active', 'deleted' or 'merged'
    merged_into_id TEXT REFERENCES transactions(id),
    merged_at TEXT,
    duplicate_exclusions TEXT NOT NULL DEFAULT '[]',
    source_type TEXT NOT NULL DEFAULT 'manual',
    source_id TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    CHECK ((status = 'merged') = (merged_into_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_transactions_owner_date
    ON transactions(owner_id, date);

CREATE INDEX IF NOT EXISTS idx_transactions_account_date
    ON transactions(account_id, date);

CREATE INDEX IF NOT EXISTS idx_transactions_merged_into
    ON transactions(merged_into_id);

CREATE TABLE IF NOT EXISTS transaction_line_items (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
    category_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    amount_minor INTEGER NOT NULL CHECK (amount_minor > 0),
    sort_order INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_transaction
    ON transaction_line_items(transaction_id, sort_order);

-- Append-only audit trail.
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    action TEXT NOT NULL,              -- 'create', 'update' or 'delete'
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    before_snapshot TEXT,
    after_snapshot TEXT,
    description TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_entity
    ON audit_log(entity_type, entity_id);

CREATE INDEX IF NOT EXISTS idx_audit_log_owner_created
    ON audit_log(owner_id, created_at);

CREATE TRIGGER IF NOT EXISTS audit_log_no_update
    BEFORE UPDATE ON audit_log
BEGIN
    SELECT RAISE(ABORT, 'audit_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_log_no_delete
    BEFORE DELETE ON audit_log
BEGIN
    SELECT RAISE(ABORT, 'audit_log is append-only');
END;

-- Audit outbox, written in the same unit of work as the ledger mutation.
CREATE TABLE IF NOT EXISTS audit_outbox (
    id TEXT PRIMARY KEY,
    aggregate_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL,              -- 'pending', 'published' or 'failed'
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    published_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_outbox_status
    ON audit_outbox(status, next_attempt_at);
`

// InitializeSchema initializes the database schema.
// It creates all tables if they don't exist.
func InitializeSchema(conn *Connection) error {
	if _, err := conn.db.ExecContext(context.Background(), Schema); err != nil {
		return err
	}
	return nil
}
