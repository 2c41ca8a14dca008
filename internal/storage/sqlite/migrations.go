package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Monetary columns are TEXT holding exact decimal strings; REAL would
// reintroduce the rounding drift the settlement invariant forbids.
const schema = `
CREATE TABLE IF NOT EXISTS members (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL,
    phone_number TEXT NOT NULL,
    role TEXT NOT NULL,
    delegate_id TEXT NOT NULL DEFAULT '',
    coordinator_id TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    member_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    settlement_date TEXT NOT NULL,
    sha_portion TEXT NOT NULL,
    delegate_commission TEXT NOT NULL,
    coordinator_commission TEXT NOT NULL,
    commission_delegate_id TEXT NOT NULL DEFAULT '',
    commission_coordinator_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (member_id) REFERENCES members(id)
);

CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    settlement_date TEXT NOT NULL UNIQUE,
    total_collected TEXT NOT NULL,
    sha_amount TEXT NOT NULL,
    mwu_amount TEXT NOT NULL,
    total_delegate_commissions TEXT NOT NULL,
    total_coordinator_commissions TEXT NOT NULL,
    total_payments INTEGER NOT NULL,
    unique_members INTEGER NOT NULL,
    status TEXT NOT NULL,
    processed_at INTEGER NOT NULL DEFAULT 0,
    processed_by TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commission_payouts (
    id TEXT PRIMARY KEY,
    settlement_id TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    recipient_type TEXT NOT NULL,
    amount TEXT NOT NULL,
    payment_count INTEGER NOT NULL,
    status TEXT NOT NULL,
    payment_method TEXT NOT NULL DEFAULT '',
    transaction_reference TEXT NOT NULL DEFAULT '',
    conversation_id TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    processed_at INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (settlement_id, recipient_id, recipient_type),
    FOREIGN KEY (settlement_id) REFERENCES settlements(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS bank_transfers (
    id TEXT PRIMARY KEY,
    settlement_id TEXT NOT NULL,
    portion TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (settlement_id, portion),
    FOREIGN KEY (settlement_id) REFERENCES settlements(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS gateway_callbacks (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_date_status ON payments(settlement_date, status);
CREATE INDEX IF NOT EXISTS idx_payouts_conversation_id ON commission_payouts(conversation_id);
CREATE INDEX IF NOT EXISTS idx_payouts_settlement_status ON commission_payouts(settlement_id, status);
CREATE INDEX IF NOT EXISTS idx_transfers_settlement_id ON bank_transfers(settlement_id);
CREATE INDEX IF NOT EXISTS idx_callbacks_received_at ON gateway_callbacks(received_at);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
