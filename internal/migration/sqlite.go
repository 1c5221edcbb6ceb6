package migration

import (
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the postgres migrations for local runs and tests.
// The ledger trigger uses RAISE(ABORT) since sqlite has no plpgsql.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id          INTEGER PRIMARY KEY,
		provider_id INTEGER NOT NULL,
		client_id   INTEGER NOT NULL,
		status      TEXT NOT NULL,
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS provider_bank_accounts (
		provider_id    INTEGER PRIMARY KEY,
		account_holder TEXT NOT NULL,
		bank_name      TEXT NOT NULL,
		account_number TEXT NOT NULL,
		routing_code   TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS settlement_batches (
		id              INTEGER PRIMARY KEY,
		settlement_date TEXT NOT NULL UNIQUE,
		expected_amount INTEGER NOT NULL DEFAULT 0,
		payment_count   INTEGER NOT NULL DEFAULT 0,
		actual_amount   INTEGER,
		bank_reference  TEXT,
		status          TEXT NOT NULL CHECK (status IN ('PENDING', 'SETTLED', 'DISCREPANCY')),
		reconciled_by   TEXT,
		reconciled_at   DATETIME,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id                  INTEGER PRIMARY KEY,
		booking_id          INTEGER NOT NULL UNIQUE,
		provider_id         INTEGER NOT NULL,
		client_id           INTEGER NOT NULL,
		amount              INTEGER NOT NULL CHECK (amount > 0),
		platform_fee        INTEGER NOT NULL CHECK (platform_fee >= 0),
		escrow_amount       INTEGER NOT NULL CHECK (escrow_amount >= 0),
		currency            TEXT NOT NULL,
		status              TEXT NOT NULL CHECK (status IN ('PENDING', 'ESCROW', 'PROCESSING_RELEASE', 'RELEASED', 'REFUNDED', 'FAILED')),
		gateway             TEXT NOT NULL,
		external_reference  TEXT NOT NULL UNIQUE,
		settlement_batch_id INTEGER REFERENCES settlement_batches (id),
		failure_reason      TEXT,
		escrowed_at         DATETIME,
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (escrow_amount = amount - platform_fee)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_payments_provider ON payments (provider_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id                 INTEGER PRIMARY KEY,
		provider           TEXT NOT NULL,
		event_id           TEXT NOT NULL DEFAULT '',
		event_type         TEXT NOT NULL,
		external_reference TEXT NOT NULL,
		processed          BOOLEAN NOT NULL DEFAULT FALSE,
		payload            TEXT,
		processing_error   TEXT,
		received_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		processed_at       DATETIME,
		UNIQUE (event_type, external_reference, processed)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id             INTEGER PRIMARY KEY,
		account_type   TEXT NOT NULL CHECK (account_type IN ('PROVIDER_BALANCE', 'PLATFORM_REVENUE', 'BANK_ACCOUNT')),
		account_id     INTEGER NOT NULL,
		entry_type     TEXT NOT NULL CHECK (entry_type IN ('CREDIT', 'DEBIT')),
		amount         INTEGER NOT NULL CHECK (amount > 0),
		currency       TEXT NOT NULL,
		reference_type TEXT NOT NULL CHECK (reference_type IN ('PAYMENT', 'PAYOUT', 'SETTLEMENT', 'REFUND', 'ADJUSTMENT')),
		reference_id   INTEGER NOT NULL,
		memo           TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (account_type, account_id, entry_type, reference_type, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ledger_entries_account ON ledger_entries (account_type, account_id)`,
	`CREATE TRIGGER IF NOT EXISTS tr_ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS tr_ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END`,
	`CREATE TABLE IF NOT EXISTS payout_batches (
		id              INTEGER PRIMARY KEY,
		status          TEXT NOT NULL CHECK (status IN ('PENDING', 'EXPORTED', 'EXECUTED', 'CANCELLED')),
		currency        TEXT NOT NULL,
		total_amount    INTEGER NOT NULL DEFAULT 0,
		payout_count    INTEGER NOT NULL DEFAULT 0,
		transfer_file   TEXT,
		file_checksum   TEXT,
		file_object_key TEXT,
		exported_by     TEXT,
		exported_at     DATETIME,
		executed_by     TEXT,
		executed_at     DATETIME,
		bank_reference  TEXT,
		cancelled_by    TEXT,
		cancelled_at    DATETIME,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS payouts (
		id             INTEGER PRIMARY KEY,
		payment_id     INTEGER NOT NULL UNIQUE REFERENCES payments (id),
		provider_id    INTEGER NOT NULL,
		amount         INTEGER NOT NULL CHECK (amount > 0),
		currency       TEXT NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('PENDING_APPROVAL', 'APPROVED', 'PROCESSING', 'COMPLETED', 'CANCELLED')),
		account_holder TEXT NOT NULL,
		bank_name      TEXT NOT NULL,
		account_number TEXT NOT NULL,
		routing_code   TEXT NOT NULL DEFAULT '',
		batch_id       INTEGER REFERENCES payout_batches (id),
		created_by     TEXT NOT NULL,
		approved_by    TEXT,
		approved_at    DATETIME,
		cancelled_by   TEXT,
		cancelled_at   DATETIME,
		cancel_reason  TEXT,
		completed_at   DATETIME,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS ix_payouts_status ON payouts (status)`,
	`CREATE INDEX IF NOT EXISTS ix_payouts_batch ON payouts (batch_id)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id                INTEGER PRIMARY KEY,
		payment_id        INTEGER NOT NULL REFERENCES payments (id),
		amount            INTEGER NOT NULL CHECK (amount > 0),
		provider_portion  INTEGER NOT NULL DEFAULT 0,
		platform_portion  INTEGER NOT NULL DEFAULT 0,
		currency          TEXT NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		idempotency_key   TEXT NOT NULL,
		gateway_reference TEXT,
		status            TEXT NOT NULL CHECK (status IN ('PROCESSING', 'COMPLETED', 'FAILED')),
		failure_reason    TEXT,
		requested_by      TEXT NOT NULL,
		completed_at      DATETIME,
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (payment_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          INTEGER PRIMARY KEY,
		actor_type  TEXT NOT NULL,
		actor_id    TEXT,
		action      TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id   TEXT,
		metadata    TEXT,
		ip_address  TEXT,
		user_agent  TEXT,
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// ApplySQLiteSchema creates the schema on a sqlite connection. It is
// idempotent.
func ApplySQLiteSchema(conn *gorm.DB) error {
	for i, stmt := range sqliteSchema {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema statement %d: %w", i, err)
		}
	}
	return nil
}
