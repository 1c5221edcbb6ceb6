package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentSeed describes a payment row inserted directly, bypassing the
// webhook flow.
type PaymentSeed struct {
	ID                snowflake.ID
	BookingID         snowflake.ID
	ProviderID        snowflake.ID
	ClientID          snowflake.ID
	Amount            int64
	PlatformFee       int64
	Status            string
	ExternalReference string
	Escrowed          bool
}

// SeedPayment inserts a booking and its payment.
func SeedPayment(t testing.TB, conn *gorm.DB, p PaymentSeed) {
	t.Helper()
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = "PENDING"
	}
	if err := conn.Exec(
		`INSERT INTO bookings (id, provider_id, client_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.ProviderID, p.ClientID, "PENDING_PAYMENT", now, now,
	).Error; err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	var escrowedAt *time.Time
	if p.Escrowed {
		escrowedAt = &now
	}
	if err := conn.Exec(
		`INSERT INTO payments (
			id, booking_id, provider_id, client_id, amount, platform_fee, escrow_amount, currency,
			status, gateway, external_reference, escrowed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'USD', ?, 'stripe', ?, ?, ?, ?)`,
		p.ID, p.BookingID, p.ProviderID, p.ClientID, p.Amount, p.PlatformFee, p.Amount-p.PlatformFee,
		p.Status, p.ExternalReference, escrowedAt, now, now,
	).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

// SeedBankAccount stores a provider bank profile.
func SeedBankAccount(t testing.TB, conn *gorm.DB, providerID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	if err := conn.Exec(
		`INSERT INTO provider_bank_accounts (provider_id, account_holder, bank_name, account_number, routing_code, created_at, updated_at)
		VALUES (?, 'Jane Provider', 'First Bank', '000123456789', '021000021', ?, ?)`,
		providerID, now, now,
	).Error; err != nil {
		t.Fatalf("seed bank account: %v", err)
	}
}

// SeedLedgerEntry inserts a raw ledger row.
func SeedLedgerEntry(t testing.TB, conn *gorm.DB, id snowflake.ID, accountType string, accountID snowflake.ID, entryType string, amount int64, referenceType string, referenceID snowflake.ID) {
	t.Helper()
	if err := conn.Exec(
		`INSERT INTO ledger_entries (id, account_type, account_id, entry_type, amount, currency, reference_type, reference_id, memo, created_at)
		VALUES (?, ?, ?, ?, ?, 'USD', ?, ?, '', ?)`,
		id, accountType, accountID, entryType, amount, referenceType, referenceID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed ledger entry: %v", err)
	}
}

// AssertCount fails the test when query does not return want.
func AssertCount(t testing.TB, conn *gorm.DB, query string, want int64, args ...any) {
	t.Helper()
	var got int64
	if err := conn.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d rows for %q, got %d", want, query, got)
	}
}

// ScanString returns the single string column selected by query.
func ScanString(t testing.TB, conn *gorm.DB, query string, args ...any) string {
	t.Helper()
	var value string
	if err := conn.Raw(query, args...).Scan(&value).Error; err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return value
}
