package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AccountType string

const (
	AccountProviderBalance AccountType = "PROVIDER_BALANCE"
	AccountPlatformRevenue AccountType = "PLATFORM_REVENUE"
	AccountBank            AccountType = "BANK_ACCOUNT"
)

// SystemAccountID is the singleton account id used by the platform revenue
// and bank accounts.
const SystemAccountID snowflake.ID = 1

func (t AccountType) Valid() bool {
	switch t {
	case AccountProviderBalance, AccountPlatformRevenue, AccountBank:
		return true
	}
	return false
}

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

func (t EntryType) Valid() bool {
	return t == EntryCredit || t == EntryDebit
}

type ReferenceType string

const (
	ReferencePayment    ReferenceType = "PAYMENT"
	ReferencePayout     ReferenceType = "PAYOUT"
	ReferenceSettlement ReferenceType = "SETTLEMENT"
	ReferenceRefund     ReferenceType = "REFUND"
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
)

func (t ReferenceType) Valid() bool {
	switch t {
	case ReferencePayment, ReferencePayout, ReferenceSettlement, ReferenceRefund, ReferenceAdjustment:
		return true
	}
	return false
}

// LedgerEntry is one immutable side of a financial movement. Amount is always
// positive, the direction lives in EntryType.
type LedgerEntry struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountType   AccountType   `gorm:"type:text;not null" json:"account_type"`
	AccountID     snowflake.ID  `gorm:"not null" json:"account_id"`
	EntryType     EntryType     `gorm:"type:text;not null" json:"entry_type"`
	Amount        int64         `gorm:"not null" json:"amount"`
	Currency      string        `gorm:"type:text;not null" json:"currency"`
	ReferenceType ReferenceType `gorm:"type:text;not null" json:"reference_type"`
	ReferenceID   snowflake.ID  `gorm:"not null" json:"reference_id"`
	Memo          string        `gorm:"type:text;not null" json:"memo"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// InvariantReport is the outcome of re-deriving the accounting equation:
//
//	provider balances + platform revenue + paid out == payments received - refunds issued
type InvariantReport struct {
	Valid bool `json:"valid"`

	ProviderBalance  int64 `json:"provider_balance"`
	PlatformRevenue  int64 `json:"platform_revenue"`
	PaidOut          int64 `json:"paid_out"`
	BankBalance      int64 `json:"bank_balance"`
	PaymentsReceived int64 `json:"payments_received"`
	RefundsIssued    int64 `json:"refunds_issued"`

	// Discrepancy is ledger side minus source side. Zero when valid.
	Discrepancy int64 `json:"discrepancy"`

	ProviderPayoutDebits int64 `json:"provider_payout_debits"`
	BankPayoutDebits     int64 `json:"bank_payout_debits"`

	Violations []string  `json:"violations,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

const (
	ViolationEquation         = "accounting_equation"
	ViolationPayoutMismatch   = "payout_debit_mismatch"
	ViolationNegativeBankCash = "bank_balance_negative"
)

type AccountBalance struct {
	AccountType AccountType  `json:"account_type"`
	AccountID   snowflake.ID `json:"account_id"`
	Balance     int64        `json:"balance"`
}

type ListEntriesFilter struct {
	AccountType   AccountType
	AccountID     snowflake.ID
	ReferenceType ReferenceType
	ReferenceID   snowflake.ID
	AfterID       snowflake.ID
	Limit         int
}
