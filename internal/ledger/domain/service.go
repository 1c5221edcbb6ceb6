package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the ledger primitive every money movement goes through.
// Methods that take a *gorm.DB run on the caller's transaction so that the
// check and the write share one snapshot.
type Service interface {
	// CreateEntryIdempotent inserts entry. A row with the same
	// (account, entry type, reference) tuple makes it a no-op that
	// reports inserted=false.
	CreateEntryIdempotent(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (bool, error)
	GetBalance(ctx context.Context, db *gorm.DB, accountType AccountType, accountID snowflake.ID) (int64, error)
	VerifyLiquidity(ctx context.Context, tx *gorm.DB, amount int64) (bool, error)
	AssertAccountingInvariant(ctx context.Context) (InvariantReport, error)
	// CheckAfterWrite runs the invariant after a committed money movement
	// when enabled. Violations are logged and counted, never returned.
	CheckAfterWrite(ctx context.Context, source string)
	ReportInvariant(ctx context.Context, source string, report InvariantReport)

	ProviderBalance(ctx context.Context, providerID snowflake.ID) (int64, error)
	SystemBalances(ctx context.Context) ([]AccountBalance, error)
	ListEntries(ctx context.Context, filter ListEntriesFilter) ([]LedgerEntry, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) (bool, error)
	Balance(ctx context.Context, db *gorm.DB, accountType AccountType, accountID snowflake.ID) (int64, error)
	AccountTypeBalance(ctx context.Context, db *gorm.DB, accountType AccountType) (int64, error)
	SumEntries(ctx context.Context, db *gorm.DB, accountType AccountType, entryType EntryType, referenceType ReferenceType) (int64, error)
	PaymentsReceived(ctx context.Context, db *gorm.DB) (int64, error)
	RefundsIssued(ctx context.Context, db *gorm.DB) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListEntriesFilter) ([]LedgerEntry, error)
}
