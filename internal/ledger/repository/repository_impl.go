package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/ledger/domain"
	"gorm.io/gorm"
)

const signedSum = `CAST(COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END), 0) AS BIGINT)`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, entry *domain.LedgerEntry) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, account_type, account_id, entry_type, amount, currency,
			reference_type, reference_id, memo, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_type, account_id, entry_type, reference_type, reference_id) DO NOTHING`,
		entry.ID,
		string(entry.AccountType),
		entry.AccountID,
		string(entry.EntryType),
		entry.Amount,
		entry.Currency,
		string(entry.ReferenceType),
		entry.ReferenceID,
		entry.Memo,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, accountType domain.AccountType, accountID snowflake.ID) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT `+signedSum+` FROM ledger_entries WHERE account_type = ? AND account_id = ?`,
		string(accountType), accountID,
	).Scan(&balance).Error
	return balance, err
}

func (r *repo) AccountTypeBalance(ctx context.Context, db *gorm.DB, accountType domain.AccountType) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT `+signedSum+` FROM ledger_entries WHERE account_type = ?`,
		string(accountType),
	).Scan(&balance).Error
	return balance, err
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, accountType domain.AccountType, entryType domain.EntryType, referenceType domain.ReferenceType) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM ledger_entries
		WHERE account_type = ? AND entry_type = ? AND reference_type = ?`,
		string(accountType), string(entryType), string(referenceType),
	).Scan(&total).Error
	return total, err
}

// PaymentsReceived sums every payment that ever reached escrow. escrowed_at is
// set by the same statement that moves a payment out of PENDING.
func (r *repo) PaymentsReceived(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM payments WHERE escrowed_at IS NOT NULL`,
	).Scan(&total).Error
	return total, err
}

func (r *repo) RefundsIssued(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM refunds WHERE status = 'COMPLETED'`,
	).Scan(&total).Error
	return total, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListEntriesFilter) ([]domain.LedgerEntry, error) {
	stmt := db.WithContext(ctx).Model(&domain.LedgerEntry{})
	if filter.AccountType != "" {
		stmt = stmt.Where("account_type = ?", string(filter.AccountType))
	}
	if filter.AccountID != 0 {
		stmt = stmt.Where("account_id = ?", filter.AccountID)
	}
	if filter.ReferenceType != "" {
		stmt = stmt.Where("reference_type = ?", string(filter.ReferenceType))
	}
	if filter.ReferenceID != 0 {
		stmt = stmt.Where("reference_id = ?", filter.ReferenceID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var entries []domain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
