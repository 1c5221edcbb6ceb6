package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/provider/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, account *domain.BankAccount) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_bank_accounts (
			provider_id, account_holder, bank_name, account_number, routing_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id) DO UPDATE SET
			account_holder = excluded.account_holder,
			bank_name = excluded.bank_name,
			account_number = excluded.account_number,
			routing_code = excluded.routing_code,
			updated_at = excluded.updated_at`,
		account.ProviderID,
		account.AccountHolder,
		account.BankName,
		account.AccountNumber,
		account.RoutingCode,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*domain.BankAccount, error) {
	var account domain.BankAccount
	err := db.WithContext(ctx).Raw(
		`SELECT provider_id, account_holder, bank_name, account_number, routing_code, created_at, updated_at
		FROM provider_bank_accounts WHERE provider_id = ?`,
		providerID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ProviderID == 0 {
		return nil, nil
	}
	return &account, nil
}
