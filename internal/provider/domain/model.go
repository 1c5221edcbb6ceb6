package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BankAccount is the provider's payout destination. Payouts copy it at
// creation so later edits never redirect money already in flight.
type BankAccount struct {
	ProviderID    snowflake.ID `json:"provider_id" gorm:"primaryKey"`
	AccountHolder string       `json:"account_holder"`
	BankName      string       `json:"bank_name"`
	AccountNumber string       `json:"account_number"`
	RoutingCode   string       `json:"routing_code"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (BankAccount) TableName() string { return "provider_bank_accounts" }

type UpsertBankAccountRequest struct {
	AccountHolder string `json:"account_holder" binding:"required"`
	BankName      string `json:"bank_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	RoutingCode   string `json:"routing_code"`
}

var (
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrInvalidBankAccount = errors.New("invalid_bank_account")
	ErrBankAccountMissing = errors.New("bank_account_missing")
)

type Service interface {
	UpsertBankAccount(ctx context.Context, providerID snowflake.ID, req UpsertBankAccountRequest) (*BankAccount, error)
	GetBankAccount(ctx context.Context, providerID snowflake.ID) (*BankAccount, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, account *BankAccount) error
	Get(ctx context.Context, db *gorm.DB, providerID snowflake.ID) (*BankAccount, error)
}
