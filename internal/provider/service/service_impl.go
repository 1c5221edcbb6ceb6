package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	auditmasking "github.com/smallbiznis/escrowd/internal/audit/masking"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("provider.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) UpsertBankAccount(ctx context.Context, providerID snowflake.ID, req domain.UpsertBankAccountRequest) (*domain.BankAccount, error) {
	if providerID == 0 {
		return nil, domain.ErrInvalidProvider
	}

	account := domain.BankAccount{
		ProviderID:    providerID,
		AccountHolder: strings.TrimSpace(req.AccountHolder),
		BankName:      strings.TrimSpace(req.BankName),
		AccountNumber: strings.ReplaceAll(strings.TrimSpace(req.AccountNumber), " ", ""),
		RoutingCode:   strings.TrimSpace(req.RoutingCode),
	}
	if account.AccountHolder == "" || account.BankName == "" || account.AccountNumber == "" {
		return nil, domain.ErrInvalidBankAccount
	}
	// The transfer file is comma separated; reject values that would break a row.
	for _, value := range []string{account.AccountHolder, account.BankName, account.AccountNumber, account.RoutingCode} {
		if strings.ContainsAny(value, "\r\n") {
			return nil, domain.ErrInvalidBankAccount
		}
	}

	now := s.clock.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, &account); err != nil {
			return err
		}
		if s.auditSvc == nil {
			return nil
		}
		return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
			Action:     "provider.bank_account.upsert",
			TargetType: "provider",
			TargetID:   providerID.String(),
			Metadata: map[string]any{
				"bank_name":      account.BankName,
				"account_number": account.AccountNumber,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("provider bank account updated",
		zap.String("provider_id", providerID.String()),
		zap.String("account_number", auditmasking.AccountNumber(account.AccountNumber)),
	)

	stored, err := s.repo.Get(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Service) GetBankAccount(ctx context.Context, providerID snowflake.ID) (*domain.BankAccount, error) {
	if providerID == 0 {
		return nil, domain.ErrInvalidProvider
	}
	account, err := s.repo.Get(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrBankAccountMissing
	}
	return account, nil
}
