package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	"github.com/smallbiznis/escrowd/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Tx         *db.TxRunner
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	tx         *db.TxRunner
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	currency   string
	checkWrite bool
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		tx:         p.Tx,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		currency:   strings.ToUpper(strings.TrimSpace(p.Config.Currency)),
		checkWrite: p.Config.Scheduler.InvariantCheckWrite,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateEntryIdempotent(ctx context.Context, tx *gorm.DB, entry ledgerdomain.LedgerEntry) (bool, error) {
	if tx == nil {
		return false, ledgerdomain.ErrTransactionRequired
	}
	if !entry.AccountType.Valid() {
		return false, ledgerdomain.ErrInvalidAccountType
	}
	if entry.AccountID == 0 {
		return false, ledgerdomain.ErrInvalidAccount
	}
	if !entry.EntryType.Valid() {
		return false, ledgerdomain.ErrInvalidEntryType
	}
	if !entry.ReferenceType.Valid() {
		return false, ledgerdomain.ErrInvalidReferenceType
	}
	if entry.ReferenceID == 0 {
		return false, ledgerdomain.ErrInvalidReference
	}
	if entry.Amount <= 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}

	entry.Currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
	if entry.Currency == "" {
		entry.Currency = s.currency
	}
	if entry.Currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}

	entry.ID = s.genID.Generate()
	entry.Memo = strings.TrimSpace(entry.Memo)
	entry.CreatedAt = s.clock.Now()

	inserted, err := s.repo.Insert(ctx, tx, &entry)
	if err != nil {
		return false, err
	}
	if !inserted {
		s.log.Debug("ledger entry already posted",
			zap.String("account_type", string(entry.AccountType)),
			zap.String("entry_type", string(entry.EntryType)),
			zap.String("reference_type", string(entry.ReferenceType)),
			zap.String("reference_id", entry.ReferenceID.String()),
		)
		return false, nil
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(entry.AccountType), string(entry.ReferenceType))
	return true, nil
}

func (s *Service) GetBalance(ctx context.Context, conn *gorm.DB, accountType ledgerdomain.AccountType, accountID snowflake.ID) (int64, error) {
	if !accountType.Valid() {
		return 0, ledgerdomain.ErrInvalidAccountType
	}
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	if conn == nil {
		conn = s.db
	}
	return s.repo.Balance(ctx, conn, accountType, accountID)
}

func (s *Service) VerifyLiquidity(ctx context.Context, tx *gorm.DB, amount int64) (bool, error) {
	if tx == nil {
		return false, ledgerdomain.ErrTransactionRequired
	}
	if amount < 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}
	balance, err := s.repo.Balance(ctx, tx, ledgerdomain.AccountBank, ledgerdomain.SystemAccountID)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

func (s *Service) ProviderBalance(ctx context.Context, providerID snowflake.ID) (int64, error) {
	return s.GetBalance(ctx, s.db, ledgerdomain.AccountProviderBalance, providerID)
}

func (s *Service) SystemBalances(ctx context.Context) ([]ledgerdomain.AccountBalance, error) {
	balances := make([]ledgerdomain.AccountBalance, 0, 3)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		balances = balances[:0]
		for _, accountType := range []ledgerdomain.AccountType{ledgerdomain.AccountBank, ledgerdomain.AccountPlatformRevenue} {
			balance, err := s.repo.Balance(ctx, tx, accountType, ledgerdomain.SystemAccountID)
			if err != nil {
				return err
			}
			balances = append(balances, ledgerdomain.AccountBalance{
				AccountType: accountType,
				AccountID:   ledgerdomain.SystemAccountID,
				Balance:     balance,
			})
		}
		providers, err := s.repo.AccountTypeBalance(ctx, tx, ledgerdomain.AccountProviderBalance)
		if err != nil {
			return err
		}
		balances = append(balances, ledgerdomain.AccountBalance{
			AccountType: ledgerdomain.AccountProviderBalance,
			Balance:     providers,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Service) ListEntries(ctx context.Context, filter ledgerdomain.ListEntriesFilter) ([]ledgerdomain.LedgerEntry, error) {
	if filter.AccountType != "" && !filter.AccountType.Valid() {
		return nil, ledgerdomain.ErrInvalidAccountType
	}
	if filter.ReferenceType != "" && !filter.ReferenceType.Valid() {
		return nil, ledgerdomain.ErrInvalidReferenceType
	}
	return s.repo.List(ctx, s.db, filter)
}
