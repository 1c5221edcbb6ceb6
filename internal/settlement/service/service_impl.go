package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	"github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
	"github.com/smallbiznis/escrowd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxRollForwardDays bounds how far a capture may be pushed past a day that
// was already reconciled.
const maxRollForwardDays = 7

type Params struct {
	fx.In

	DB         *gorm.DB
	Tx         *db.TxRunner
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	tx         *db.TxRunner
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       domain.Repository
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		tx:         p.Tx,
		log:        p.Log.Named("settlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ExpectedSettlementDate(paidAt time.Time) string {
	delay := config.DefaultPayoutPolicy().SettlementDelayDays
	if s.policy != nil {
		delay = s.policy.Get().SettlementDelayDays
	}
	if delay < 0 {
		delay = 0
	}
	return paidAt.UTC().AddDate(0, 0, delay).Format(domain.DateLayout)
}

func (s *Service) AccumulateTx(ctx context.Context, tx *gorm.DB, settlementDate string, amount int64) (snowflake.ID, error) {
	if tx == nil {
		return 0, ledgerdomain.ErrTransactionRequired
	}
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	day, err := time.Parse(domain.DateLayout, strings.TrimSpace(settlementDate))
	if err != nil {
		return 0, domain.ErrInvalidDate
	}

	now := s.clock.Now()
	for i := 0; i < maxRollForwardDays; i++ {
		date := day.AddDate(0, 0, i).Format(domain.DateLayout)
		batchID, err := s.repo.Accumulate(ctx, tx, s.genID.Generate(), date, amount, now)
		if err != nil {
			return 0, err
		}
		if batchID != 0 {
			if i > 0 {
				s.log.Warn("settlement day already reconciled, rolled forward",
					zap.String("requested_date", settlementDate),
					zap.String("settlement_date", date),
				)
			}
			return batchID, nil
		}
	}
	return 0, domain.ErrNoOpenSettlementDay
}

func (s *Service) ReduceExpectedTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, amount int64) (bool, error) {
	if tx == nil {
		return false, ledgerdomain.ErrTransactionRequired
	}
	if batchID == 0 {
		return false, nil
	}
	if amount <= 0 {
		return false, domain.ErrInvalidAmount
	}
	return s.repo.ReduceExpected(ctx, tx, batchID, amount, s.clock.Now())
}

// Reconcile records the bank statement for a batch. This is the only path
// that credits the bank account: the expected amount as a settlement and the
// signed difference as an adjustment, so the bank balance equals what
// actually arrived.
func (s *Service) Reconcile(ctx context.Context, batchID snowflake.ID, req domain.ReconcileRequest) (*domain.Batch, error) {
	if batchID == 0 {
		return nil, domain.ErrBatchNotFound
	}
	if req.ActualAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	bankReference := strings.TrimSpace(req.BankReference)
	if bankReference == "" {
		return nil, domain.ErrInvalidBankReference
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}

	var (
		result    *domain.Batch
		unchanged bool
	)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		unchanged = false
		batch, err := s.repo.FindByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if batch.Status != domain.StatusPending {
			if sameReconciliation(batch, req.ActualAmount, bankReference) {
				result = batch
				unchanged = true
				return nil
			}
			return domain.ErrAlreadyReconciled
		}

		status := domain.StatusSettled
		if req.ActualAmount != batch.ExpectedAmount {
			status = domain.StatusDiscrepancy
		}

		now := s.clock.Now()
		updated, err := s.repo.MarkReconciled(ctx, tx, batchID, status, req.ActualAmount, bankReference, actor, now)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrAlreadyReconciled
		}

		if batch.ExpectedAmount > 0 {
			if _, err := s.ledger.CreateEntryIdempotent(ctx, tx, ledgerdomain.LedgerEntry{
				AccountType:   ledgerdomain.AccountBank,
				AccountID:     ledgerdomain.SystemAccountID,
				EntryType:     ledgerdomain.EntryCredit,
				Amount:        batch.ExpectedAmount,
				ReferenceType: ledgerdomain.ReferenceSettlement,
				ReferenceID:   batchID,
				Memo:          "settlement " + batch.SettlementDate + " " + bankReference,
			}); err != nil {
				return err
			}
		}

		diff := req.ActualAmount - batch.ExpectedAmount
		if diff != 0 {
			entryType := ledgerdomain.EntryCredit
			amount := diff
			if diff < 0 {
				entryType = ledgerdomain.EntryDebit
				amount = -diff
			}
			if _, err := s.ledger.CreateEntryIdempotent(ctx, tx, ledgerdomain.LedgerEntry{
				AccountType:   ledgerdomain.AccountBank,
				AccountID:     ledgerdomain.SystemAccountID,
				EntryType:     entryType,
				Amount:        amount,
				ReferenceType: ledgerdomain.ReferenceAdjustment,
				ReferenceID:   batchID,
				Memo:          "settlement discrepancy " + batch.SettlementDate,
			}); err != nil {
				return err
			}
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
				ActorType:  string(auditdomain.ActorTypeAdmin),
				ActorID:    actor,
				Action:     "settlement.reconcile",
				TargetType: "settlement_batch",
				TargetID:   batchID.String(),
				Metadata: map[string]any{
					"settlement_date": batch.SettlementDate,
					"expected_amount": money.Format(batch.ExpectedAmount),
					"actual_amount":   money.Format(req.ActualAmount),
					"bank_reference":  bankReference,
					"status":          string(status),
				},
			}); err != nil {
				return err
			}
		}

		result, err = s.repo.FindByID(ctx, tx, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if unchanged {
		return result, nil
	}

	s.obsMetrics.RecordReconciliation(ctx, string(result.Status))
	if result.Status == domain.StatusDiscrepancy {
		s.log.Warn("settlement discrepancy recorded",
			zap.String("batch_id", batchID.String()),
			zap.String("settlement_date", result.SettlementDate),
			zap.Int64("expected_amount", result.ExpectedAmount),
			zap.Int64("actual_amount", req.ActualAmount),
		)
	}
	s.ledger.CheckAfterWrite(ctx, "settlement")
	return result, nil
}

func sameReconciliation(batch *domain.Batch, actualAmount int64, bankReference string) bool {
	if batch.ActualAmount == nil || batch.BankReference == nil {
		return false
	}
	return *batch.ActualAmount == actualAmount && *batch.BankReference == bankReference
}

func (s *Service) Get(ctx context.Context, batchID snowflake.ID) (*domain.Batch, error) {
	batch, err := s.repo.FindByID(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	limit := req.Limit()

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status:  req.Status,
		AfterID: snowflake.ID(afterID),
		Limit:   limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	batches, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(b domain.Batch) string {
		return b.ID.String()
	})
	return domain.ListResponse{PageInfo: pageInfo, Batches: batches}, nil
}
