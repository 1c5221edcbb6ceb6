package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/escrowd/internal/booking/domain"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/internal/payout/export"
	providerdomain "github.com/smallbiznis/escrowd/internal/provider/domain"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
	"github.com/smallbiznis/escrowd/pkg/money"
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
	Policy     *config.PolicyHolder
	Repo       domain.Repository
	Payments   paymentdomain.Repository
	Bookings   bookingdomain.Repository
	Providers  providerdomain.Repository
	Ledger     ledgerdomain.Service
	Executor   domain.PayoutExecutor
	Store      domain.ExportStore  `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	tx         *db.TxRunner
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	currency   string
	policy     *config.PolicyHolder
	repo       domain.Repository
	payments   paymentdomain.Repository
	bookings   bookingdomain.Repository
	providers  providerdomain.Repository
	ledger     ledgerdomain.Service
	executor   domain.PayoutExecutor
	store      domain.ExportStore
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		tx:         p.Tx,
		log:        p.Log.Named("payout.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		currency:   strings.ToUpper(strings.TrimSpace(p.Config.Currency)),
		policy:     p.Policy,
		repo:       p.Repo,
		payments:   p.Payments,
		bookings:   p.Bookings,
		providers:  p.Providers,
		ledger:     p.Ledger,
		executor:   p.Executor,
		store:      p.Store,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) currentPolicy() config.PayoutPolicy {
	if s.policy == nil {
		return config.DefaultPayoutPolicy()
	}
	return s.policy.Get()
}

// CreatePayout releases an escrowed payment towards its provider. The
// provider's available balance and the bank's cash are both checked on the
// same snapshot that moves the payment out of escrow.
func (s *Service) CreatePayout(ctx context.Context, paymentID snowflake.ID, actor string) (*domain.Payout, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}
	autoApprove := s.currentPolicy().AutoApprove

	var payoutID snowflake.ID
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		payment, err := s.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		existing, err := s.repo.FindByPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != domain.StatusCancelled {
			return domain.ErrPayoutExists
		}
		if payment.Status != paymentdomain.StatusEscrow {
			return domain.ErrPaymentNotEscrowed
		}

		bank, err := s.providers.Get(ctx, tx, payment.ProviderID)
		if err != nil {
			return err
		}
		if bank == nil {
			return domain.ErrBankDetailsMissing
		}

		refunded, err := s.repo.RefundedProviderPortion(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		amount := payment.EscrowAmount - refunded
		if amount <= 0 {
			return domain.ErrPaymentNotEscrowed
		}

		balance, err := s.ledger.GetBalance(ctx, tx, ledgerdomain.AccountProviderBalance, payment.ProviderID)
		if err != nil {
			return err
		}
		open, err := s.repo.SumOpenForProvider(ctx, tx, payment.ProviderID)
		if err != nil {
			return err
		}
		if balance-open < amount {
			return domain.ErrInsufficientBalance
		}
		liquid, err := s.ledger.VerifyLiquidity(ctx, tx, amount)
		if err != nil {
			return err
		}
		if !liquid {
			return domain.ErrInsufficientLiquidity
		}

		now := s.clock.Now()
		moved, err := s.payments.Transition(ctx, tx, payment.ID, paymentdomain.StatusEscrow, paymentdomain.StatusProcessingRelease, now)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrPaymentNotEscrowed
		}

		payout := domain.Payout{
			PaymentID:     payment.ID,
			ProviderID:    payment.ProviderID,
			Amount:        amount,
			Currency:      payment.Currency,
			Status:        domain.StatusPendingApproval,
			AccountHolder: bank.AccountHolder,
			BankName:      bank.BankName,
			AccountNumber: bank.AccountNumber,
			RoutingCode:   bank.RoutingCode,
			CreatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if existing != nil {
			payout.ID = existing.ID
			revived, err := s.repo.Revive(ctx, tx, &payout)
			if err != nil {
				return err
			}
			if !revived {
				return domain.ErrPayoutExists
			}
		} else {
			payout.ID = s.genID.Generate()
			if err := s.repo.Insert(ctx, tx, &payout); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return domain.ErrPayoutExists
				}
				return err
			}
		}
		payoutID = payout.ID

		if err := s.audit(ctx, tx, actor, "payout.create", payout.ID, map[string]any{
			"payment_id": payment.ID.String(),
			"amount":     money.Format(payout.Amount),
		}); err != nil {
			return err
		}

		if !autoApprove {
			return nil
		}
		err = s.approveTx(ctx, tx, &payout, domain.AutoApproveActor)
		if errors.Is(err, domain.ErrInsufficientLiquidity) {
			s.log.Warn("auto-approve skipped, insufficient liquidity",
				zap.String("payout_id", payout.ID.String()),
				zap.Int64("amount", payout.Amount),
			)
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	payout, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPayoutTransition(ctx, string(payout.Status), 1)
	s.log.Info("payout created",
		zap.String("payout_id", payout.ID.String()),
		zap.String("payment_id", payout.PaymentID.String()),
		zap.String("status", string(payout.Status)),
		zap.Int64("amount", payout.Amount),
	)
	return payout, nil
}

// approveTx is the single approval primitive used by admins and by
// auto-approve. Liquidity covers this payout plus everything already
// committed to a transfer.
func (s *Service) approveTx(ctx context.Context, tx *gorm.DB, payout *domain.Payout, approver string) error {
	if payout.Status != domain.StatusPendingApproval {
		return domain.ErrInvalidState
	}
	committed, err := s.repo.SumCommitted(ctx, tx)
	if err != nil {
		return err
	}
	liquid, err := s.ledger.VerifyLiquidity(ctx, tx, payout.Amount+committed)
	if err != nil {
		return err
	}
	if !liquid {
		return domain.ErrInsufficientLiquidity
	}

	approved, err := s.repo.Approve(ctx, tx, payout.ID, approver, s.clock.Now())
	if err != nil {
		return err
	}
	if !approved {
		return domain.ErrInvalidState
	}
	return s.audit(ctx, tx, approver, "payout.approve", payout.ID, map[string]any{
		"amount":    money.Format(payout.Amount),
		"committed": money.Format(committed),
	})
}

func (s *Service) ApprovePayout(ctx context.Context, payoutID snowflake.ID, approver string) (*domain.Payout, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, domain.ErrInvalidActor
	}
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		payout, err := s.repo.FindByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout == nil {
			return domain.ErrPayoutNotFound
		}
		return s.approveTx(ctx, tx, payout, approver)
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusApproved), 1)
	return s.GetPayout(ctx, payoutID)
}

func (s *Service) CancelPayout(ctx context.Context, payoutID snowflake.ID, actor, reason string) (*domain.Payout, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		payout, err := s.repo.FindByID(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout == nil {
			return domain.ErrPayoutNotFound
		}
		return s.cancelTx(ctx, tx, payout, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusCancelled), 1)
	return s.GetPayout(ctx, payoutID)
}

// cancelTx cancels a payout that has not been exported and returns its
// payment to escrow.
func (s *Service) cancelTx(ctx context.Context, tx *gorm.DB, payout *domain.Payout, actor, reason string) error {
	if !domain.CanTransition(payout.Status, domain.StatusCancelled) {
		return domain.ErrInvalidState
	}
	now := s.clock.Now()
	reason = strings.TrimSpace(reason)
	cancelled, err := s.repo.Cancel(ctx, tx, payout.ID, actor, reason, now)
	if err != nil {
		return err
	}
	if !cancelled {
		return domain.ErrInvalidState
	}
	restored, err := s.payments.Transition(ctx, tx, payout.PaymentID, paymentdomain.StatusProcessingRelease, paymentdomain.StatusEscrow, now)
	if err != nil {
		return err
	}
	if !restored {
		s.log.Warn("payment not in release while cancelling payout",
			zap.String("payout_id", payout.ID.String()),
			zap.String("payment_id", payout.PaymentID.String()),
		)
	}
	return s.audit(ctx, tx, actor, "payout.cancel", payout.ID, map[string]any{
		"reason":          reason,
		"previous_status": string(payout.Status),
	})
}

func (s *Service) CancelOpenForPaymentTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, actor, reason string) (bool, error) {
	payout, err := s.repo.FindByPayment(ctx, tx, paymentID)
	if err != nil {
		return false, err
	}
	if payout == nil || !domain.CanTransition(payout.Status, domain.StatusCancelled) {
		return false, nil
	}
	if err := s.cancelTx(ctx, tx, payout, actor, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) FindByPaymentTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (*domain.Payout, error) {
	if tx == nil {
		tx = s.db
	}
	return s.repo.FindByPayment(ctx, tx, paymentID)
}

// ExportBatch moves approved payouts into a new batch and renders the
// transfer file. A listed payout that is not approved fails the whole
// export.
func (s *Service) ExportBatch(ctx context.Context, req domain.ExportRequest) (*domain.ExportResult, error) {
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}
	maxBatch := s.currentPolicy().MaxBatchSize
	if maxBatch > 0 && len(req.PayoutIDs) > maxBatch {
		return nil, domain.ErrBatchTooLarge
	}

	var (
		batchID snowflake.ID
		content []byte
	)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		payouts, err := s.selectForExport(ctx, tx, req.PayoutIDs, maxBatch)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		batch := domain.Batch{
			ID:        s.genID.Generate(),
			Status:    domain.BatchPending,
			Currency:  s.currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertBatch(ctx, tx, &batch); err != nil {
			return err
		}

		ids := make([]snowflake.ID, 0, len(payouts))
		for _, p := range payouts {
			ids = append(ids, p.ID)
			batch.TotalAmount += p.Amount
		}
		claimed, err := s.repo.ClaimForBatch(ctx, tx, ids, batch.ID, now)
		if err != nil {
			return err
		}
		if claimed != int64(len(ids)) {
			return domain.ErrInvalidState
		}

		file, checksum, err := export.TransferFile(payouts)
		if err != nil {
			return fmt.Errorf("render transfer file: %w", err)
		}
		fileText := string(file)
		batch.PayoutCount = int64(len(payouts))
		batch.TransferFile = &fileText
		batch.FileChecksum = &checksum
		batch.ExportedBy = &actor
		batch.ExportedAt = &now
		batch.UpdatedAt = now
		exported, err := s.repo.MarkExported(ctx, tx, &batch)
		if err != nil {
			return err
		}
		if !exported {
			return domain.ErrInvalidState
		}

		batchID = batch.ID
		content = file
		return s.audit(ctx, tx, actor, "payout_batch.export", batch.ID, map[string]any{
			"payout_count": batch.PayoutCount,
			"total_amount": money.Format(batch.TotalAmount),
			"checksum":     checksum,
		})
	})
	if err != nil {
		return nil, err
	}

	s.archive(ctx, batchID, content)

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.ListByBatch(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordBatchTransition(ctx, string(domain.BatchExported))
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusProcessing), len(payouts))
	s.log.Info("payout batch exported",
		zap.String("batch_id", batchID.String()),
		zap.Int64("payout_count", batch.PayoutCount),
		zap.Int64("total_amount", batch.TotalAmount),
	)
	return &domain.ExportResult{Batch: *batch, Payouts: payouts}, nil
}

func (s *Service) selectForExport(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, limit int) ([]domain.Payout, error) {
	if len(ids) == 0 {
		payouts, err := s.repo.ListApprovedUnbatched(ctx, tx, limit)
		if err != nil {
			return nil, err
		}
		if len(payouts) == 0 {
			return nil, domain.ErrNothingToExport
		}
		return payouts, nil
	}

	seen := make(map[snowflake.ID]struct{}, len(ids))
	payouts := make([]domain.Payout, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		payout, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if payout == nil {
			return nil, domain.ErrPayoutNotFound
		}
		if payout.Status != domain.StatusApproved || payout.BatchID != nil {
			return nil, domain.ErrInvalidState
		}
		busy, err := s.repo.RefundInFlight(ctx, tx, payout.PaymentID)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, domain.ErrRefundInFlight
		}
		payouts = append(payouts, *payout)
	}
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].ID < payouts[j].ID })
	return payouts, nil
}

// archive stores the transfer file outside the database. The batch already
// carries the file, so a failure here is only logged.
func (s *Service) archive(ctx context.Context, batchID snowflake.ID, content []byte) {
	if s.store == nil || len(content) == 0 {
		return
	}
	key := fmt.Sprintf("%s/payout-batch-%s.csv", s.clock.Now().Format("2006/01/02"), batchID.String())
	location, err := s.store.Put(ctx, key, content)
	if err != nil {
		s.log.Warn("failed to archive transfer file", zap.String("batch_id", batchID.String()), zap.Error(err))
		return
	}
	if err := s.repo.SetObjectKey(ctx, s.db, batchID, location); err != nil {
		s.log.Warn("failed to record transfer file location", zap.String("batch_id", batchID.String()), zap.Error(err))
	}
}

// ExecuteBatch records the bank transfer for an exported batch and debits
// the ledger for every payout in it. Any failure rolls the whole batch back.
func (s *Service) ExecuteBatch(ctx context.Context, batchID snowflake.ID, executor, bankReference string) (*domain.Batch, error) {
	executor = strings.TrimSpace(executor)
	if executor == "" {
		return nil, domain.ErrInvalidActor
	}
	bankReference = strings.TrimSpace(bankReference)
	if bankReference == "" {
		return nil, domain.ErrInvalidBankReference
	}

	var (
		completed int
		unchanged bool
	)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		completed = 0
		unchanged = false
		batch, err := s.repo.FindBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		if batch.Status == domain.BatchExecuted {
			unchanged = true
			return nil
		}
		if batch.Status != domain.BatchExported {
			return domain.ErrInvalidState
		}

		payouts, err := s.repo.ListByBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		result, err := s.executor.Execute(ctx, domain.ExecutionRequest{
			Batch:         *batch,
			Payouts:       payouts,
			BankReference: bankReference,
			Actor:         executor,
		})
		if err != nil {
			return err
		}

		now := s.clock.Now()
		claimed, err := s.repo.MarkExecuted(ctx, tx, batchID, executor, result.BankReference, now)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrInvalidState
		}

		for _, payout := range payouts {
			if err := s.executePayout(ctx, tx, payout); err != nil {
				return fmt.Errorf("payout %s: %w", payout.ID, err)
			}
			completed++
		}

		return s.audit(ctx, tx, executor, "payout_batch.execute", batchID, map[string]any{
			"bank_reference": result.BankReference,
			"executor":       s.executor.Name(),
			"payout_count":   len(payouts),
			"total_amount":   money.Format(batch.TotalAmount),
		})
	})
	if err != nil {
		return nil, err
	}

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if unchanged {
		return batch, nil
	}

	s.obsMetrics.RecordBatchTransition(ctx, string(domain.BatchExecuted))
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusCompleted), completed)
	s.log.Info("payout batch executed",
		zap.String("batch_id", batchID.String()),
		zap.Int("payout_count", completed),
		zap.String("bank_reference", bankReference),
	)
	s.ledger.CheckAfterWrite(ctx, "payout")
	return batch, nil
}

func (s *Service) executePayout(ctx context.Context, tx *gorm.DB, payout domain.Payout) error {
	if payout.Status != domain.StatusProcessing {
		return domain.ErrInvalidState
	}
	liquid, err := s.ledger.VerifyLiquidity(ctx, tx, payout.Amount)
	if err != nil {
		return err
	}
	if !liquid {
		return domain.ErrInsufficientLiquidity
	}

	memo := "payout " + payout.ID.String()
	debits := []ledgerdomain.LedgerEntry{
		{AccountType: ledgerdomain.AccountProviderBalance, AccountID: payout.ProviderID},
		{AccountType: ledgerdomain.AccountBank, AccountID: ledgerdomain.SystemAccountID},
	}
	for _, entry := range debits {
		entry.EntryType = ledgerdomain.EntryDebit
		entry.Amount = payout.Amount
		entry.Currency = payout.Currency
		entry.ReferenceType = ledgerdomain.ReferencePayout
		entry.ReferenceID = payout.ID
		entry.Memo = memo
		if _, err := s.ledger.CreateEntryIdempotent(ctx, tx, entry); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	done, err := s.repo.Complete(ctx, tx, payout.ID, now)
	if err != nil {
		return err
	}
	if !done {
		return domain.ErrInvalidState
	}
	released, err := s.payments.Transition(ctx, tx, payout.PaymentID, paymentdomain.StatusProcessingRelease, paymentdomain.StatusReleased, now)
	if err != nil {
		return err
	}
	if !released {
		return domain.ErrInvalidState
	}

	payment, err := s.payments.FindByID(ctx, tx, payout.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return nil
	}
	if err := s.bookings.SetStatus(ctx, tx, payment.BookingID, bookingdomain.StatusCompleted, now); err != nil && !errors.Is(err, bookingdomain.ErrBookingNotFound) {
		return err
	}
	return nil
}

// CancelBatch abandons a batch before execution and returns its payouts to
// approved so they can be exported again. Payouts of refunded payments are
// cancelled instead.
func (s *Service) CancelBatch(ctx context.Context, batchID snowflake.ID, actor string) (*domain.Batch, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}
	var released, dropped int64
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		batch, err := s.repo.FindBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}
		now := s.clock.Now()
		cancelled, err := s.repo.MarkBatchCancelled(ctx, tx, batchID, actor, now)
		if err != nil {
			return err
		}
		if !cancelled {
			return domain.ErrInvalidState
		}
		released, dropped, err = s.repo.ReleaseBatch(ctx, tx, batchID, actor, now)
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, "payout_batch.cancel", batchID, map[string]any{
			"released_payouts":  released,
			"cancelled_payouts": dropped,
			"previous_status":   string(batch.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordBatchTransition(ctx, string(domain.BatchCancelled))
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusApproved), int(released))
	s.obsMetrics.RecordPayoutTransition(ctx, string(domain.StatusCancelled), int(dropped))
	return s.GetBatch(ctx, batchID)
}

func (s *Service) GetPayout(ctx context.Context, payoutID snowflake.ID) (*domain.Payout, error) {
	payout, err := s.repo.FindByID(ctx, s.db, payoutID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrPayoutNotFound
	}
	return payout, nil
}

func (s *Service) ListPayouts(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Status:     req.Status,
		ProviderID: req.ProviderID,
		BatchID:    req.BatchID,
		AfterID:    snowflake.ID(afterID),
		Limit:      limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	payouts, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(p domain.Payout) string {
		return p.ID.String()
	})
	return domain.ListResponse{PageInfo: pageInfo, Payouts: payouts}, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID snowflake.ID) (*domain.Batch, error) {
	batch, err := s.repo.FindBatch(ctx, s.db, batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Service) ListBatches(ctx context.Context, req domain.BatchListRequest) (domain.BatchListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.BatchListResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.BatchListResponse{}, domain.ErrInvalidPageToken
	}
	limit := req.Limit()
	items, err := s.repo.ListBatches(ctx, s.db, domain.BatchListFilter{
		Status:  req.Status,
		AfterID: snowflake.ID(afterID),
		Limit:   limit + 1,
	})
	if err != nil {
		return domain.BatchListResponse{}, err
	}
	batches, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(b domain.Batch) string {
		return b.ID.String()
	})
	return domain.BatchListResponse{PageInfo: pageInfo, Batches: batches}, nil
}

func (s *Service) BatchFile(ctx context.Context, batchID snowflake.ID) (*domain.BatchFile, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.TransferFile == nil {
		return nil, domain.ErrTransferFileMissing
	}
	content := []byte(*batch.TransferFile)
	checksum := export.Checksum(content)
	if batch.FileChecksum != nil && *batch.FileChecksum != checksum {
		s.log.Error("transfer file checksum mismatch", zap.String("batch_id", batchID.String()))
		return nil, domain.ErrTransferFileMissing
	}
	return &domain.BatchFile{
		Name:     fmt.Sprintf("payout-batch-%s.csv", batchID.String()),
		Content:  content,
		Checksum: checksum,
	}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor, action string, targetID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorType := string(auditdomain.ActorTypeAdmin)
	if strings.HasPrefix(actor, "system:") {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	targetType := "payout"
	if strings.HasPrefix(action, "payout_batch.") {
		targetType = "payout_batch"
	}
	return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
		ActorType:  actorType,
		ActorID:    actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID.String(),
		Metadata:   metadata,
	})
}
