package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	"github.com/smallbiznis/escrowd/internal/clock"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/internal/refund/domain"
	settlementdomain "github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
	"github.com/smallbiznis/escrowd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxReasonLength = 500

type Params struct {
	fx.In

	DB         *gorm.DB
	Tx         *db.TxRunner
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Payments   paymentdomain.Repository
	Gateway    paymentdomain.Gateway
	Payouts    payoutdomain.Service
	Settlement settlementdomain.Service
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
	repo       domain.Repository
	payments   paymentdomain.Repository
	gateway    paymentdomain.Gateway
	payouts    payoutdomain.Service
	settlement settlementdomain.Service
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		tx:         p.Tx,
		log:        p.Log.Named("refund.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		payments:   p.Payments,
		gateway:    p.Gateway,
		payouts:    p.Payouts,
		settlement: p.Settlement,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IssueRefund(ctx context.Context, req domain.RefundRequest) (*domain.Refund, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	req.Reason = strings.TrimSpace(req.Reason)
	switch {
	case req.PaymentID == 0:
		return nil, paymentdomain.ErrPaymentNotFound
	case req.Amount <= 0:
		return nil, domain.ErrInvalidAmount
	case req.IdempotencyKey == "" || len(req.IdempotencyKey) > 255:
		return nil, domain.ErrInvalidIdempotencyKey
	case req.RequestedBy == "":
		return nil, domain.ErrInvalidActor
	}
	if len(req.Reason) > maxReasonLength {
		req.Reason = req.Reason[:maxReasonLength]
	}

	var (
		refund  *domain.Refund
		payment *paymentdomain.Payment
		created bool
	)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		created = false
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, req.PaymentID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Amount != req.Amount {
				return domain.ErrIdempotencyKeyConflict
			}
			refund = existing
			return nil
		}

		payment, err = s.payments.FindByID(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if err := s.checkRefundable(ctx, tx, payment, req.Amount); err != nil {
			return err
		}

		now := s.clock.Now()
		provider := money.Prorate(req.Amount, payment.EscrowAmount, payment.Amount)
		item := domain.Refund{
			ID:              s.genID.Generate(),
			PaymentID:       payment.ID,
			Amount:          req.Amount,
			ProviderPortion: provider,
			PlatformPortion: req.Amount - provider,
			Currency:        payment.Currency,
			Reason:          req.Reason,
			IdempotencyKey:  req.IdempotencyKey,
			Status:          domain.StatusProcessing,
			RequestedBy:     req.RequestedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := s.repo.Insert(ctx, tx, &item)
		if err != nil {
			return err
		}
		if !inserted {
			refund, err = s.repo.FindByIdempotencyKey(ctx, tx, payment.ID, req.IdempotencyKey)
			return err
		}
		refund = &item
		created = true

		return s.audit(ctx, tx, req.RequestedBy, "refund.request", item.ID, map[string]any{
			"payment_id": payment.ID.String(),
			"amount":     money.Format(item.Amount),
			"reason":     item.Reason,
		})
	})
	if err != nil {
		s.obsMetrics.RecordRefund(ctx, "rejected")
		return nil, err
	}
	if !created {
		return refund, nil
	}
	return s.execute(ctx, refund, payment, req.RequestedBy)
}

// checkRefundable enforces the cumulative cap and blocks refunds while the
// payout is with the bank.
func (s *Service) checkRefundable(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, amount int64) error {
	if !payment.Status.PostEscrow() {
		return domain.ErrPaymentNotRefundable
	}
	payout, err := s.payouts.FindByPaymentTx(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if payout != nil && payout.Status == payoutdomain.StatusProcessing {
		return domain.ErrPayoutInFlight
	}
	refunded, err := s.repo.SumActive(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if refunded+amount > payment.Amount {
		return domain.ErrRefundExceedsAmount
	}
	return nil
}

func (s *Service) RetryRefund(ctx context.Context, refundID snowflake.ID, actor string) (*domain.Refund, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.ErrInvalidActor
	}

	var (
		refund  *domain.Refund
		payment *paymentdomain.Payment
	)
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		var err error
		refund, err = s.repo.FindByID(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if refund == nil {
			return domain.ErrRefundNotFound
		}
		// An uncertain refund is already inside the cap.
		var additional int64
		switch {
		case refund.Status == domain.StatusFailed:
			additional = refund.Amount
		case refund.Status == domain.StatusProcessing && refund.FailureReason != nil:
		default:
			return domain.ErrInvalidState
		}
		payment, err = s.payments.FindByID(ctx, tx, refund.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if err := s.checkRefundable(ctx, tx, payment, additional); err != nil {
			return err
		}
		reopened, err := s.repo.Reopen(ctx, tx, refund.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !reopened {
			return domain.ErrInvalidState
		}
		refund.Status = domain.StatusProcessing
		refund.FailureReason = nil
		return s.audit(ctx, tx, actor, "refund.retry", refund.ID, map[string]any{
			"payment_id": payment.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, refund, payment, actor)
}

// execute calls the gateway outside any transaction. The refund id is the
// gateway idempotency key, so a retry after an ambiguous failure cannot
// refund twice. Only a definite decline releases the refund's share of the
// cap; anything else may have moved money and leaves it PROCESSING.
func (s *Service) execute(ctx context.Context, refund *domain.Refund, payment *paymentdomain.Payment, actor string) (*domain.Refund, error) {
	result, err := s.gateway.Refund(ctx, paymentdomain.RefundRequest{
		RefundID:          refund.ID,
		ExternalReference: payment.ExternalReference,
		Amount:            refund.Amount,
		Currency:          refund.Currency,
		Reason:            refund.Reason,
	})
	if err != nil {
		log := s.log.With(
			zap.String("refund_id", refund.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		mark, outcome := s.repo.MarkUncertain, "gateway_unknown"
		if gatewayRejected(err) {
			mark, outcome = s.repo.MarkFailed, "gateway_failed"
			log.Warn("gateway declined refund")
		} else {
			log.Error("gateway refund outcome unknown, retry with the same refund")
		}
		if _, markErr := mark(ctx, s.db, refund.ID, err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("failed to record refund failure", zap.String("refund_id", refund.ID.String()), zap.Error(markErr))
		}
		s.obsMetrics.RecordRefund(ctx, outcome)
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayRefundFailed, err)
	}
	if result.Status != "" && result.Status != "succeeded" {
		s.log.Warn("gateway accepted refund without settling it",
			zap.String("refund_id", refund.ID.String()),
			zap.String("gateway_status", result.Status),
		)
	}

	err = s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		return s.completeTx(ctx, tx, refund, result, actor)
	})
	if err != nil {
		s.log.Error("refund reversed at gateway but not booked",
			zap.String("refund_id", refund.ID.String()),
			zap.String("gateway_reference", result.GatewayReference),
			zap.Error(err),
		)
		if _, markErr := s.repo.MarkUncertain(ctx, s.db, refund.ID, "not booked: "+err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("failed to record refund failure", zap.String("refund_id", refund.ID.String()), zap.Error(markErr))
		}
		return nil, err
	}

	s.obsMetrics.RecordRefund(ctx, "completed")
	s.log.Info("refund completed",
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_id", refund.PaymentID.String()),
		zap.Int64("amount", refund.Amount),
	)
	s.ledger.CheckAfterWrite(ctx, "refund")
	return s.GetRefund(ctx, refund.ID)
}

// completeTx books a refund the gateway has accepted. An open payout is
// cancelled first; if the payout already completed the provider balance goes
// negative and is carried as debt.
func (s *Service) completeTx(ctx context.Context, tx *gorm.DB, refund *domain.Refund, result paymentdomain.RefundResult, actor string) error {
	now := s.clock.Now()
	completed, err := s.repo.Complete(ctx, tx, refund.ID, result.GatewayReference, now)
	if err != nil {
		return err
	}
	if !completed {
		return domain.ErrInvalidState
	}

	cancelled, err := s.payouts.CancelOpenForPaymentTx(ctx, tx, refund.PaymentID, actor, "refund "+refund.ID.String())
	if err != nil {
		return err
	}

	payment, err := s.payments.FindByID(ctx, tx, refund.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return paymentdomain.ErrPaymentNotFound
	}

	debits := []ledgerdomain.LedgerEntry{
		{AccountType: ledgerdomain.AccountProviderBalance, AccountID: payment.ProviderID, Amount: refund.ProviderPortion},
		{AccountType: ledgerdomain.AccountPlatformRevenue, AccountID: ledgerdomain.SystemAccountID, Amount: refund.PlatformPortion},
	}
	for _, entry := range debits {
		if entry.Amount == 0 {
			continue
		}
		entry.EntryType = ledgerdomain.EntryDebit
		entry.Currency = refund.Currency
		entry.ReferenceType = ledgerdomain.ReferenceRefund
		entry.ReferenceID = refund.ID
		entry.Memo = "refund " + refund.ID.String()
		if _, err := s.ledger.CreateEntryIdempotent(ctx, tx, entry); err != nil {
			return err
		}
	}

	total, err := s.repo.SumCompleted(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if total >= payment.Amount {
		moved, err := s.payments.Transition(ctx, tx, payment.ID, payment.Status, paymentdomain.StatusRefunded, now)
		if err != nil {
			return err
		}
		if !moved {
			return domain.ErrInvalidState
		}
	}

	reduced := false
	if payment.SettlementBatchID != nil {
		reduced, err = s.settlement.ReduceExpectedTx(ctx, tx, *payment.SettlementBatchID, refund.Amount)
		if err != nil {
			return err
		}
	}

	return s.audit(ctx, tx, actor, "refund.complete", refund.ID, map[string]any{
		"payment_id":         payment.ID.String(),
		"amount":             money.Format(refund.Amount),
		"provider_portion":   money.Format(refund.ProviderPortion),
		"platform_portion":   money.Format(refund.PlatformPortion),
		"gateway_reference":  result.GatewayReference,
		"gateway_status":     result.Status,
		"payout_cancelled":   cancelled,
		"settlement_reduced": reduced,
	})
}

// gatewayRejected reports errors after which the gateway cannot have
// refunded anything.
func gatewayRejected(err error) bool {
	for _, target := range []error{
		paymentdomain.ErrGatewayDeclined,
		paymentdomain.ErrGatewayNotConfigured,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidPayment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) GetRefund(ctx context.Context, refundID snowflake.ID) (*domain.Refund, error) {
	refund, err := s.repo.FindByID(ctx, s.db, refundID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	return refund, nil
}

func (s *Service) ListRefunds(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatus
	}
	afterID, err := req.AfterID()
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidPageToken
	}
	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		PaymentID: req.PaymentID,
		Status:    req.Status,
		AfterID:   snowflake.ID(afterID),
		Limit:     limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	refunds, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(r domain.Refund) string {
		return r.ID.String()
	})
	return domain.ListResponse{PageInfo: pageInfo, Refunds: refunds}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor, action string, refundID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Entry{
		ActorType:  string(auditdomain.ActorTypeAdmin),
		ActorID:    actor,
		Action:     action,
		TargetType: "refund",
		TargetID:   refundID.String(),
		Metadata:   metadata,
	})
}
