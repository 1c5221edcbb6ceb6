package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/escrowd/internal/booking/domain"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	settlementdomain "github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/smallbiznis/escrowd/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const staleEventLimit = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Tx         *db.TxRunner
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Policy     *config.PolicyHolder
	Repo       paymentdomain.Repository
	Bookings   bookingdomain.Repository
	Ledger     ledgerdomain.Service
	Settlement settlementdomain.Service
	Gateway    paymentdomain.Gateway `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	tx         *db.TxRunner
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	currency   string
	policy     *config.PolicyHolder
	repo       paymentdomain.Repository
	bookings   bookingdomain.Repository
	ledger     ledgerdomain.Service
	settlement settlementdomain.Service
	gateway    paymentdomain.Gateway
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		tx:         p.Tx,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		currency:   strings.ToUpper(strings.TrimSpace(p.Config.Currency)),
		policy:     p.Policy,
		repo:       p.Repo,
		bookings:   p.Bookings,
		ledger:     p.Ledger,
		settlement: p.Settlement,
		gateway:    p.Gateway,
		obsMetrics: p.ObsMetrics,
	}
}

// CreatePayment opens the gateway charge for a booking and records the
// pending payment. A booking that already has a payment gets it back
// unchanged.
func (s *Service) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (paymentdomain.CreatePaymentResult, error) {
	if req.BookingID == 0 || req.ProviderID == 0 || req.ClientID == 0 {
		return paymentdomain.CreatePaymentResult{}, paymentdomain.ErrInvalidPayment
	}
	if req.Amount <= 0 {
		return paymentdomain.CreatePaymentResult{}, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return paymentdomain.CreatePaymentResult{}, paymentdomain.ErrUnsupportedCurrency
	}

	existing, err := s.repo.FindByBooking(ctx, s.db, req.BookingID)
	if err != nil {
		return paymentdomain.CreatePaymentResult{}, err
	}
	if existing != nil {
		return paymentdomain.CreatePaymentResult{Payment: *existing}, nil
	}
	if s.gateway == nil {
		return paymentdomain.CreatePaymentResult{}, paymentdomain.ErrGatewayNotConfigured
	}

	feeBps := config.DefaultPayoutPolicy().PlatformFeeBps
	if s.policy != nil {
		feeBps = s.policy.Get().PlatformFeeBps
	}
	fee, net := money.SplitFee(req.Amount, feeBps)

	paymentID := s.genID.Generate()
	charge, err := s.gateway.InitiateCharge(ctx, paymentdomain.ChargeRequest{
		PaymentID:  paymentID,
		BookingID:  req.BookingID,
		ProviderID: req.ProviderID,
		ClientID:   req.ClientID,
		Amount:     req.Amount,
		Currency:   currency,
	})
	if err != nil {
		return paymentdomain.CreatePaymentResult{}, err
	}
	if strings.TrimSpace(charge.ExternalReference) == "" {
		return paymentdomain.CreatePaymentResult{}, fmt.Errorf("empty charge reference: %w", paymentdomain.ErrGatewayRequestFailed)
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:                paymentID,
		BookingID:         req.BookingID,
		ProviderID:        req.ProviderID,
		ClientID:          req.ClientID,
		Amount:            req.Amount,
		PlatformFee:       fee,
		EscrowAmount:      net,
		Currency:          currency,
		Status:            paymentdomain.StatusPending,
		Gateway:           s.gateway.Name(),
		ExternalReference: charge.ExternalReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		if _, err := s.bookings.Ensure(ctx, tx, &bookingdomain.Booking{
			ID:         req.BookingID,
			ProviderID: req.ProviderID,
			ClientID:   req.ClientID,
			Status:     bookingdomain.StatusPendingPayment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		booking, err := s.bookings.Get(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if booking == nil || booking.ProviderID != req.ProviderID || booking.ClientID != req.ClientID {
			return paymentdomain.ErrInvalidPayment
		}
		return s.repo.Insert(ctx, tx, &payment)
	})
	if err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return paymentdomain.CreatePaymentResult{}, err
		}
		existing, findErr := s.repo.FindByBooking(ctx, s.db, req.BookingID)
		if findErr != nil {
			return paymentdomain.CreatePaymentResult{}, findErr
		}
		if existing == nil {
			return paymentdomain.CreatePaymentResult{}, err
		}
		return paymentdomain.CreatePaymentResult{Payment: *existing}, nil
	}

	s.log.Info("payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("booking_id", payment.BookingID.String()),
		zap.String("gateway", payment.Gateway),
		zap.Int64("amount", payment.Amount),
		zap.Int64("platform_fee", payment.PlatformFee),
	)

	return paymentdomain.CreatePaymentResult{
		Payment:      payment,
		ClientSecret: charge.ClientSecret,
		Created:      true,
	}, nil
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) ListPayments(ctx context.Context, filter paymentdomain.ListPaymentsFilter) ([]paymentdomain.Payment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, paymentdomain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, filter)
}

// ProcessEvent applies a verified gateway event. The receipt is stored
// before the transaction so a failed attempt leaves its error behind for
// operators; the processed flag only flips inside the transaction that
// moves the money.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.ProcessOutcome, error) {
	if err := s.validateEvent(event); err != nil {
		return "", err
	}

	now := s.clock.Now()
	receipt := paymentdomain.WebhookEvent{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		EventID:           event.ProviderEventID,
		EventType:         event.Type,
		ExternalReference: event.ExternalReference,
		ReceivedAt:        now,
	}
	if len(event.RawPayload) > 0 && json.Valid(event.RawPayload) {
		receipt.Payload = datatypes.JSON(event.RawPayload)
	}
	if _, err := s.repo.InsertEvent(ctx, s.db, &receipt); err != nil {
		return "", err
	}

	outcome, err := s.applyEvent(ctx, event, &receipt)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// A concurrent delivery committed first; the retry observes it.
		outcome, err = s.applyEvent(ctx, event, &receipt)
	}
	if err != nil {
		if recErr := s.repo.RecordEventError(ctx, s.db, event.Type, event.ExternalReference, err.Error()); recErr != nil {
			s.log.Warn("failed to record webhook processing error", zap.Error(recErr))
		}
		s.log.Warn("payment event processing failed",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.String("external_reference", event.ExternalReference),
			zap.Error(err),
		)
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type, "error")
		return "", err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type, string(outcome))
	if outcome == paymentdomain.OutcomeProcessed && event.Type == paymentdomain.EventTypePaymentSucceeded {
		s.ledger.CheckAfterWrite(ctx, "webhook")
	}
	return outcome, nil
}

func (s *Service) validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ExternalReference = strings.TrimSpace(event.ExternalReference)
	if event.ExternalReference == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.Amount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, event *paymentdomain.PaymentEvent, receipt *paymentdomain.WebhookEvent) (paymentdomain.ProcessOutcome, error) {
	var outcome paymentdomain.ProcessOutcome
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		processed, err := s.repo.HasProcessedEvent(ctx, tx, event.Type, event.ExternalReference)
		if err != nil {
			return err
		}
		if processed {
			outcome = paymentdomain.OutcomeDuplicate
			return s.repo.DiscardPendingEvent(ctx, tx, event.Type, event.ExternalReference)
		}

		payment, err := s.repo.FindByExternalReference(ctx, tx, event.ExternalReference)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		switch event.Type {
		case paymentdomain.EventTypePaymentSucceeded:
			outcome, err = s.escrow(ctx, tx, payment, event)
		case paymentdomain.EventTypePaymentFailed:
			outcome, err = s.fail(ctx, tx, payment, event)
		default:
			err = paymentdomain.ErrInvalidEvent
		}
		if err != nil {
			return err
		}
		return s.repo.MarkEventProcessed(ctx, tx, receipt, s.clock.Now())
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// escrow moves a pending or failed payment into escrow: the settlement day
// expects the gross amount, the provider is credited the net and the
// platform the fee.
func (s *Service) escrow(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, event *paymentdomain.PaymentEvent) (paymentdomain.ProcessOutcome, error) {
	if event.Currency != "" && event.Currency != payment.Currency {
		return "", paymentdomain.ErrAmountMismatch
	}
	if event.Amount != payment.Amount {
		return "", paymentdomain.ErrAmountMismatch
	}

	now := s.clock.Now()
	moved, err := s.repo.MarkEscrowed(ctx, tx, payment.ExternalReference, now)
	if err != nil {
		return "", err
	}
	if !moved {
		s.log.Info("payment already escrowed, event recorded as duplicate",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
		)
		return paymentdomain.OutcomeDuplicate, nil
	}

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = now
	}
	batchID, err := s.settlement.AccumulateTx(ctx, tx, s.settlement.ExpectedSettlementDate(paidAt), payment.Amount)
	if err != nil {
		return "", err
	}
	if err := s.repo.AttachSettlementBatch(ctx, tx, payment.ID, batchID); err != nil {
		return "", err
	}

	credits := []ledgerdomain.LedgerEntry{
		{
			AccountType: ledgerdomain.AccountProviderBalance,
			AccountID:   payment.ProviderID,
			Amount:      payment.EscrowAmount,
			Memo:        "escrow for booking " + payment.BookingID.String(),
		},
		{
			AccountType: ledgerdomain.AccountPlatformRevenue,
			AccountID:   ledgerdomain.SystemAccountID,
			Amount:      payment.PlatformFee,
			Memo:        "platform fee for booking " + payment.BookingID.String(),
		},
	}
	for _, entry := range credits {
		if entry.Amount == 0 {
			continue
		}
		entry.EntryType = ledgerdomain.EntryCredit
		entry.Currency = payment.Currency
		entry.ReferenceType = ledgerdomain.ReferencePayment
		entry.ReferenceID = payment.ID
		if _, err := s.ledger.CreateEntryIdempotent(ctx, tx, entry); err != nil {
			return "", err
		}
	}

	if err := s.bookings.SetStatus(ctx, tx, payment.BookingID, bookingdomain.StatusAwaitingExecution, now); err != nil {
		if !errors.Is(err, bookingdomain.ErrBookingNotFound) {
			return "", err
		}
		s.log.Warn("booking missing for escrowed payment", zap.String("booking_id", payment.BookingID.String()))
	}

	if payment.Status == paymentdomain.StatusFailed {
		s.log.Warn("payment succeeded after a failed attempt",
			zap.String("payment_id", payment.ID.String()),
			zap.Stringp("previous_failure", payment.FailureReason),
		)
	}
	s.log.Info("payment escrowed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("settlement_batch_id", batchID.String()),
		zap.Int64("escrow_amount", payment.EscrowAmount),
		zap.Int64("platform_fee", payment.PlatformFee),
	)
	return paymentdomain.OutcomeProcessed, nil
}

func (s *Service) fail(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, event *paymentdomain.PaymentEvent) (paymentdomain.ProcessOutcome, error) {
	reason := strings.TrimSpace(event.FailureReason)
	if reason == "" {
		reason = "payment_failed"
	}
	moved, err := s.repo.MarkFailed(ctx, tx, payment.ExternalReference, reason, s.clock.Now())
	if err != nil {
		return "", err
	}
	if !moved {
		return paymentdomain.OutcomeDuplicate, nil
	}
	s.log.Info("payment failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("reason", reason),
	)
	return paymentdomain.OutcomeProcessed, nil
}

// ListStaleEvents returns receipts that never reached processed, oldest
// first.
func (s *Service) ListStaleEvents(ctx context.Context, olderThan time.Duration) ([]paymentdomain.WebhookEvent, error) {
	if olderThan < 0 {
		olderThan = 0
	}
	return s.repo.ListPendingEvents(ctx, s.db, s.clock.Now().Add(-olderThan), staleEventLimit)
}
