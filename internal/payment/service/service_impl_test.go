package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingrepo "github.com/smallbiznis/escrowd/internal/booking/repository"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/escrowd/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/escrowd/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/escrowd/internal/payment/repository"
	paymentservice "github.com/smallbiznis/escrowd/internal/payment/service"
	settlementrepo "github.com/smallbiznis/escrowd/internal/settlement/repository"
	settlementservice "github.com/smallbiznis/escrowd/internal/settlement/service"
	"github.com/smallbiznis/escrowd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu      sync.Mutex
	charges []paymentdomain.ChargeRequest
	err     error
}

func (g *fakeGateway) Name() string { return "stripe" }

func (g *fakeGateway) InitiateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return paymentdomain.ChargeResult{}, g.err
	}
	g.charges = append(g.charges, req)
	return paymentdomain.ChargeResult{
		ExternalReference: "pi_" + req.PaymentID.String(),
		ClientSecret:      "secret_" + req.PaymentID.String(),
		Status:            "requires_payment_method",
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	return paymentdomain.RefundResult{}, errors.New("not used")
}

type fixture struct {
	svc     paymentdomain.Service
	ledger  ledgerdomain.Service
	gateway *fakeGateway
	conn    *gorm.DB
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	tx := testutil.NewTxRunner(conn)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Currency: "USD"}
	policy := config.NewStaticPolicyHolder(config.DefaultPayoutPolicy())

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg, Repo: ledgerrepo.Provide(),
	})
	settlement := settlementservice.NewService(settlementservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk, Policy: policy,
		Repo: settlementrepo.Provide(), Ledger: ledger,
	})
	gateway := &fakeGateway{}
	svc := paymentservice.NewService(paymentservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg, Policy: policy,
		Repo:       paymentrepo.Provide(),
		Bookings:   bookingrepo.Provide(),
		Ledger:     ledger,
		Settlement: settlement,
		Gateway:    gateway,
	})
	return fixture{svc: svc, ledger: ledger, gateway: gateway, conn: conn, clock: clk}
}

func (f fixture) createPayment(t *testing.T, bookingID snowflake.ID, amount int64) paymentdomain.Payment {
	t.Helper()
	res, err := f.svc.CreatePayment(context.Background(), paymentdomain.CreatePaymentRequest{
		BookingID: bookingID, ProviderID: 500, ClientID: 600, Amount: amount, Currency: "usd",
	})
	require.NoError(t, err)
	return res.Payment
}

func succeeded(ref string, amount int64) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_" + ref,
		ExternalReference: ref,
		Type:              paymentdomain.EventTypePaymentSucceeded,
		Amount:            amount,
		Currency:          "USD",
		OccurredAt:        time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
		RawPayload:        []byte(`{"id":"evt"}`),
	}
}

func TestCreatePaymentSplitsFeeAndIsIdempotentPerBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{
		BookingID: 1, ProviderID: 500, ClientID: 600, Amount: 10000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, int64(1000), res.Payment.PlatformFee)
	assert.Equal(t, int64(9000), res.Payment.EscrowAmount)
	assert.Equal(t, paymentdomain.StatusPending, res.Payment.Status)
	assert.Equal(t, "USD", res.Payment.Currency)

	again, err := f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{
		BookingID: 1, ProviderID: 500, ClientID: 600, Amount: 10000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Payment.ID, again.Payment.ID)
	assert.Len(t, f.gateway.charges, 1)

	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM bookings WHERE status = 'PENDING_PAYMENT'", 1)
}

func TestCreatePaymentValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{BookingID: 1, ProviderID: 2, ClientID: 3, Amount: 0})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{BookingID: 1, ProviderID: 2, ClientID: 3, Amount: 10, Currency: "EUR"})
	assert.ErrorIs(t, err, paymentdomain.ErrUnsupportedCurrency)

	_, err = f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{ProviderID: 2, ClientID: 3, Amount: 10})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayment)

	f.gateway.err = paymentdomain.ErrGatewayRequestFailed
	_, err = f.svc.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{BookingID: 1, ProviderID: 2, ClientID: 3, Amount: 10})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayRequestFailed)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payments", 0)
}

func TestProcessSucceededEscrowsAndCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 1, 10000)

	outcome, err := f.svc.ProcessEvent(ctx, succeeded(payment.ExternalReference, 10000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeProcessed, outcome)

	got, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusEscrow, got.Status)
	require.NotNil(t, got.SettlementBatchID)
	require.NotNil(t, got.EscrowedAt)

	provider, err := f.ledger.ProviderBalance(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), provider)
	platform, err := f.ledger.GetBalance(ctx, f.conn, ledgerdomain.AccountPlatformRevenue, ledgerdomain.SystemAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), platform)

	assert.Equal(t, "2025-03-03", testutil.ScanString(t, f.conn, "SELECT settlement_date FROM settlement_batches"))
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM settlement_batches WHERE expected_amount = 10000", 1)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM bookings WHERE status = 'AWAITING_EXECUTION'", 1)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM webhook_events WHERE processed = TRUE", 1)

	report, err := f.ledger.AssertAccountingInvariant(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, "violations: %v", report.Violations)
}

func TestProcessDuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 1, 10000)

	for i := 0; i < 3; i++ {
		outcome, err := f.svc.ProcessEvent(ctx, succeeded(payment.ExternalReference, 10000))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, paymentdomain.OutcomeProcessed, outcome)
		} else {
			assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
		}
	}

	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries", 2)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM webhook_events", 1)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM settlement_batches WHERE payment_count = 1", 1)
}

func TestProcessConcurrentDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 1, 10000)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ProcessEvent(ctx, succeeded(payment.ExternalReference, 10000))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := f.ledger.ProviderBalance(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), balance)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'PAYMENT'", 2)
}

func TestProcessAmountMismatchRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 1, 10000)

	_, err := f.svc.ProcessEvent(ctx, succeeded(payment.ExternalReference, 9999))
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)

	got, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPending, got.Status)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries", 0)
	assert.Equal(t, "amount_mismatch", testutil.ScanString(t, f.conn,
		"SELECT processing_error FROM webhook_events WHERE processed = FALSE"))

	f.clock.Advance(time.Hour)
	stale, err := f.svc.ListStaleEvents(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, payment.ExternalReference, stale[0].ExternalReference)
}

func TestProcessUnknownPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProcessEvent(context.Background(), succeeded("pi_missing", 100))
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestProcessFailedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.createPayment(t, 1, 10000)

	event := &paymentdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   "evt_fail",
		ExternalReference: payment.ExternalReference,
		Type:              paymentdomain.EventTypePaymentFailed,
		FailureReason:     "card_declined",
	}
	outcome, err := f.svc.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeProcessed, outcome)

	got, err := f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "card_declined", *got.FailureReason)

	// The client retried with another card and the intent succeeded.
	outcome, err = f.svc.ProcessEvent(ctx, succeeded(payment.ExternalReference, 10000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeProcessed, outcome)

	got, err = f.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusEscrow, got.Status)
	assert.Nil(t, got.FailureReason)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'PAYMENT'", 2)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM settlement_batches WHERE payment_count = 1 AND expected_amount = 10000", 1)

	// A late failure for an escrowed payment changes nothing.
	event.ProviderEventID = "evt_fail_late"
	outcome, err = f.svc.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
	assert.Equal(t, "ESCROW", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", payment.ID))
}

func TestListPaymentsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createPayment(t, 1, 1000)
	f.createPayment(t, 2, 2000)

	_, err := f.svc.ProcessEvent(ctx, succeeded(first.ExternalReference, 1000))
	require.NoError(t, err)

	escrowed, err := f.svc.ListPayments(ctx, paymentdomain.ListPaymentsFilter{Status: paymentdomain.StatusEscrow})
	require.NoError(t, err)
	require.Len(t, escrowed, 1)
	assert.Equal(t, first.ID, escrowed[0].ID)

	_, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentsFilter{Status: "SETTLED"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStatus)
}
