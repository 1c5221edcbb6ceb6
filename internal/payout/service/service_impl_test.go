package service_test

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepo "github.com/smallbiznis/escrowd/internal/audit/repository"
	auditservice "github.com/smallbiznis/escrowd/internal/audit/service"
	bookingrepo "github.com/smallbiznis/escrowd/internal/booking/repository"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/escrowd/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/escrowd/internal/ledger/service"
	paymentrepo "github.com/smallbiznis/escrowd/internal/payment/repository"
	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/internal/payout/executor"
	"github.com/smallbiznis/escrowd/internal/payout/export"
	payoutrepo "github.com/smallbiznis/escrowd/internal/payout/repository"
	payoutservice "github.com/smallbiznis/escrowd/internal/payout/service"
	providerrepo "github.com/smallbiznis/escrowd/internal/provider/repository"
	"github.com/smallbiznis/escrowd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const providerID snowflake.ID = 500

type failingExecutor struct{}

func (failingExecutor) Name() string { return "failing" }

func (failingExecutor) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{}, errors.New("bank rejected transfer")
}

type fixture struct {
	svc    domain.Service
	ledger ledgerdomain.Service
	conn   *gorm.DB
	node   *snowflake.Node
	dir    string
}

type fixtureOption func(*payoutservice.Params)

func withAutoApprove() fixtureOption {
	return func(p *payoutservice.Params) {
		policy := config.DefaultPayoutPolicy()
		policy.AutoApprove = true
		p.Policy = config.NewStaticPolicyHolder(policy)
	}
}

func withExecutor(e domain.PayoutExecutor) fixtureOption {
	return func(p *payoutservice.Params) { p.Executor = e }
}

func newFixture(t *testing.T, opts ...fixtureOption) fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	tx := testutil.NewTxRunner(conn)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Currency: "USD"}
	dir := t.TempDir()

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg, Repo: ledgerrepo.Provide(),
	})
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	params := payoutservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk, Config: cfg,
		Policy:    config.NewStaticPolicyHolder(config.DefaultPayoutPolicy()),
		Repo:      payoutrepo.Provide(),
		Payments:  paymentrepo.Provide(),
		Bookings:  bookingrepo.Provide(),
		Providers: providerrepo.Provide(),
		Ledger:    ledger,
		Executor:  executor.NewManualExecutor(zap.NewNop()),
		Store:     export.NewLocalStore(dir),
		AuditSvc:  audit,
	}
	for _, opt := range opts {
		opt(&params)
	}
	return fixture{svc: payoutservice.NewService(params), ledger: ledger, conn: conn, node: node, dir: dir}
}

// escrowed seeds a payment already in escrow with its ledger credits.
func (f fixture) escrowed(t *testing.T, paymentID snowflake.ID, amount, fee int64) {
	t.Helper()
	testutil.SeedPayment(t, f.conn, testutil.PaymentSeed{
		ID: paymentID, BookingID: paymentID + 1000, ProviderID: providerID, ClientID: 600,
		Amount: amount, PlatformFee: fee, Status: "ESCROW",
		ExternalReference: "pi_" + paymentID.String(), Escrowed: true,
	})
	testutil.SeedLedgerEntry(t, f.conn, f.node.Generate(), "PROVIDER_BALANCE", providerID, "CREDIT", amount-fee, "PAYMENT", paymentID)
	if fee > 0 {
		testutil.SeedLedgerEntry(t, f.conn, f.node.Generate(), "PLATFORM_REVENUE", ledgerdomain.SystemAccountID, "CREDIT", fee, "PAYMENT", paymentID)
	}
}

func (f fixture) fundBank(t *testing.T, amount int64) {
	t.Helper()
	testutil.SeedLedgerEntry(t, f.conn, f.node.Generate(), "BANK_ACCOUNT", ledgerdomain.SystemAccountID, "CREDIT", amount, "SETTLEMENT", f.node.Generate())
}

func (f fixture) balance(t *testing.T, accountType ledgerdomain.AccountType, id snowflake.ID) int64 {
	t.Helper()
	balance, err := f.ledger.GetBalance(context.Background(), f.conn, accountType, id)
	require.NoError(t, err)
	return balance
}

func TestCreatePayoutMovesPaymentOutOfEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, payout.Status)
	assert.Equal(t, int64(9000), payout.Amount)
	assert.Equal(t, "000123456789", payout.AccountNumber)
	assert.Equal(t, "admin-1", payout.CreatedBy)

	assert.Equal(t, "PROCESSING_RELEASE", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM audit_logs WHERE action = 'payout.create'", 1)

	_, err = f.svc.CreatePayout(ctx, 10, "admin-1")
	assert.ErrorIs(t, err, domain.ErrPayoutExists)
}

func TestCreatePayoutPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("missing bank details", func(t *testing.T) {
		f := newFixture(t)
		f.escrowed(t, 10, 10000, 1000)
		f.fundBank(t, 10000)

		_, err := f.svc.CreatePayout(ctx, 10, "admin-1")
		assert.ErrorIs(t, err, domain.ErrBankDetailsMissing)
	})

	t.Run("payment not escrowed", func(t *testing.T) {
		f := newFixture(t)
		testutil.SeedPayment(t, f.conn, testutil.PaymentSeed{
			ID: 10, BookingID: 11, ProviderID: providerID, ClientID: 600, Amount: 10000, PlatformFee: 1000,
			Status: "PENDING", ExternalReference: "pi_10",
		})
		testutil.SeedBankAccount(t, f.conn, providerID)

		_, err := f.svc.CreatePayout(ctx, 10, "admin-1")
		assert.ErrorIs(t, err, domain.ErrPaymentNotEscrowed)
	})

	t.Run("bank cash not settled", func(t *testing.T) {
		f := newFixture(t)
		f.escrowed(t, 10, 10000, 1000)
		testutil.SeedBankAccount(t, f.conn, providerID)

		_, err := f.svc.CreatePayout(ctx, 10, "admin-1")
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
		assert.Equal(t, "ESCROW", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))
		testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payouts", 0)
	})

	t.Run("provider balance already committed", func(t *testing.T) {
		f := newFixture(t)
		f.escrowed(t, 10, 10000, 1000)
		testutil.SeedPayment(t, f.conn, testutil.PaymentSeed{
			ID: 20, BookingID: 21, ProviderID: providerID, ClientID: 600, Amount: 10000, PlatformFee: 1000,
			Status: "ESCROW", ExternalReference: "pi_20", Escrowed: true,
		})
		f.fundBank(t, 20000)
		testutil.SeedBankAccount(t, f.conn, providerID)

		_, err := f.svc.CreatePayout(ctx, 10, "admin-1")
		require.NoError(t, err)
		_, err = f.svc.CreatePayout(ctx, 20, "admin-1")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})

	t.Run("actor required", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreatePayout(ctx, 10, " ")
		assert.ErrorIs(t, err, domain.ErrInvalidActor)
	})
}

func TestAutoApproveFallsBackToManualWhenCashIsCommitted(t *testing.T) {
	f := newFixture(t, withAutoApprove())
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.escrowed(t, 20, 10000, 1000)
	f.fundBank(t, 9000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	first, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, first.Status)
	require.NotNil(t, first.ApprovedBy)
	assert.Equal(t, domain.AutoApproveActor, *first.ApprovedBy)

	second, err := f.svc.CreatePayout(ctx, 20, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, second.Status)

	_, err = f.svc.ApprovePayout(ctx, second.ID, "admin-2")
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestApproveRequiresPendingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)

	approved, err := f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)

	_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.ApprovePayout(ctx, 999, "admin-2")
	assert.ErrorIs(t, err, domain.ErrPayoutNotFound)
}

func TestConcurrentApprovalApprovesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
		}(i)
	}
	wg.Wait()

	var approved int
	for _, err := range errs {
		if err == nil {
			approved++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, approved)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM audit_logs WHERE action = 'payout.approve'", 1)
	assert.Equal(t, "APPROVED", testutil.ScanString(t, f.conn, "SELECT status FROM payouts WHERE id = ?", payout.ID))
}

func TestConcurrentCreateForOnePaymentCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreatePayout(ctx, 10, "admin-1")
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrPayoutExists) || errors.Is(err, domain.ErrPaymentNotEscrowed), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, created)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payouts WHERE payment_id = 10", 1)
	assert.Equal(t, "PROCESSING_RELEASE", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))
}

func TestCancelPayoutReturnsPaymentToEscrowAndCanBeRecreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelPayout(ctx, payout.ID, "admin-1", "wrong account")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "wrong account", *cancelled.CancelReason)
	assert.Equal(t, "ESCROW", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))

	_, err = f.svc.CancelPayout(ctx, payout.ID, "admin-1", "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	again, err := f.svc.CreatePayout(ctx, 10, "admin-3")
	require.NoError(t, err)
	assert.Equal(t, payout.ID, again.ID)
	assert.Equal(t, domain.StatusPendingApproval, again.Status)
	assert.Equal(t, "admin-3", again.CreatedBy)
	assert.Nil(t, again.CancelledAt)
}

func TestExportAndExecuteBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	require.NoError(t, err)

	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchExported, result.Batch.Status)
	assert.Equal(t, int64(9000), result.Batch.TotalAmount)
	assert.Equal(t, int64(1), result.Batch.PayoutCount)
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, domain.StatusProcessing, result.Payouts[0].Status)
	require.NotNil(t, result.Batch.FileObjectKey)
	assert.True(t, strings.HasPrefix(*result.Batch.FileObjectKey, f.dir))

	file, err := f.svc.BatchFile(ctx, result.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "payout-batch-"+result.Batch.ID.String()+".csv", file.Name)
	rows, err := csv.NewReader(strings.NewReader(string(file.Content))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, payout.ID.String(), rows[1][0])
	assert.Equal(t, "000123456789", rows[1][4])
	assert.Equal(t, "90.00", rows[1][6])

	_, err = f.svc.CancelPayout(ctx, payout.ID, "admin-1", "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	batch, err := f.svc.ExecuteBatch(ctx, result.Batch.ID, "admin-3", "WIRE-001")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchExecuted, batch.Status)
	require.NotNil(t, batch.BankReference)
	assert.Equal(t, "WIRE-001", *batch.BankReference)

	completed, err := f.svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, "RELEASED", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))
	assert.Equal(t, "COMPLETED", testutil.ScanString(t, f.conn, "SELECT status FROM bookings WHERE id = ?", 1010))
	assert.Equal(t, int64(0), f.balance(t, ledgerdomain.AccountProviderBalance, providerID))
	assert.Equal(t, int64(1000), f.balance(t, ledgerdomain.AccountBank, ledgerdomain.SystemAccountID))

	again, err := f.svc.ExecuteBatch(ctx, result.Batch.ID, "admin-3", "WIRE-002")
	require.NoError(t, err)
	assert.Equal(t, "WIRE-001", *again.BankReference)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'PAYOUT'", 2)
}

func TestExecuteBatchRollsBackOnExecutorFailure(t *testing.T) {
	f := newFixture(t, withExecutor(failingExecutor{}))
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	require.NoError(t, err)
	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{PayoutIDs: []snowflake.ID{payout.ID}, Actor: "admin-2"})
	require.NoError(t, err)

	_, err = f.svc.ExecuteBatch(ctx, result.Batch.ID, "admin-3", "WIRE-001")
	require.Error(t, err)

	batch, err := f.svc.GetBatch(ctx, result.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchExported, batch.Status)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'PAYOUT'", 0)
	assert.Equal(t, "PROCESSING_RELEASE", testutil.ScanString(t, f.conn, "SELECT status FROM payments WHERE id = ?", 10))
}

func TestExecuteBatchRollsBackWhenLaterPayoutLacksLiquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.escrowed(t, 20, 10000, 1000)
	f.fundBank(t, 18000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	var ids []snowflake.ID
	for _, paymentID := range []snowflake.ID{10, 20} {
		payout, err := f.svc.CreatePayout(ctx, paymentID, "admin-1")
		require.NoError(t, err)
		_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
		require.NoError(t, err)
		ids = append(ids, payout.ID)
	}
	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{PayoutIDs: ids, Actor: "admin-2"})
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)

	// Cash leaves the bank after export, so only the first payout is covered.
	testutil.SeedLedgerEntry(t, f.conn, f.node.Generate(), "BANK_ACCOUNT", ledgerdomain.SystemAccountID, "DEBIT", 5000, "SETTLEMENT", f.node.Generate())

	_, err = f.svc.ExecuteBatch(ctx, result.Batch.ID, "admin-3", "WIRE-001")
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	batch, err := f.svc.GetBatch(ctx, result.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchExported, batch.Status)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payouts WHERE status = 'COMPLETED'", 0)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payouts WHERE status = 'PROCESSING'", 2)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'PAYOUT'", 0)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payments WHERE status = 'RELEASED'", 0)
	assert.Equal(t, int64(13000), f.balance(t, ledgerdomain.AccountBank, ledgerdomain.SystemAccountID))
}

func TestExportBatchRejectsUnapprovedPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	assert.ErrorIs(t, err, domain.ErrNothingToExport)

	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)
	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)

	_, err = f.svc.ExportBatch(ctx, domain.ExportRequest{PayoutIDs: []snowflake.ID{payout.ID}, Actor: "admin-2"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payout_batches", 0)

	_, err = f.svc.ExportBatch(ctx, domain.ExportRequest{PayoutIDs: []snowflake.ID{999}, Actor: "admin-2"})
	assert.ErrorIs(t, err, domain.ErrPayoutNotFound)
}

func TestCancelBatchReleasesPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	require.NoError(t, err)
	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)

	batch, err := f.svc.CancelBatch(ctx, result.Batch.ID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCancelled, batch.Status)

	released, err := f.svc.GetPayout(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, released.Status)
	assert.Nil(t, released.BatchID)

	_, err = f.svc.ExecuteBatch(ctx, result.Batch.ID, "admin-3", "WIRE-001")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	next, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)
	assert.NotEqual(t, result.Batch.ID, next.Batch.ID)
}

func TestCancelBatchCancelsPayoutsOfRefundedPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.escrowed(t, 20, 10000, 1000)
	f.fundBank(t, 20000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	kept, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	refunded, err := f.svc.CreatePayout(ctx, 20, "admin-1")
	require.NoError(t, err)
	for _, id := range []snowflake.ID{kept.ID, refunded.ID} {
		_, err = f.svc.ApprovePayout(ctx, id, "admin-2")
		require.NoError(t, err)
	}
	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)
	require.NoError(t, f.conn.Exec(`UPDATE payments SET status = 'REFUNDED' WHERE id = 20`).Error)

	_, err = f.svc.CancelBatch(ctx, result.Batch.ID, "admin-2")
	require.NoError(t, err)

	released, err := f.svc.GetPayout(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, released.Status)

	dropped, err := f.svc.GetPayout(ctx, refunded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, dropped.Status)
	assert.Nil(t, dropped.BatchID)
	require.NotNil(t, dropped.CancelReason)
	assert.Equal(t, "payment refunded", *dropped.CancelReason)

	next, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)
	require.Len(t, next.Payouts, 1)
	assert.Equal(t, kept.ID, next.Payouts[0].ID)
}

func TestExportSkipsPayoutsWithRefundAtGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.escrowed(t, 10, 10000, 1000)
	f.fundBank(t, 10000)
	testutil.SeedBankAccount(t, f.conn, providerID)

	payout, err := f.svc.CreatePayout(ctx, 10, "admin-1")
	require.NoError(t, err)
	_, err = f.svc.ApprovePayout(ctx, payout.ID, "admin-2")
	require.NoError(t, err)
	require.NoError(t, f.conn.Exec(
		`INSERT INTO refunds (id, payment_id, amount, provider_portion, platform_portion, currency, idempotency_key, status, requested_by)
		VALUES (900, 10, 2000, 1800, 200, 'USD', 'r-1', 'PROCESSING', 'admin-1')`,
	).Error)

	_, err = f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	assert.ErrorIs(t, err, domain.ErrNothingToExport)
	_, err = f.svc.ExportBatch(ctx, domain.ExportRequest{PayoutIDs: []snowflake.ID{payout.ID}, Actor: "admin-2"})
	assert.ErrorIs(t, err, domain.ErrRefundInFlight)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM payout_batches", 0)

	require.NoError(t, f.conn.Exec(`UPDATE refunds SET status = 'FAILED' WHERE id = 900`).Error)
	result, err := f.svc.ExportBatch(ctx, domain.ExportRequest{Actor: "admin-2"})
	require.NoError(t, err)
	assert.Len(t, result.Payouts, 1)
}

func TestListPayoutsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fundBank(t, 30000)
	testutil.SeedBankAccount(t, f.conn, providerID)
	for _, id := range []snowflake.ID{10, 20, 30} {
		f.escrowed(t, id, 10000, 1000)
		_, err := f.svc.CreatePayout(ctx, id, "admin-1")
		require.NoError(t, err)
	}

	req := domain.ListRequest{Status: domain.StatusPendingApproval}
	req.PageSize = 2
	page, err := f.svc.ListPayouts(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.Payouts, 2)
	assert.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	rest, err := f.svc.ListPayouts(ctx, req)
	require.NoError(t, err)
	assert.Len(t, rest.Payouts, 1)
	assert.False(t, rest.HasMore)

	_, err = f.svc.ListPayouts(ctx, domain.ListRequest{Status: "BOGUS"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
