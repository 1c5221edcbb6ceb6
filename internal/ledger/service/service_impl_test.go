package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/escrowd/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/escrowd/internal/ledger/service"
	"github.com/smallbiznis/escrowd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t)
	svc := ledgerservice.NewService(ledgerservice.Params{
		DB:     conn,
		Tx:     testutil.NewTxRunner(conn),
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Clock:  clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{Currency: "USD"},
		Repo:   ledgerrepo.Provide(),
	})
	return svc, conn
}

func TestCreateEntryIdempotentIgnoresDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, conn := newLedger(t)

	entry := ledgerdomain.LedgerEntry{
		AccountType:   ledgerdomain.AccountProviderBalance,
		AccountID:     42,
		EntryType:     ledgerdomain.EntryCredit,
		Amount:        900,
		ReferenceType: ledgerdomain.ReferencePayment,
		ReferenceID:   7,
	}

	for i, wantInserted := range []bool{true, false, false} {
		err := conn.Transaction(func(tx *gorm.DB) error {
			inserted, err := svc.CreateEntryIdempotent(ctx, tx, entry)
			if err != nil {
				return err
			}
			assert.Equal(t, wantInserted, inserted, "attempt %d", i)
			return nil
		})
		require.NoError(t, err)
	}

	testutil.AssertCount(t, conn, "SELECT COUNT(1) FROM ledger_entries", 1)
	balance, err := svc.GetBalance(ctx, conn, ledgerdomain.AccountProviderBalance, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(900), balance)
}

func TestCreateEntryIdempotentValidates(t *testing.T) {
	ctx := context.Background()
	svc, conn := newLedger(t)

	valid := ledgerdomain.LedgerEntry{
		AccountType:   ledgerdomain.AccountBank,
		AccountID:     ledgerdomain.SystemAccountID,
		EntryType:     ledgerdomain.EntryCredit,
		Amount:        100,
		ReferenceType: ledgerdomain.ReferenceSettlement,
		ReferenceID:   1,
	}

	_, err := svc.CreateEntryIdempotent(ctx, nil, valid)
	assert.ErrorIs(t, err, ledgerdomain.ErrTransactionRequired)

	cases := map[error]func(e *ledgerdomain.LedgerEntry){
		ledgerdomain.ErrInvalidAmount:        func(e *ledgerdomain.LedgerEntry) { e.Amount = 0 },
		ledgerdomain.ErrInvalidAccountType:   func(e *ledgerdomain.LedgerEntry) { e.AccountType = "CASH" },
		ledgerdomain.ErrInvalidEntryType:     func(e *ledgerdomain.LedgerEntry) { e.EntryType = "debit" },
		ledgerdomain.ErrInvalidReferenceType: func(e *ledgerdomain.LedgerEntry) { e.ReferenceType = "INVOICE" },
		ledgerdomain.ErrInvalidReference:     func(e *ledgerdomain.LedgerEntry) { e.ReferenceID = 0 },
	}
	for want, mutate := range cases {
		entry := valid
		mutate(&entry)
		_, err := svc.CreateEntryIdempotent(ctx, conn, entry)
		assert.ErrorIs(t, err, want)
	}
}

func TestVerifyLiquidity(t *testing.T) {
	ctx := context.Background()
	svc, conn := newLedger(t)
	node := testutil.NewNode(t)

	testutil.SeedLedgerEntry(t, conn, node.Generate(), "BANK_ACCOUNT", 1, "CREDIT", 1000, "SETTLEMENT", 11)
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "BANK_ACCOUNT", 1, "DEBIT", 300, "PAYOUT", 12)

	err := conn.Transaction(func(tx *gorm.DB) error {
		ok, err := svc.VerifyLiquidity(ctx, tx, 700)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.VerifyLiquidity(ctx, tx, 701)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestAssertAccountingInvariant(t *testing.T) {
	ctx := context.Background()
	svc, conn := newLedger(t)
	node := testutil.NewNode(t)

	paymentID := node.Generate()
	providerID := node.Generate()
	testutil.SeedPayment(t, conn, testutil.PaymentSeed{
		ID: paymentID, BookingID: node.Generate(), ProviderID: providerID, ClientID: node.Generate(),
		Amount: 1000, PlatformFee: 100, Status: "ESCROW", ExternalReference: "pi_1", Escrowed: true,
	})
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "PROVIDER_BALANCE", providerID, "CREDIT", 900, "PAYMENT", paymentID)
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "PLATFORM_REVENUE", 1, "CREDIT", 100, "PAYMENT", paymentID)

	report, err := svc.AssertAccountingInvariant(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, "violations: %v", report.Violations)
	assert.Zero(t, report.Discrepancy)
	assert.Equal(t, int64(1000), report.PaymentsReceived)

	// A stray credit breaks the equation and is reported, not corrected.
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "PROVIDER_BALANCE", providerID, "CREDIT", 5, "ADJUSTMENT", node.Generate())

	report, err = svc.AssertAccountingInvariant(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, int64(5), report.Discrepancy)
	assert.Contains(t, report.Violations, ledgerdomain.ViolationEquation)
}

func TestSystemBalancesAndListEntries(t *testing.T) {
	ctx := context.Background()
	svc, conn := newLedger(t)
	node := testutil.NewNode(t)

	testutil.SeedLedgerEntry(t, conn, node.Generate(), "BANK_ACCOUNT", 1, "CREDIT", 1000, "SETTLEMENT", 11)
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "PLATFORM_REVENUE", 1, "CREDIT", 100, "PAYMENT", 12)
	testutil.SeedLedgerEntry(t, conn, node.Generate(), "PROVIDER_BALANCE", 77, "CREDIT", 900, "PAYMENT", 12)

	balances, err := svc.SystemBalances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, int64(1000), balances[0].Balance)
	assert.Equal(t, int64(100), balances[1].Balance)
	assert.Equal(t, int64(900), balances[2].Balance)

	entries, err := svc.ListEntries(ctx, ledgerdomain.ListEntriesFilter{ReferenceType: ledgerdomain.ReferencePayment})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = svc.ListEntries(ctx, ledgerdomain.ListEntriesFilter{AccountType: "NOPE"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccountType)
}
