package service_test

import (
	"context"
	"testing"
	"time"

	auditrepo "github.com/smallbiznis/escrowd/internal/audit/repository"
	auditservice "github.com/smallbiznis/escrowd/internal/audit/service"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/escrowd/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/escrowd/internal/ledger/service"
	"github.com/smallbiznis/escrowd/internal/settlement/domain"
	"github.com/smallbiznis/escrowd/internal/settlement/repository"
	"github.com/smallbiznis/escrowd/internal/settlement/service"
	"github.com/smallbiznis/escrowd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    domain.Service
	ledger ledgerdomain.Service
	conn   *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	tx := testutil.NewTxRunner(conn)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk,
		Config: config.Config{Currency: "USD"}, Repo: ledgerrepo.Provide(),
	})
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := service.NewService(service.Params{
		DB: conn, Tx: tx, Log: zap.NewNop(), GenID: node, Clock: clk,
		Policy:   config.NewStaticPolicyHolder(config.DefaultPayoutPolicy()),
		Repo:     repository.Provide(),
		Ledger:   ledger,
		AuditSvc: audit,
	})
	return fixture{svc: svc, ledger: ledger, conn: conn}
}

func (f fixture) accumulate(t *testing.T, date string, amounts ...int64) domain.Batch {
	t.Helper()
	var batchID int64
	for _, amount := range amounts {
		err := f.conn.Transaction(func(tx *gorm.DB) error {
			id, err := f.svc.AccumulateTx(context.Background(), tx, date, amount)
			batchID = int64(id)
			return err
		})
		require.NoError(t, err)
	}
	var batch domain.Batch
	require.NoError(t, f.conn.Where("id = ?", batchID).First(&batch).Error)
	return batch
}

func TestExpectedSettlementDate(t *testing.T) {
	f := newFixture(t)
	paidAt := time.Date(2025, 3, 30, 23, 30, 0, 0, time.FixedZone("WIB", 7*3600))
	assert.Equal(t, "2025-04-01", f.svc.ExpectedSettlementDate(paidAt))
}

func TestAccumulateSumsPerDay(t *testing.T) {
	f := newFixture(t)
	batch := f.accumulate(t, "2025-03-03", 1000, 2500)

	assert.Equal(t, "2025-03-03", batch.SettlementDate)
	assert.Equal(t, int64(3500), batch.ExpectedAmount)
	assert.Equal(t, int64(2), batch.PaymentCount)
	assert.Equal(t, domain.StatusPending, batch.Status)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM settlement_batches", 1)
}

func TestAccumulateRollsPastReconciledDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.accumulate(t, "2025-03-03", 1000)

	_, err := f.svc.Reconcile(ctx, first.ID, domain.ReconcileRequest{ActualAmount: 1000, BankReference: "STMT-1", Actor: "admin-1"})
	require.NoError(t, err)

	late := f.accumulate(t, "2025-03-03", 700)
	assert.Equal(t, "2025-03-04", late.SettlementDate)
	assert.Equal(t, int64(700), late.ExpectedAmount)
}

func TestReconcileMatchCreditsBank(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	batch := f.accumulate(t, "2025-03-03", 1000, 500)

	got, err := f.svc.Reconcile(ctx, batch.ID, domain.ReconcileRequest{ActualAmount: 1500, BankReference: "STMT-9", Actor: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, got.Status)

	balance, err := f.ledger.GetBalance(ctx, f.conn, ledgerdomain.AccountBank, ledgerdomain.SystemAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'ADJUSTMENT'", 0)
	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM audit_logs WHERE action = 'settlement.reconcile'", 1)
}

func TestReconcileDiscrepancyAdjustsBankToActual(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		actual    int64
		entryType string
	}{
		{name: "short", actual: 900, entryType: "DEBIT"},
		{name: "over", actual: 1250, entryType: "CREDIT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			batch := f.accumulate(t, "2025-03-03", 1000)

			got, err := f.svc.Reconcile(ctx, batch.ID, domain.ReconcileRequest{ActualAmount: tc.actual, BankReference: "STMT", Actor: "admin-1"})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusDiscrepancy, got.Status)
			assert.Equal(t, tc.actual-1000, got.Difference())

			balance, err := f.ledger.GetBalance(ctx, f.conn, ledgerdomain.AccountBank, ledgerdomain.SystemAccountID)
			require.NoError(t, err)
			assert.Equal(t, tc.actual, balance)
			testutil.AssertCount(t, f.conn,
				"SELECT COUNT(1) FROM ledger_entries WHERE reference_type = 'ADJUSTMENT' AND entry_type = ?", 1, tc.entryType)
		})
	}
}

func TestReconcileRepeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	batch := f.accumulate(t, "2025-03-03", 1000)
	req := domain.ReconcileRequest{ActualAmount: 1000, BankReference: "STMT-1", Actor: "admin-1"}

	_, err := f.svc.Reconcile(ctx, batch.ID, req)
	require.NoError(t, err)

	again, err := f.svc.Reconcile(ctx, batch.ID, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, again.Status)

	_, err = f.svc.Reconcile(ctx, batch.ID, domain.ReconcileRequest{ActualAmount: 999, BankReference: "STMT-1", Actor: "admin-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyReconciled)

	testutil.AssertCount(t, f.conn, "SELECT COUNT(1) FROM ledger_entries", 1)
}

func TestReconcileValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Reconcile(ctx, 123, domain.ReconcileRequest{ActualAmount: 1, BankReference: "x", Actor: "a"})
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
	_, err = f.svc.Reconcile(ctx, 123, domain.ReconcileRequest{ActualAmount: -1, BankReference: "x", Actor: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Reconcile(ctx, 123, domain.ReconcileRequest{ActualAmount: 1, Actor: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidBankReference)
	_, err = f.svc.Reconcile(ctx, 123, domain.ReconcileRequest{ActualAmount: 1, BankReference: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidActor)
}

func TestReduceExpectedOnlyWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	batch := f.accumulate(t, "2025-03-03", 1000)

	var reduced bool
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		reduced, err = f.svc.ReduceExpectedTx(ctx, tx, batch.ID, 400)
		return err
	}))
	assert.True(t, reduced)

	got, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), got.ExpectedAmount)

	_, err = f.svc.Reconcile(ctx, batch.ID, domain.ReconcileRequest{ActualAmount: 600, BankReference: "S", Actor: "a"})
	require.NoError(t, err)

	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		reduced, err = f.svc.ReduceExpectedTx(ctx, tx, batch.ID, 100)
		return err
	}))
	assert.False(t, reduced)
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	settled := f.accumulate(t, "2025-03-03", 1000)
	f.accumulate(t, "2025-03-04", 1000)

	_, err := f.svc.Reconcile(ctx, settled.ID, domain.ReconcileRequest{ActualAmount: 1000, BankReference: "S", Actor: "a"})
	require.NoError(t, err)

	resp, err := f.svc.List(ctx, domain.ListRequest{Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, resp.Batches, 1)
	assert.Equal(t, "2025-03-04", resp.Batches[0].SettlementDate)

	_, err = f.svc.List(ctx, domain.ListRequest{Status: "BOGUS"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
