package service_test

import (
	"context"
	"testing"
	"time"

	auditrepo "github.com/smallbiznis/escrowd/internal/audit/repository"
	auditservice "github.com/smallbiznis/escrowd/internal/audit/service"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/provider/domain"
	"github.com/smallbiznis/escrowd/internal/provider/repository"
	"github.com/smallbiznis/escrowd/internal/provider/service"
	"github.com/smallbiznis/escrowd/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpsertBankAccountAuditsMaskedNumber(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: testutil.NewNode(t), Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := service.NewService(service.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: repository.Provide(), AuditSvc: audit,
	})

	_, err := svc.GetBankAccount(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrBankAccountMissing)

	account, err := svc.UpsertBankAccount(ctx, 5, domain.UpsertBankAccountRequest{
		AccountHolder: "Jane Provider",
		BankName:      "First Bank",
		AccountNumber: "0001 2345 6789",
	})
	require.NoError(t, err)
	assert.Equal(t, "000123456789", account.AccountNumber)

	account, err = svc.UpsertBankAccount(ctx, 5, domain.UpsertBankAccountRequest{
		AccountHolder: "Jane Provider",
		BankName:      "Second Bank",
		AccountNumber: "999988887777",
	})
	require.NoError(t, err)
	assert.Equal(t, "Second Bank", account.BankName)

	testutil.AssertCount(t, conn, "SELECT COUNT(1) FROM provider_bank_accounts", 1)
	testutil.AssertCount(t, conn, "SELECT COUNT(1) FROM audit_logs WHERE action = 'provider.bank_account.upsert'", 2)
	testutil.AssertCount(t, conn, "SELECT COUNT(1) FROM audit_logs WHERE metadata LIKE '%999988887777%'", 0)
	testutil.AssertCount(t, conn, "SELECT COUNT(1) FROM audit_logs WHERE metadata LIKE '%****7777%'", 1)
}

func TestUpsertBankAccountValidates(t *testing.T) {
	conn := testutil.NewDB(t)
	svc := service.NewService(service.Params{
		DB: conn, Log: zap.NewNop(), Clock: clock.System{}, Repo: repository.Provide(),
	})

	_, err := svc.UpsertBankAccount(context.Background(), 0, domain.UpsertBankAccountRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = svc.UpsertBankAccount(context.Background(), 1, domain.UpsertBankAccountRequest{AccountHolder: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidBankAccount)

	_, err = svc.UpsertBankAccount(context.Background(), 1, domain.UpsertBankAccountRequest{
		AccountHolder: "a\nb", BankName: "b", AccountNumber: "1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBankAccount)
}
