// Package executor holds the ways an exported payout batch gets paid.
package executor

import (
	"context"
	"strings"

	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"go.uber.org/zap"
)

// ManualExecutor records a transfer an admin already made at the bank. It
// moves no money itself.
type ManualExecutor struct {
	log *zap.Logger
}

func NewManualExecutor(log *zap.Logger) domain.PayoutExecutor {
	return &ManualExecutor{log: log.Named("payout.executor")}
}

func (e *ManualExecutor) Name() string { return "manual" }

func (e *ManualExecutor) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	reference := strings.TrimSpace(req.BankReference)
	if reference == "" {
		return domain.ExecutionResult{}, domain.ErrInvalidBankReference
	}
	e.log.Info("recording manual bank transfer",
		zap.String("batch_id", req.Batch.ID.String()),
		zap.Int("payout_count", len(req.Payouts)),
		zap.Int64("total_amount", req.Batch.TotalAmount),
		zap.String("bank_reference", reference),
		zap.String("actor", req.Actor),
	)
	return domain.ExecutionResult{BankReference: reference}, nil
}
