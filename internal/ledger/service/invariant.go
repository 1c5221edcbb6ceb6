package service

import (
	"context"

	ledgerdomain "github.com/smallbiznis/escrowd/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssertAccountingInvariant recomputes the accounting equation from ledger
// rows and the payment and refund tables on one snapshot. A violation is
// reported, never corrected.
func (s *Service) AssertAccountingInvariant(ctx context.Context) (ledgerdomain.InvariantReport, error) {
	var report ledgerdomain.InvariantReport
	err := s.tx.RunSerializable(ctx, func(tx *gorm.DB) error {
		r, err := s.computeInvariant(ctx, tx)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return ledgerdomain.InvariantReport{}, err
	}
	return report, nil
}

func (s *Service) computeInvariant(ctx context.Context, tx *gorm.DB) (ledgerdomain.InvariantReport, error) {
	var (
		report ledgerdomain.InvariantReport
		err    error
	)

	if report.ProviderBalance, err = s.repo.AccountTypeBalance(ctx, tx, ledgerdomain.AccountProviderBalance); err != nil {
		return report, err
	}
	if report.PlatformRevenue, err = s.repo.AccountTypeBalance(ctx, tx, ledgerdomain.AccountPlatformRevenue); err != nil {
		return report, err
	}
	if report.BankBalance, err = s.repo.AccountTypeBalance(ctx, tx, ledgerdomain.AccountBank); err != nil {
		return report, err
	}
	if report.BankPayoutDebits, err = s.repo.SumEntries(ctx, tx, ledgerdomain.AccountBank, ledgerdomain.EntryDebit, ledgerdomain.ReferencePayout); err != nil {
		return report, err
	}
	if report.ProviderPayoutDebits, err = s.repo.SumEntries(ctx, tx, ledgerdomain.AccountProviderBalance, ledgerdomain.EntryDebit, ledgerdomain.ReferencePayout); err != nil {
		return report, err
	}
	if report.PaymentsReceived, err = s.repo.PaymentsReceived(ctx, tx); err != nil {
		return report, err
	}
	if report.RefundsIssued, err = s.repo.RefundsIssued(ctx, tx); err != nil {
		return report, err
	}

	report.PaidOut = report.BankPayoutDebits
	ledgerSide := report.ProviderBalance + report.PlatformRevenue + report.PaidOut
	sourceSide := report.PaymentsReceived - report.RefundsIssued
	report.Discrepancy = ledgerSide - sourceSide

	if report.Discrepancy != 0 {
		report.Violations = append(report.Violations, ledgerdomain.ViolationEquation)
	}
	if report.ProviderPayoutDebits != report.BankPayoutDebits {
		report.Violations = append(report.Violations, ledgerdomain.ViolationPayoutMismatch)
	}
	if report.BankBalance < 0 {
		report.Violations = append(report.Violations, ledgerdomain.ViolationNegativeBankCash)
	}
	report.Valid = len(report.Violations) == 0
	report.CheckedAt = s.clock.Now()
	return report, nil
}

func (s *Service) CheckAfterWrite(ctx context.Context, source string) {
	if !s.checkWrite {
		return
	}
	report, err := s.AssertAccountingInvariant(ctx)
	if err != nil {
		s.log.Warn("invariant check failed to run", zap.String("source", source), zap.Error(err))
		return
	}
	s.ReportInvariant(ctx, source, report)
}

// ReportInvariant records the outcome of a check and logs violations at
// error level.
func (s *Service) ReportInvariant(ctx context.Context, source string, report ledgerdomain.InvariantReport) {
	s.obsMetrics.RecordInvariantCheck(ctx, source, report.Valid)
	if report.Valid {
		return
	}
	s.log.Error("accounting invariant violated",
		zap.String("source", source),
		zap.Strings("violations", report.Violations),
		zap.Int64("discrepancy", report.Discrepancy),
		zap.Int64("provider_balance", report.ProviderBalance),
		zap.Int64("platform_revenue", report.PlatformRevenue),
		zap.Int64("paid_out", report.PaidOut),
		zap.Int64("bank_balance", report.BankBalance),
		zap.Int64("payments_received", report.PaymentsReceived),
		zap.Int64("refunds_issued", report.RefundsIssued),
	)
}
