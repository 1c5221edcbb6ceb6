package scheduler

import (
	"context"
	"fmt"
	"time"

	obsmetrics "github.com/smallbiznis/escrowd/internal/observability/metrics"
	"go.uber.org/zap"
)

// checkInvariant recomputes the accounting invariant from the ledger and the
// payment and refund tables. A violation fails the run so that it shows up in
// job error metrics as well as the invariant counters.
func (s *Scheduler) checkInvariant(ctx context.Context, run *jobRun) error {
	report, err := s.ledger.AssertAccountingInvariant(ctx)
	if err != nil {
		return err
	}
	s.ledger.ReportInvariant(ctx, "scheduler", report)
	run.AddProcessed(1)
	s.metrics.AddProcessed(JobInvariantCheck, "invariant", 1)

	if !report.Valid {
		return fmt.Errorf("%w: discrepancy %d", obsmetrics.ErrInvariantViolated, report.Discrepancy)
	}
	return nil
}

// reportStaleWebhooks surfaces webhook events that were recorded but never
// processed. It only reports: gateways redeliver, and redelivery is the
// recovery path.
func (s *Scheduler) reportStaleWebhooks(ctx context.Context, run *jobRun) error {
	events, err := s.payments.ListStaleEvents(ctx, s.cfg.StaleWebhookAge)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	var oldest time.Duration
	for _, event := range events {
		oldest = max(oldest, now.Sub(event.ReceivedAt))
		fields := []zap.Field{
			zap.String("provider", event.Provider),
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.String("external_reference", event.ExternalReference),
			zap.Time("received_at", event.ReceivedAt),
		}
		if event.ProcessingError != nil {
			fields = append(fields, zap.String("processing_error", *event.ProcessingError))
		}
		run.log.Warn("stale webhook event", fields...)
	}
	s.backlog.ObserveWebhookBacklog(len(events), oldest)
	run.AddProcessed(len(events))
	s.metrics.AddProcessed(JobStaleWebhookEvents, "webhook_event", len(events))
	return nil
}
