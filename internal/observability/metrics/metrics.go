package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultExportInterval = 10 * time.Second

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ExportInterval   time.Duration
	ServiceName      string
	Environment      string
}

// NewProvider installs the global meter provider. With export disabled a
// no-op provider is installed and every instrument records nothing.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exporter, err := newExporter(ctx, cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", orDefault(cfg.ServiceName, "escrowd")),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	if lc != nil {
		// Shutdown flushes the last interval so counters recorded during
		// drain still reach the collector.
		lc.Append(fx.StopHook(mp.Shutdown))
	}
	if log != nil {
		log.Info("metrics export enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
			zap.Duration("interval", interval),
		)
	}
	return mp, nil
}

func newExporter(ctx context.Context, protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// Metrics holds the money-movement counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	paymentEvents       metric.Int64Counter
	ledgerEntries       metric.Int64Counter
	payoutTransitions   metric.Int64Counter
	batchTransitions    metric.Int64Counter
	reconciliations     metric.Int64Counter
	refunds             metric.Int64Counter
	invariantChecks     metric.Int64Counter
	invariantViolations metric.Int64Counter
}

// New creates the counters on a meter named after the service.
func New(cfg Config, mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(orDefault(cfg.ServiceName, "escrowd"))
	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.paymentEvents, "escrowd_payment_events_total", "Gateway notifications by provider, event type and outcome."},
		{&m.ledgerEntries, "escrowd_ledger_entries_total", "Ledger rows inserted by account and reference type."},
		{&m.payoutTransitions, "escrowd_payout_transitions_total", "Payout status transitions."},
		{&m.batchTransitions, "escrowd_payout_batch_transitions_total", "Payout batch status transitions."},
		{&m.reconciliations, "escrowd_settlement_reconciliations_total", "Settlement reconciliations by resulting status."},
		{&m.refunds, "escrowd_refunds_total", "Refund attempts by outcome."},
		{&m.invariantChecks, "escrowd_invariant_checks_total", "Accounting invariant evaluations by outcome."},
		{&m.invariantViolations, "escrowd_invariant_violations_total", "Accounting invariant violations detected."},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{event}"))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	c.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	add(ctx, m.paymentEvents, 1,
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, accountType, referenceType string) {
	if m == nil {
		return
	}
	add(ctx, m.ledgerEntries, 1,
		attribute.String("account_type", accountType),
		attribute.String("reference_type", referenceType),
	)
}

// RecordPayoutTransition counts count payouts entering status, which is
// how batch export and execution move many payouts at once.
func (m *Metrics) RecordPayoutTransition(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	add(ctx, m.payoutTransitions, int64(count), attribute.String("status", status))
}

func (m *Metrics) RecordBatchTransition(ctx context.Context, status string) {
	if m != nil {
		add(ctx, m.batchTransitions, 1, attribute.String("status", status))
	}
}

func (m *Metrics) RecordReconciliation(ctx context.Context, status string) {
	if m != nil {
		add(ctx, m.reconciliations, 1, attribute.String("status", status))
	}
}

func (m *Metrics) RecordRefund(ctx context.Context, outcome string) {
	if m != nil {
		add(ctx, m.refunds, 1, attribute.String("outcome", outcome))
	}
}

// RecordInvariantCheck counts an evaluation and, when it failed, a
// violation. Alerting keys on the violation counter.
func (m *Metrics) RecordInvariantCheck(ctx context.Context, source string, valid bool) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "violated"
		add(ctx, m.invariantViolations, 1, attribute.String("source", source))
	}
	add(ctx, m.invariantChecks, 1, attribute.String("source", source), attribute.String("outcome", outcome))
}

var allowedLabelKeys = map[attribute.Key]bool{
	"provider":       true,
	"event_type":     true,
	"outcome":        true,
	"account_type":   true,
	"reference_type": true,
	"status":         true,
	"source":         true,
	"endpoint":       true,
	"status_code":    true,
	"reason":         true,
}

// FilterAttributes drops any label outside the fixed set. Identifiers such as
// payment or payout ids never become metric labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, a := range attrs {
		if allowedLabelKeys[a.Key] {
			out = append(out, a)
		}
	}
	return out
}
