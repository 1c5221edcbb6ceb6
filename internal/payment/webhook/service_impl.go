package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/escrowd/internal/observability/tracing"
	"github.com/smallbiznis/escrowd/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/pkg/log/ctxlogger"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	Adapters   *adapters.Registry
	Telemetry  *telemetry.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	adapters   *adapters.Registry
	telemetry  *telemetry.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	log := p.Log.Named("payment.webhook")
	log.Info("webhook providers configured", zap.Strings("providers", p.Adapters.Configured()))
	return &Service{
		log:        log,
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		telemetry:  p.Telemetry,
	}
}

// IngestWebhook verifies, parses and applies one gateway delivery. It only
// returns nil once the event is processed or known to be a safe duplicate.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (outcome paymentdomain.ProcessOutcome, err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	started := time.Now()

	ctx = ctxlogger.ContextWithOperation(ctx, "webhook.ingest")
	ctx, span := tracing.StartSpan(ctx, "payment.webhook.ingest", attribute.String("payment.provider", provider))
	defer func() {
		label := string(outcome)
		if err != nil {
			label = outcomeLabel(err)
		}
		span.SetAttributes(attribute.String("payment.outcome", label))
		tracing.EndSpan(span, err)
		s.telemetry.RecordWebhookDelivery(provider, label, time.Since(started))
	}()

	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.Supports(provider) {
		return "", paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return "", err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		return "", err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("webhook event ignored", zap.String("provider", provider))
			return paymentdomain.OutcomeIgnored, nil
		}
		return "", err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	return s.paymentSvc.ProcessEvent(ctx, event)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, paymentdomain.ErrInvalidPayload), errors.Is(err, paymentdomain.ErrInvalidEvent):
		return "invalid_payload"
	case errors.Is(err, paymentdomain.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return "payment_not_found"
	default:
		return "error"
	}
}
