package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/escrowd/internal/config"
	"github.com/smallbiznis/escrowd/internal/payment/adapters"
	"github.com/smallbiznis/escrowd/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/internal/payment/webhook"
	"github.com/smallbiznis/escrowd/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "whsec_test"

type paymentServiceMock struct {
	mock.Mock
	paymentdomain.Service
}

func (m *paymentServiceMock) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (paymentdomain.ProcessOutcome, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(paymentdomain.ProcessOutcome), args.Error(1)
}

func newService(t *testing.T, payments paymentdomain.Service) (paymentdomain.WebhookService, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	svc := webhook.NewService(webhook.Params{
		Log:        zap.NewNop(),
		PaymentSvc: payments,
		Adapters: adapters.NewRegistry(
			adapters.SettingsFromConfig(config.GatewayConfig{StripeWebhookSecret: secret}),
			stripe.NewFactory(),
		),
		Telemetry:  telemetry.NewMetrics(registry),
	})
	return svc, registry
}

func signedHeader(payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func TestIngestWebhookDispatchesVerifiedEvent(t *testing.T) {
	payments := &paymentServiceMock{}
	payments.On("ProcessEvent", mock.Anything, mock.MatchedBy(func(e *paymentdomain.PaymentEvent) bool {
		return e.Provider == "stripe" &&
			e.ExternalReference == "pi_1" &&
			e.Type == paymentdomain.EventTypePaymentSucceeded &&
			e.Amount == 10000
	})).Return(paymentdomain.OutcomeProcessed, nil).Once()

	svc, registry := newService(t, payments)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1700000000,
		"data":{"object":{"id":"pi_1","amount":10000,"amount_received":10000,"currency":"usd"}}}`)

	outcome, err := svc.IngestWebhook(context.Background(), "Stripe", payload, signedHeader(payload))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeProcessed, outcome)
	payments.AssertExpectations(t)

	assert.Equal(t, 1, testutil.CollectAndCount(registry, "escrowd_webhook_deliveries_total"))
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	payments := &paymentServiceMock{}
	svc, _ := newService(t, payments)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":1}}}`)

	header := signedHeader(payload)
	_, err := svc.IngestWebhook(context.Background(), "stripe", []byte(`{"id":"evt_2"}`), header)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	payments.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
}

func TestIngestWebhookIgnoresUnhandledTypes(t *testing.T) {
	payments := &paymentServiceMock{}
	svc, _ := newService(t, payments)
	payload := []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	outcome, err := svc.IngestWebhook(context.Background(), "stripe", payload, signedHeader(payload))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)
	payments.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything)
}

func TestIngestWebhookProviderErrors(t *testing.T) {
	svc, _ := newService(t, &paymentServiceMock{})
	ctx := context.Background()

	_, err := svc.IngestWebhook(ctx, "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	_, err = svc.IngestWebhook(ctx, "stripe", []byte(`not json`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	unconfigured := webhook.NewService(webhook.Params{
		Log:      zap.NewNop(),
		Adapters: adapters.NewRegistry(nil, stripe.NewFactory()),
	})
	_, err = unconfigured.IngestWebhook(ctx, "stripe", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotConfigured)
}
