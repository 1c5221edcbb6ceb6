// Package stripe verifies and parses Stripe webhook events for payment
// intents and charges.
package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"github.com/smallbiznis/escrowd/pkg/log"
	"go.uber.org/zap"
)

const (
	provider         = "stripe"
	defaultTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

// NewAdapter reads "webhook_secret", a comma separated list so an endpoint
// secret can be rolled without dropping deliveries, and an optional
// "tolerance" duration for signed timestamps.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	raw, _ := cfg.Config["webhook_secret"].(string)
	var secrets [][]byte
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, []byte(s))
		}
	}
	if len(secrets) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}

	tolerance := defaultTolerance
	if d, ok := cfg.Config["tolerance"].(time.Duration); ok && d > 0 {
		tolerance = d
	}
	return &Adapter{secrets: secrets, tolerance: tolerance, now: time.Now}, nil
}

type Adapter struct {
	secrets   [][]byte
	tolerance time.Duration
	now       func() time.Time
}

// Verify accepts a delivery signed by any configured secret whose timestamp
// is within tolerance of now, in either direction.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	h, ok := parseSignedHeader(headers.Get(signatureHeader))
	if !ok {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		now := time.Now
		if a.now != nil {
			now = a.now
		}
		age := now().Sub(time.Unix(h.timestamp, 0))
		if age.Abs() > a.tolerance {
			log.L(ctx).Warn("stripe signature outside replay tolerance",
				zap.Duration("age", age),
				zap.Duration("tolerance", a.tolerance),
			)
			return paymentdomain.ErrInvalidSignature
		}
	}

	for _, secret := range a.secrets {
		if h.matches(secret, payload) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type objectParser func(evt event) (*paymentdomain.PaymentEvent, error)

var parsers = map[string]objectParser{
	"payment_intent.succeeded":      intentParser(paymentdomain.EventTypePaymentSucceeded),
	"payment_intent.payment_failed": intentParser(paymentdomain.EventTypePaymentFailed),
	"payment_intent.canceled":       intentParser(paymentdomain.EventTypePaymentFailed),
	"charge.succeeded":              parseCharge,
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	parse, ok := parsers[strings.TrimSpace(evt.Type)]
	if !ok {
		log.L(ctx).Debug("stripe event ignored", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return nil, paymentdomain.ErrEventIgnored
	}
	out, err := parse(evt)
	if err != nil {
		return nil, err
	}
	out.Provider = provider
	out.ProviderEventID = evt.ID
	out.RawPayload = payload
	return out, nil
}

type paymentIntent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	Created          int64  `json:"created"`
	CancelReason     string `json:"cancellation_reason"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func intentParser(eventType string) objectParser {
	return func(evt event) (*paymentdomain.PaymentEvent, error) {
		var pi paymentIntent
		if err := json.Unmarshal(evt.Data.Object, &pi); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if strings.TrimSpace(pi.ID) == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}

		out := &paymentdomain.PaymentEvent{
			ExternalReference: pi.ID,
			Type:              eventType,
			Amount:            pi.Amount,
			Currency:          strings.ToUpper(strings.TrimSpace(pi.Currency)),
			OccurredAt:        unixOr(pi.Created, evt.Created),
		}
		if eventType == paymentdomain.EventTypePaymentSucceeded {
			// amount_received is what was captured; it can be lower than amount.
			if pi.AmountReceived > 0 {
				out.Amount = pi.AmountReceived
			}
			return out, nil
		}

		switch {
		case pi.LastPaymentError != nil && pi.LastPaymentError.Message != "":
			out.FailureReason = pi.LastPaymentError.Message
		case pi.CancelReason != "":
			out.FailureReason = "canceled: " + pi.CancelReason
		default:
			out.FailureReason = evt.Type
		}
		return out, nil
	}
}

// parseCharge resolves charge.succeeded to its payment intent so it dedupes
// against payment_intent.succeeded for the same payment.
func parseCharge(evt event) (*paymentdomain.PaymentEvent, error) {
	var charge struct {
		PaymentIntent string            `json:"payment_intent"`
		Amount        int64             `json:"amount"`
		Currency      string            `json:"currency"`
		Created       int64             `json:"created"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(evt.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	reference := strings.TrimSpace(charge.PaymentIntent)
	if reference == "" {
		reference = strings.TrimSpace(charge.Metadata["external_reference"])
	}
	if reference == "" {
		return nil, paymentdomain.ErrEventIgnored
	}
	return &paymentdomain.PaymentEvent{
		ExternalReference: reference,
		Type:              paymentdomain.EventTypePaymentSucceeded,
		Amount:            charge.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:        unixOr(charge.Created, evt.Created),
	}, nil
}

func unixOr(primary, fallback int64) time.Time {
	switch {
	case primary != 0:
		return time.Unix(primary, 0).UTC()
	case fallback != 0:
		return time.Unix(fallback, 0).UTC()
	default:
		return time.Time{}
	}
}
