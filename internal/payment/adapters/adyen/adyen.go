// Package adyen verifies and parses Adyen standard notification webhooks.
package adyen

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
)

const provider = "adyen"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

// NewAdapter expects the hex encoded HMAC key from the Adyen customer area
// under "hmac_key".
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	raw, _ := cfg.Config["hmac_key"].(string)
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil || len(key) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{hmacKey: key}, nil
}

type Adapter struct {
	hmacKey []byte
}

// Verify checks the hmacSignature of every item. Adyen signs items rather
// than the body, so one bad item rejects the whole delivery.
func (a *Adapter) Verify(_ context.Context, payload []byte, _ http.Header) error {
	items, err := decode(payload)
	if err != nil {
		return err
	}
	for _, it := range items {
		got := it.AdditionalData["hmacSignature"]
		if got == "" || !hmac.Equal([]byte(got), []byte(a.sign(it))) {
			return paymentdomain.ErrInvalidSignature
		}
	}
	return nil
}

// sign computes Adyen's item signature: eight fields joined by ':' with ':'
// and '\' escaped, HMAC-SHA256, base64.
func (a *Adapter) sign(it item) string {
	escape := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	fields := []string{
		it.PspReference,
		it.OriginalReference,
		it.MerchantAccountCode,
		it.MerchantReference,
		strconv.FormatInt(it.Amount.Value, 10),
		it.Amount.Currency,
		it.EventCode,
		it.Success,
	}
	for i := range fields {
		fields[i] = escape.Replace(fields[i])
	}
	mac := hmac.New(sha256.New, a.hmacKey)
	mac.Write([]byte(strings.Join(fields, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Parse maps the first item that concerns a payment onto a PaymentEvent.
// Items for reports, payouts or other flows are skipped.
func (a *Adapter) Parse(_ context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	items, err := decode(payload)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		eventType, reason, ok := it.classify()
		if !ok {
			continue
		}
		return it.event(eventType, reason, payload)
	}
	return nil, paymentdomain.ErrEventIgnored
}

func decode(payload []byte) ([]item, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil || len(n.Items) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}
	items := make([]item, len(n.Items))
	for i, wrapped := range n.Items {
		items[i] = wrapped.Item
	}
	return items, nil
}

type notification struct {
	Live  string `json:"live"`
	Items []struct {
		Item item `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

type amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type item struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              amount            `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}

func (it item) succeeded() bool {
	return it.Success == "true"
}

func (it item) classify() (eventType, reason string, ok bool) {
	switch it.EventCode {
	case "AUTHORISATION":
		if it.succeeded() {
			return paymentdomain.EventTypePaymentSucceeded, "", true
		}
		return paymentdomain.EventTypePaymentFailed, strings.TrimSpace(it.Reason), true
	case "CANCELLATION", "OFFER_CLOSED":
		if it.succeeded() {
			return paymentdomain.EventTypePaymentFailed, strings.ToLower(it.EventCode), true
		}
	}
	return "", "", false
}

func (it item) event(eventType, reason string, payload []byte) (*paymentdomain.PaymentEvent, error) {
	// merchantReference is the reference handed to Adyen at checkout.
	reference := strings.TrimSpace(it.MerchantReference)
	if reference == "" {
		reference = strings.TrimSpace(it.PspReference)
	}
	if reference == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if eventType == paymentdomain.EventTypePaymentSucceeded && it.Amount.Value <= 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var occurred time.Time
	if t, err := time.Parse(time.RFC3339, it.EventDate); err == nil {
		occurred = t.UTC()
	}
	return &paymentdomain.PaymentEvent{
		Provider:          provider,
		ProviderEventID:   it.PspReference + "_" + it.EventCode,
		ExternalReference: reference,
		Type:              eventType,
		Amount:            it.Amount.Value,
		Currency:          strings.ToUpper(it.Amount.Currency),
		FailureReason:     reason,
		OccurredAt:        occurred,
		RawPayload:        payload,
	}, nil
}
