package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/escrowd/internal/config"
	paymentdomain "github.com/smallbiznis/escrowd/internal/payment/domain"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.stripe.com"

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RequestError is a non-2xx answer from the gateway.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe %d: %s", e.StatusCode, e.Message)
}

// Declined reports a definitive rejection. Conflicts and rate limits may
// still be processed under the same idempotency key.
func (e *RequestError) Declined() bool {
	switch {
	case e.StatusCode == http.StatusConflict, e.StatusCode == http.StatusTooManyRequests:
		return false
	default:
		return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
	}
}

func (e *RequestError) Unwrap() []error {
	if e.Declined() {
		return []error{paymentdomain.ErrGatewayRequestFailed, paymentdomain.ErrGatewayDeclined}
	}
	return []error{paymentdomain.ErrGatewayRequestFailed}
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
type StripeClient struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
	log       *zap.Logger
}

type StripeOptions struct {
	APIKey     string
	AccountID  string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewStripeClient(opts StripeOptions, log *zap.Logger) *StripeClient {
	if log == nil {
		log = zap.NewNop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 12 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &StripeClient{
		apiKey:    strings.TrimSpace(opts.APIKey),
		accountID: strings.TrimSpace(opts.AccountID),
		baseURL:   baseURL,
		client:    httpClient,
		log:       log.Named("payment.gateway"),
	}
}

// Provide builds the gateway from process configuration.
func Provide(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	return NewStripeClient(StripeOptions{
		APIKey:    cfg.Gateway.StripeAPIKey,
		AccountID: cfg.Gateway.StripeAccountID,
		BaseURL:   cfg.Gateway.StripeBaseURL,
		Timeout:   cfg.Gateway.Timeout,
	}, log)
}

func (c *StripeClient) Name() string { return "stripe" }

// InitiateCharge creates a payment intent. The payment id is the idempotency
// key so a retried checkout never creates a second intent.
func (c *StripeClient) InitiateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	if req.Amount <= 0 {
		return paymentdomain.ChargeResult{}, paymentdomain.ErrInvalidAmount
	}
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("payment_method_types[]", "card")
	values.Set("metadata[payment_id]", req.PaymentID.String())
	values.Set("metadata[booking_id]", req.BookingID.String())
	values.Set("metadata[provider_id]", req.ProviderID.String())
	values.Set("metadata[client_id]", req.ClientID.String())

	var intent stripePaymentIntent
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, "payment:"+req.PaymentID.String(), &intent); err != nil {
		return paymentdomain.ChargeResult{}, err
	}
	if intent.ID == "" {
		return paymentdomain.ChargeResult{}, fmt.Errorf("%w: empty payment intent id", paymentdomain.ErrGatewayRequestFailed)
	}
	return paymentdomain.ChargeResult{
		ExternalReference: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Status:            intent.Status,
	}, nil
}

// Refund refunds part or all of a payment intent, keyed by the refund id.
// A pending refund is returned as accepted; Status carries what Stripe said.
func (c *StripeClient) Refund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	if req.Amount <= 0 {
		return paymentdomain.RefundResult{}, paymentdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return paymentdomain.RefundResult{}, paymentdomain.ErrInvalidPayment
	}
	values := url.Values{}
	values.Set("payment_intent", req.ExternalReference)
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("metadata[refund_id]", req.RefundID.String())
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		values.Set("metadata[reason]", reason)
	}

	var refund stripeRefund
	if err := c.doRequest(ctx, http.MethodPost, "/v1/refunds", values, "refund:"+req.RefundID.String(), &refund); err != nil {
		return paymentdomain.RefundResult{}, err
	}
	if refund.Status == "failed" || refund.Status == "canceled" {
		return paymentdomain.RefundResult{}, fmt.Errorf("%w: %w: refund %s %s",
			paymentdomain.ErrGatewayRequestFailed, paymentdomain.ErrGatewayDeclined, refund.ID, refund.Status)
	}
	return paymentdomain.RefundResult{
		GatewayReference: refund.ID,
		Status:           refund.Status,
	}, nil
}

func (c *StripeClient) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if c.apiKey == "" {
		return paymentdomain.ErrGatewayNotConfigured
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.accountID != "" {
		req.Header.Set("Stripe-Account", c.accountID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		reqErr := &RequestError{StatusCode: resp.StatusCode, Message: "stripe_request_failed"}
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err == nil {
			if msg := strings.TrimSpace(stripeErr.Error.Message); msg != "" {
				reqErr.Message = msg
			}
			reqErr.Code = stripeErr.Error.Code
		}
		c.log.Warn("stripe request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", reqErr.Code),
		)
		return reqErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", paymentdomain.ErrGatewayRequestFailed, err)
	}
	return nil
}

// IsRequestError reports whether err came back from the gateway itself.
func IsRequestError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}
