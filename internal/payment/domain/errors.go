package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrUnsupportedCurrency   = errors.New("unsupported_currency")
	ErrInvalidPayment        = errors.New("invalid_payment")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrAmountMismatch        = errors.New("amount_mismatch")
	ErrInvalidState          = errors.New("invalid_state")
	ErrGatewayNotConfigured  = errors.New("gateway_not_configured")
	ErrGatewayRequestFailed  = errors.New("gateway_request_failed")
	// ErrGatewayDeclined marks a gateway answer that definitely did not move money.
	ErrGatewayDeclined       = errors.New("gateway_declined")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
