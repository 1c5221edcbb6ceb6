package domain

import "errors"

var (
	ErrRefundNotFound         = errors.New("refund_not_found")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidIdempotencyKey  = errors.New("invalid_idempotency_key")
	ErrInvalidActor           = errors.New("invalid_actor")
	ErrPaymentNotRefundable   = errors.New("payment_not_refundable")
	ErrRefundExceedsAmount    = errors.New("refund_exceeds_payment_amount")
	ErrPayoutInFlight         = errors.New("payout_in_flight")
	ErrGatewayRefundFailed    = errors.New("gateway_refund_failed")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrInvalidState           = errors.New("invalid_refund_state")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
)
