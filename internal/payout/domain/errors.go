package domain

import "errors"

var (
	ErrPayoutNotFound        = errors.New("payout_not_found")
	ErrBatchNotFound         = errors.New("payout_batch_not_found")
	ErrPayoutExists          = errors.New("payout_exists")
	ErrInvalidState          = errors.New("invalid_state")
	ErrPaymentNotEscrowed    = errors.New("payment_not_escrowed")
	ErrRefundInFlight        = errors.New("refund_in_flight")
	ErrBankDetailsMissing    = errors.New("bank_details_missing")
	ErrInsufficientBalance   = errors.New("insufficient_provider_balance")
	ErrInsufficientLiquidity = errors.New("insufficient_liquidity")
	ErrNothingToExport       = errors.New("nothing_to_export")
	ErrBatchTooLarge         = errors.New("batch_too_large")
	ErrTransferFileMissing   = errors.New("transfer_file_missing")
	ErrInvalidActor          = errors.New("invalid_actor")
	ErrInvalidBankReference  = errors.New("invalid_bank_reference")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
)
