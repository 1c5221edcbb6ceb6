package domain

import "errors"

var (
	ErrBatchNotFound        = errors.New("settlement_batch_not_found")
	ErrAlreadyReconciled    = errors.New("settlement_already_reconciled")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidBankReference = errors.New("invalid_bank_reference")
	ErrInvalidActor         = errors.New("invalid_actor")
	ErrInvalidDate          = errors.New("invalid_settlement_date")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrNoOpenSettlementDay  = errors.New("no_open_settlement_day")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)
