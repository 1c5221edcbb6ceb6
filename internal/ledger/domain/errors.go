package domain

import "errors"

var (
	ErrInvalidAccountType   = errors.New("invalid_account_type")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidEntryType     = errors.New("invalid_entry_type")
	ErrInvalidReferenceType = errors.New("invalid_reference_type")
	ErrInvalidReference     = errors.New("invalid_reference")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrTransactionRequired  = errors.New("transaction_required")
)
