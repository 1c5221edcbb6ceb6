package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusSettled     Status = "SETTLED"
	StatusDiscrepancy Status = "DISCREPANCY"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSettled, StatusDiscrepancy:
		return true
	}
	return false
}

// DateLayout is the UTC calendar day format of SettlementDate.
const DateLayout = "2006-01-02"

// Batch tracks what the card gateway owes the platform for one settlement
// day, and what the bank statement says actually arrived.
type Batch struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SettlementDate string       `json:"settlement_date"`
	ExpectedAmount int64        `json:"expected_amount"`
	PaymentCount   int64        `json:"payment_count"`
	ActualAmount   *int64       `json:"actual_amount,omitempty"`
	BankReference  *string      `json:"bank_reference,omitempty"`
	Status         Status       `json:"status"`
	ReconciledBy   *string      `json:"reconciled_by,omitempty"`
	ReconciledAt   *time.Time   `json:"reconciled_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Batch) TableName() string { return "settlement_batches" }

// Difference is actual minus expected once reconciled.
func (b Batch) Difference() int64 {
	if b.ActualAmount == nil {
		return 0
	}
	return *b.ActualAmount - b.ExpectedAmount
}

type ReconcileRequest struct {
	ActualAmount  int64
	BankReference string
	Actor         string
}

type ListFilter struct {
	Status  Status
	AfterID snowflake.ID
	Limit   int
}
