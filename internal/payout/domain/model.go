package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusProcessing      Status = "PROCESSING"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists every allowed status move. PROCESSING returns to
// APPROVED only when its batch is cancelled before execution.
var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusApproved, StatusCancelled},
	StatusApproved:        {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusCompleted, StatusApproved},
	StatusCompleted:       nil,
	StatusCancelled:       {StatusPendingApproval},
}

// CanTransition reports whether a payout may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Open reports whether the payout still holds the provider's balance.
func (s Status) Open() bool {
	return s == StatusPendingApproval || s == StatusApproved || s == StatusProcessing
}

type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchExported  BatchStatus = "EXPORTED"
	BatchExecuted  BatchStatus = "EXECUTED"
	BatchCancelled BatchStatus = "CANCELLED"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchExported, BatchExecuted, BatchCancelled:
		return true
	}
	return false
}

// Payout releases one escrowed payment to its provider. Bank details are a
// snapshot taken at creation.
type Payout struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	PaymentID     snowflake.ID  `json:"payment_id"`
	ProviderID    snowflake.ID  `json:"provider_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        Status        `json:"status"`
	AccountHolder string        `json:"account_holder"`
	BankName      string        `json:"bank_name"`
	AccountNumber string        `json:"account_number"`
	RoutingCode   string        `json:"routing_code"`
	BatchID       *snowflake.ID `json:"batch_id,omitempty"`
	CreatedBy     string        `json:"created_by"`
	ApprovedBy    *string       `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time    `json:"approved_at,omitempty"`
	CancelledBy   *string       `json:"cancelled_by,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason  *string       `json:"cancel_reason,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (Payout) TableName() string { return "payouts" }

// Batch groups payouts exported in one transfer file and executed together.
type Batch struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Status        BatchStatus  `json:"status"`
	Currency      string       `json:"currency"`
	TotalAmount   int64        `json:"total_amount"`
	PayoutCount   int64        `json:"payout_count"`
	TransferFile  *string      `json:"-"`
	FileChecksum  *string      `json:"file_checksum,omitempty"`
	FileObjectKey *string      `json:"file_object_key,omitempty"`
	ExportedBy    *string      `json:"exported_by,omitempty"`
	ExportedAt    *time.Time   `json:"exported_at,omitempty"`
	ExecutedBy    *string      `json:"executed_by,omitempty"`
	ExecutedAt    *time.Time   `json:"executed_at,omitempty"`
	BankReference *string      `json:"bank_reference,omitempty"`
	CancelledBy   *string      `json:"cancelled_by,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Batch) TableName() string { return "payout_batches" }

// AutoApproveActor approves payouts when the auto_approve policy is on.
const AutoApproveActor = "system:auto-approve"

type ExportRequest struct {
	PayoutIDs []snowflake.ID
	Actor     string
}

type ExportResult struct {
	Batch   Batch    `json:"batch"`
	Payouts []Payout `json:"payouts"`
}

type BatchFile struct {
	Name     string
	Content  []byte
	Checksum string
}

type ListFilter struct {
	Status     Status
	ProviderID snowflake.ID
	BatchID    snowflake.ID
	AfterID    snowflake.ID
	Limit      int
}

type BatchListFilter struct {
	Status  BatchStatus
	AfterID snowflake.ID
	Limit   int
}

// ExecutionRequest is what a PayoutExecutor receives for one batch.
type ExecutionRequest struct {
	Batch         Batch
	Payouts       []Payout
	BankReference string
	Actor         string
}

type ExecutionResult struct {
	BankReference string
}
