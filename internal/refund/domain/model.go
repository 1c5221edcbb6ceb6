package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Refund reverses part or all of a payment. The provider and platform
// portions are fixed when the refund is requested.
type Refund struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID        snowflake.ID `json:"payment_id"`
	Amount           int64        `json:"amount"`
	ProviderPortion  int64        `json:"provider_portion"`
	PlatformPortion  int64        `json:"platform_portion"`
	Currency         string       `json:"currency"`
	Reason           string       `json:"reason"`
	IdempotencyKey   string       `json:"idempotency_key"`
	GatewayReference *string      `json:"gateway_reference,omitempty"`
	Status           Status       `json:"status"`
	FailureReason    *string      `json:"failure_reason,omitempty"`
	RequestedBy      string       `json:"requested_by"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Refund) TableName() string { return "refunds" }

type RefundRequest struct {
	PaymentID      snowflake.ID `json:"payment_id"`
	Amount         int64        `json:"amount"`
	Reason         string       `json:"reason"`
	IdempotencyKey string       `json:"idempotency_key"`
	RequestedBy    string       `json:"-"`
}

type ListFilter struct {
	PaymentID snowflake.ID
	Status    Status
	AfterID   snowflake.ID
	Limit     int
}
