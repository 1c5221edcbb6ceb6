package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	StatusPending           PaymentStatus = "PENDING"
	StatusEscrow            PaymentStatus = "ESCROW"
	StatusProcessingRelease PaymentStatus = "PROCESSING_RELEASE"
	StatusReleased          PaymentStatus = "RELEASED"
	StatusRefunded          PaymentStatus = "REFUNDED"
	StatusFailed            PaymentStatus = "FAILED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusEscrow, StatusProcessingRelease, StatusReleased, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// PostEscrow reports whether the payment has been funded. Refunds are only
// accepted in these states.
func (s PaymentStatus) PostEscrow() bool {
	switch s {
	case StatusEscrow, StatusProcessingRelease, StatusReleased:
		return true
	}
	return false
}

type Payment struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	BookingID         snowflake.ID  `json:"booking_id" gorm:"not null"`
	ProviderID        snowflake.ID  `json:"provider_id" gorm:"not null"`
	ClientID          snowflake.ID  `json:"client_id" gorm:"not null"`
	Amount            int64         `json:"amount" gorm:"not null"`
	PlatformFee       int64         `json:"platform_fee" gorm:"not null"`
	EscrowAmount      int64         `json:"escrow_amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Status            PaymentStatus `json:"status" gorm:"type:text;not null"`
	Gateway           string        `json:"gateway" gorm:"type:text;not null"`
	ExternalReference string        `json:"external_reference" gorm:"type:text;not null"`
	SettlementBatchID *snowflake.ID `json:"settlement_batch_id,omitempty"`
	FailureReason     *string       `json:"failure_reason,omitempty"`
	EscrowedAt        *time.Time    `json:"escrowed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// WebhookEvent is the receipt of one gateway notification. At most one
// processed row exists per (event type, external reference).
type WebhookEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	EventID           string         `json:"event_id" gorm:"type:text;not null"`
	EventType         string         `json:"event_type" gorm:"type:text;not null"`
	ExternalReference string         `json:"external_reference" gorm:"type:text;not null"`
	Processed         bool           `json:"processed" gorm:"not null"`
	Payload           datatypes.JSON `json:"payload"`
	ProcessingError   *string        `json:"processing_error,omitempty"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ExternalReference string
	Type              string
	Amount            int64
	Currency          string
	FailureReason     string
	OccurredAt        time.Time
	RawPayload        []byte
}

// ProcessOutcome tells the webhook caller what a delivery did.
type ProcessOutcome string

const (
	OutcomeProcessed ProcessOutcome = "processed"
	OutcomeDuplicate ProcessOutcome = "duplicate"
	OutcomeIgnored   ProcessOutcome = "ignored"
)

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type CreatePaymentRequest struct {
	BookingID  snowflake.ID
	ProviderID snowflake.ID
	ClientID   snowflake.ID
	Amount     int64
	Currency   string
}

type CreatePaymentResult struct {
	Payment      Payment `json:"payment"`
	ClientSecret string  `json:"client_secret,omitempty"`
	Created      bool    `json:"created"`
}

type ListPaymentsFilter struct {
	Status     PaymentStatus
	ProviderID snowflake.ID
	AfterID    snowflake.ID
	Limit      int
}

type ChargeRequest struct {
	PaymentID  snowflake.ID
	BookingID  snowflake.ID
	ProviderID snowflake.ID
	ClientID   snowflake.ID
	Amount     int64
	Currency   string
}

type ChargeResult struct {
	ExternalReference string
	ClientSecret      string
	Status            string
}

type RefundRequest struct {
	RefundID          snowflake.ID
	ExternalReference string
	Amount            int64
	Currency          string
	Reason            string
}

type RefundResult struct {
	GatewayReference string
	Status           string
}
