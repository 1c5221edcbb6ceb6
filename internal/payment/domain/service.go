package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentAdapter verifies and parses one gateway's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Gateway is the outbound side of the card gateway.
type Gateway interface {
	Name() string
	InitiateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResult, error)
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, filter ListPaymentsFilter) ([]Payment, error)
	ProcessEvent(ctx context.Context, event *PaymentEvent) (ProcessOutcome, error)
	ListStaleEvents(ctx context.Context, olderThan time.Duration) ([]WebhookEvent, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (ProcessOutcome, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Payment, error)
	FindByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListPaymentsFilter) ([]Payment, error)

	// Transition moves a payment from one status to another and reports
	// whether this call performed the move.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, at time.Time) (bool, error)
	MarkEscrowed(ctx context.Context, db *gorm.DB, externalReference string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, externalReference string, reason string, at time.Time) (bool, error)
	AttachSettlementBatch(ctx context.Context, db *gorm.DB, id snowflake.ID, batchID snowflake.ID) error

	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	HasProcessedEvent(ctx context.Context, db *gorm.DB, eventType, externalReference string) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, event *WebhookEvent, at time.Time) error
	DiscardPendingEvent(ctx context.Context, db *gorm.DB, eventType, externalReference string) error
	RecordEventError(ctx context.Context, db *gorm.DB, eventType, externalReference, message string) error
	ListPendingEvents(ctx context.Context, db *gorm.DB, receivedBefore time.Time, limit int) ([]WebhookEvent, error)
}
