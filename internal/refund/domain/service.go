package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	pagination.Pagination
	PaymentID snowflake.ID `form:"payment_id"`
	Status    Status       `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	Refunds []Refund `json:"refunds"`
}

type Service interface {
	// IssueRefund records the refund, reverses the charge at the gateway and
	// then reverses the payment's ledger credits. A repeated idempotency key
	// returns the refund already recorded for it.
	IssueRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	// RetryRefund repeats the gateway call for a FAILED refund, or for a
	// PROCESSING one whose last gateway call ended without a clear answer.
	RetryRefund(ctx context.Context, refundID snowflake.ID, actor string) (*Refund, error)
	GetRefund(ctx context.Context, refundID snowflake.ID) (*Refund, error)
	ListRefunds(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, refund *Refund) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, key string) (*Refund, error)
	// SumActive totals the processing and completed refunds of a payment.
	SumActive(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error)
	SumCompleted(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Refund, error)

	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)
	// MarkUncertain records why the gateway outcome is unknown. The refund
	// stays PROCESSING and keeps its share of the cap.
	MarkUncertain(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error)
	Reopen(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayReference string, at time.Time) (bool, error)
}
