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
	Status     Status       `form:"status"`
	ProviderID snowflake.ID `form:"provider_id"`
	BatchID    snowflake.ID `form:"batch_id"`
}

type ListResponse struct {
	pagination.PageInfo
	Payouts []Payout `json:"payouts"`
}

type BatchListRequest struct {
	pagination.Pagination
	Status BatchStatus `form:"status"`
}

type BatchListResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"batches"`
}

type Service interface {
	CreatePayout(ctx context.Context, paymentID snowflake.ID, actor string) (*Payout, error)
	ApprovePayout(ctx context.Context, payoutID snowflake.ID, approver string) (*Payout, error)
	CancelPayout(ctx context.Context, payoutID snowflake.ID, actor, reason string) (*Payout, error)
	// CancelOpenForPaymentTx cancels the payment's payout on the caller's
	// transaction when it has not been exported yet. It reports whether a
	// payout was cancelled.
	CancelOpenForPaymentTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, actor, reason string) (bool, error)
	FindByPaymentTx(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (*Payout, error)

	ExportBatch(ctx context.Context, req ExportRequest) (*ExportResult, error)
	ExecuteBatch(ctx context.Context, batchID snowflake.ID, executor, bankReference string) (*Batch, error)
	CancelBatch(ctx context.Context, batchID snowflake.ID, actor string) (*Batch, error)

	GetPayout(ctx context.Context, payoutID snowflake.ID) (*Payout, error)
	ListPayouts(ctx context.Context, req ListRequest) (ListResponse, error)
	GetBatch(ctx context.Context, batchID snowflake.ID) (*Batch, error)
	ListBatches(ctx context.Context, req BatchListRequest) (BatchListResponse, error)
	BatchFile(ctx context.Context, batchID snowflake.ID) (*BatchFile, error)
}

// PayoutExecutor moves the money for an exported batch. The shipped
// executor is manual: the transfer happened at the bank and only its
// reference is recorded.
type PayoutExecutor interface {
	Name() string
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExportStore archives transfer files outside the database.
type ExportStore interface {
	Put(ctx context.Context, key string, content []byte) (string, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, payout *Payout) error
	Revive(ctx context.Context, tx *gorm.DB, payout *Payout) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	FindByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Payout, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payout, error)
	ListApprovedUnbatched(ctx context.Context, tx *gorm.DB, limit int) ([]Payout, error)
	ListByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Payout, error)

	Approve(ctx context.Context, tx *gorm.DB, id snowflake.ID, approver string, at time.Time) (bool, error)
	Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor, reason string, at time.Time) (bool, error)
	ClaimForBatch(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, batchID snowflake.ID, at time.Time) (int64, error)
	Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// ReleaseBatch returns a cancelled batch's payouts to APPROVED, except
	// those whose payment was refunded meanwhile, which are cancelled.
	ReleaseBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, actor string, at time.Time) (released, cancelled int64, err error)

	SumCommitted(ctx context.Context, tx *gorm.DB) (int64, error)
	SumOpenForProvider(ctx context.Context, tx *gorm.DB, providerID snowflake.ID) (int64, error)
	// RefundedProviderPortion sums the provider share of the payment's
	// processing and completed refunds.
	RefundedProviderPortion(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error)
	RefundInFlight(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (bool, error)

	InsertBatch(ctx context.Context, tx *gorm.DB, batch *Batch) error
	FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	ListBatches(ctx context.Context, db *gorm.DB, filter BatchListFilter) ([]Batch, error)
	MarkExported(ctx context.Context, tx *gorm.DB, batch *Batch) (bool, error)
	SetObjectKey(ctx context.Context, db *gorm.DB, id snowflake.ID, key string) error
	MarkExecuted(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor, bankReference string, at time.Time) (bool, error)
	MarkBatchCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor string, at time.Time) (bool, error)
}
