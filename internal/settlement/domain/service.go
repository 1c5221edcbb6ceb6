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
	Status Status `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	Batches []Batch `json:"settlements"`
}

type Service interface {
	// ExpectedSettlementDate returns the UTC day the gateway is expected to
	// pay out a charge captured at paidAt.
	ExpectedSettlementDate(paidAt time.Time) string
	// AccumulateTx adds a captured amount to the day's batch on the caller's
	// transaction. A day already reconciled rolls to the next open day.
	AccumulateTx(ctx context.Context, tx *gorm.DB, settlementDate string, amount int64) (snowflake.ID, error)
	// ReduceExpectedTx lowers a still pending batch after a refund. It
	// reports false when the batch is no longer pending.
	ReduceExpectedTx(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, amount int64) (bool, error)
	Reconcile(ctx context.Context, batchID snowflake.ID, req ReconcileRequest) (*Batch, error)
	Get(ctx context.Context, batchID snowflake.ID) (*Batch, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Accumulate(ctx context.Context, tx *gorm.DB, id snowflake.ID, settlementDate string, amount int64, at time.Time) (snowflake.ID, error)
	ReduceExpected(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64, at time.Time) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	MarkReconciled(ctx context.Context, tx *gorm.DB, id snowflake.ID, status Status, actualAmount int64, bankReference, actor string, at time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Batch, error)
}
