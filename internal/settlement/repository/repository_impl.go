package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/settlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Accumulate upserts the day's batch and returns its id. The update branch
// only applies while the batch is pending, so a reconciled day returns 0.
func (r *repo) Accumulate(ctx context.Context, tx *gorm.DB, id snowflake.ID, settlementDate string, amount int64, at time.Time) (snowflake.ID, error) {
	var batchID int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO settlement_batches (
			id, settlement_date, expected_amount, payment_count, status, created_at, updated_at
		) VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (settlement_date) DO UPDATE SET
			expected_amount = settlement_batches.expected_amount + excluded.expected_amount,
			payment_count = settlement_batches.payment_count + 1,
			updated_at = excluded.updated_at
		WHERE settlement_batches.status = ?
		RETURNING id`,
		id,
		settlementDate,
		amount,
		domain.StatusPending,
		at,
		at,
		domain.StatusPending,
	).Scan(&batchID).Error
	if err != nil {
		return 0, err
	}
	return snowflake.ID(batchID), nil
}

func (r *repo) ReduceExpected(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64, at time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE settlement_batches
		SET expected_amount = expected_amount - ?, updated_at = ?
		WHERE id = ? AND status = ? AND expected_amount >= ?`,
		amount, at, id, domain.StatusPending, amount,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	if id == 0 {
		return nil, nil
	}
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(
		`SELECT id, settlement_date, expected_amount, payment_count, actual_amount, bank_reference,
			status, reconciled_by, reconciled_at, created_at, updated_at
		FROM settlement_batches WHERE id = ?`,
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) MarkReconciled(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.Status, actualAmount int64, bankReference, actor string, at time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE settlement_batches
		SET status = ?, actual_amount = ?, bank_reference = ?, reconciled_by = ?, reconciled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, actualAmount, bankReference, actor, at, at, id, domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Batch, error) {
	var batches []domain.Batch
	stmt := db.WithContext(ctx).Model(&domain.Batch{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}
