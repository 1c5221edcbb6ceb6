package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/refund/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const refundColumns = `id, payment_id, amount, provider_portion, platform_portion, currency, reason,
	idempotency_key, gateway_reference, status, failure_reason, requested_by, completed_at,
	created_at, updated_at`

// Insert reports false when the payment already has a refund under the same
// idempotency key.
func (r *repo) Insert(ctx context.Context, tx *gorm.DB, refund *domain.Refund) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO refunds (`+refundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_id, idempotency_key) DO NOTHING`,
		refund.ID, refund.PaymentID, refund.Amount, refund.ProviderPortion, refund.PlatformPortion,
		refund.Currency, refund.Reason, refund.IdempotencyKey, refund.GatewayReference, refund.Status,
		refund.FailureReason, refund.RequestedBy, refund.CompletedAt, refund.CreatedAt, refund.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Refund, error) {
	if id == 0 {
		return nil, nil
	}
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM refunds WHERE id = ? LIMIT 1`, id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, key string) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = ? AND idempotency_key = ? LIMIT 1`,
		paymentID, key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) sum(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, statuses ...domain.Status) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM refunds WHERE payment_id = ? AND status IN ?`,
		paymentID, statuses,
	).Scan(&total).Error
	return total, err
}

func (r *repo) SumActive(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error) {
	return r.sum(ctx, tx, paymentID, domain.StatusProcessing, domain.StatusCompleted)
}

func (r *repo) SumCompleted(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error) {
	return r.sum(ctx, tx, paymentID, domain.StatusCompleted)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Refund, error) {
	query := db.WithContext(ctx).Model(&domain.Refund{})
	if filter.PaymentID != 0 {
		query = query.Where("payment_id = ?", filter.PaymentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		query = query.Where("id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []domain.Refund
	if err := query.Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds SET status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusFailed, reason, at, id, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkUncertain(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds SET failure_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
		reason, at, id, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Reopen claims a refund for another gateway attempt. Clearing
// failure_reason makes a second concurrent claim match nothing.
func (r *repo) Reopen(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE refunds SET status = ?, failure_reason = NULL, updated_at = ?
		WHERE id = ? AND (status = ? OR (status = ? AND failure_reason IS NOT NULL))`,
		domain.StatusProcessing, at, id, domain.StatusFailed, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, gatewayReference string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE refunds SET status = ?, gateway_reference = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusCompleted, gatewayReference, at, at, id, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
