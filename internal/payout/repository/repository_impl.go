package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"gorm.io/gorm"
)

const payoutColumns = `id, payment_id, provider_id, amount, currency, status,
	account_holder, bank_name, account_number, routing_code, batch_id,
	created_by, approved_by, approved_at, cancelled_by, cancelled_at, cancel_reason,
	completed_at, created_at, updated_at`

const batchColumns = `id, status, currency, total_amount, payout_count, transfer_file,
	file_checksum, file_object_key, exported_by, exported_at, executed_by, executed_at,
	bank_reference, cancelled_by, cancelled_at, created_at, updated_at`

// noRefundInFlight keeps a payout out of a batch while a refund of its
// payment is at the gateway.
const noRefundInFlight = `NOT EXISTS (
	SELECT 1 FROM refunds r WHERE r.payment_id = payouts.payment_id AND r.status = 'PROCESSING')`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, p *domain.Payout) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, payment_id, provider_id, amount, currency, status,
			account_holder, bank_name, account_number, routing_code,
			created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PaymentID, p.ProviderID, p.Amount, p.Currency, p.Status,
		p.AccountHolder, p.BankName, p.AccountNumber, p.RoutingCode,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	).Error
}

// Revive reopens a cancelled payout for the same payment with a fresh bank
// snapshot. payment_id is unique, so a payment has one payout row for life.
func (r *repo) Revive(ctx context.Context, tx *gorm.DB, p *domain.Payout) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET
			status = ?, amount = ?, currency = ?,
			account_holder = ?, bank_name = ?, account_number = ?, routing_code = ?,
			batch_id = NULL, created_by = ?,
			approved_by = NULL, approved_at = NULL,
			cancelled_by = NULL, cancelled_at = NULL, cancel_reason = NULL,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusPendingApproval, p.Amount, p.Currency,
		p.AccountHolder, p.BankName, p.AccountNumber, p.RoutingCode,
		p.CreatedBy, p.UpdatedAt,
		p.ID, domain.StatusCancelled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Payout, error) {
	var payout domain.Payout
	err := db.WithContext(ctx).Raw(`SELECT `+payoutColumns+` FROM payouts WHERE `+where, arg).Scan(&payout).Error
	if err != nil {
		return nil, err
	}
	if payout.ID == 0 {
		return nil, nil
	}
	return &payout, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payout, error) {
	if id == 0 {
		return nil, nil
	}
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.Payout, error) {
	if paymentID == 0 {
		return nil, nil
	}
	return r.findOne(ctx, db, "payment_id = ?", paymentID)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Payout, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payout{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ProviderID != 0 {
		stmt = stmt.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.BatchID != 0 {
		stmt = stmt.Where("batch_id = ?", filter.BatchID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []domain.Payout
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListApprovedUnbatched(ctx context.Context, tx *gorm.DB, limit int) ([]domain.Payout, error) {
	stmt := tx.WithContext(ctx).
		Where("status = ? AND batch_id IS NULL", domain.StatusApproved).
		Where(noRefundInFlight).
		Order("id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	var items []domain.Payout
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]domain.Payout, error) {
	var items []domain.Payout
	err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Approve(ctx context.Context, tx *gorm.DB, id snowflake.ID, approver string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusApproved, approver, at, at, id, domain.StatusPendingApproval,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor, reason string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, cancelled_by = ?, cancelled_at = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		domain.StatusCancelled, actor, at, reason, at,
		id, domain.StatusPendingApproval, domain.StatusApproved,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimForBatch(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, batchID snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, batch_id = ?, updated_at = ?
		WHERE id IN ? AND status = ? AND batch_id IS NULL AND `+noRefundInFlight,
		domain.StatusProcessing, batchID, at, ids, domain.StatusApproved,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.StatusCompleted, at, at, id, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ReleaseBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID, actor string, at time.Time) (int64, int64, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, batch_id = NULL, cancelled_by = ?, cancelled_at = ?,
			cancel_reason = 'payment refunded', updated_at = ?
		WHERE batch_id = ? AND status = ?
			AND EXISTS (SELECT 1 FROM payments p WHERE p.id = payouts.payment_id AND p.status = 'REFUNDED')`,
		domain.StatusCancelled, actor, at, at, batchID, domain.StatusProcessing,
	)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	cancelled := res.RowsAffected

	res = tx.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, batch_id = NULL, updated_at = ?
		WHERE batch_id = ? AND status = ?`,
		domain.StatusApproved, at, batchID, domain.StatusProcessing,
	)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	return res.RowsAffected, cancelled, nil
}

func (r *repo) SumCommitted(ctx context.Context, tx *gorm.DB) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM payouts WHERE status IN (?, ?)`,
		domain.StatusApproved, domain.StatusProcessing,
	).Scan(&total).Error
	return total, err
}

func (r *repo) SumOpenForProvider(ctx context.Context, tx *gorm.DB, providerID snowflake.ID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM payouts
		WHERE provider_id = ? AND status IN (?, ?, ?)`,
		providerID, domain.StatusPendingApproval, domain.StatusApproved, domain.StatusProcessing,
	).Scan(&total).Error
	return total, err
}

func (r *repo) RefundedProviderPortion(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(provider_portion), 0) AS BIGINT) FROM refunds
		WHERE payment_id = ? AND status IN ('PROCESSING', 'COMPLETED')`,
		paymentID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) RefundInFlight(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM refunds WHERE payment_id = ? AND status = 'PROCESSING'`,
		paymentID,
	).Scan(&n).Error
	return n > 0, err
}

func (r *repo) InsertBatch(ctx context.Context, tx *gorm.DB, b *domain.Batch) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO payout_batches (id, status, currency, total_amount, payout_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Status, b.Currency, b.TotalAmount, b.PayoutCount, b.CreatedAt, b.UpdatedAt,
	).Error
}

func (r *repo) FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	if id == 0 {
		return nil, nil
	}
	var batch domain.Batch
	err := db.WithContext(ctx).Raw(`SELECT `+batchColumns+` FROM payout_batches WHERE id = ?`, id).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) ListBatches(ctx context.Context, db *gorm.DB, filter domain.BatchListFilter) ([]domain.Batch, error) {
	stmt := db.WithContext(ctx).Model(&domain.Batch{}).Omit("transfer_file")
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
	var items []domain.Batch
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkExported(ctx context.Context, tx *gorm.DB, b *domain.Batch) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payout_batches SET
			status = ?, total_amount = ?, payout_count = ?, transfer_file = ?, file_checksum = ?,
			exported_by = ?, exported_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.BatchExported, b.TotalAmount, b.PayoutCount, b.TransferFile, b.FileChecksum,
		b.ExportedBy, b.ExportedAt, b.UpdatedAt,
		b.ID, domain.BatchPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetObjectKey(ctx context.Context, db *gorm.DB, id snowflake.ID, key string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payout_batches SET file_object_key = ? WHERE id = ?`,
		key, id,
	).Error
}

func (r *repo) MarkExecuted(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor, bankReference string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payout_batches SET status = ?, executed_by = ?, executed_at = ?, bank_reference = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.BatchExecuted, actor, at, bankReference, at, id, domain.BatchExported,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkBatchCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE payout_batches SET status = ?, cancelled_by = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		domain.BatchCancelled, actor, at, at, id, domain.BatchPending, domain.BatchExported,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
