package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, booking_id, provider_id, client_id, amount, platform_fee, escrow_amount,
	currency, status, gateway, external_reference, settlement_batch_id, failure_reason,
	escrowed_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.BookingID, p.ProviderID, p.ClientID, p.Amount, p.PlatformFee, p.EscrowAmount,
		p.Currency, p.Status, p.Gateway, p.ExternalReference, p.SettlementBatchID, p.FailureReason,
		p.EscrowedAt, p.CreatedAt, p.UpdatedAt,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, "booking_id = ?", bookingID)
}

func (r *repo) FindByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*domain.Payment, error) {
	return r.findOne(ctx, db, "external_reference = ?", ref)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPaymentsFilter) ([]domain.Payment, error) {
	query := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ProviderID != 0 {
		query = query.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.AfterID != 0 {
		query = query.Where("id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var items []domain.Payment
	if err := query.Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkEscrowed also accepts FAILED: a declined attempt leaves the intent
// open and the client may pay with another method.
func (r *repo) MarkEscrowed(ctx context.Context, db *gorm.DB, externalReference string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = NULL, escrowed_at = ?, updated_at = ?
		 WHERE external_reference = ? AND status IN (?, ?)`,
		domain.StatusEscrow, at, at, externalReference, domain.StatusPending, domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, externalReference string, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE external_reference = ? AND status = ?`,
		domain.StatusFailed, reason, at, externalReference, domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) AttachSettlementBatch(ctx context.Context, db *gorm.DB, id snowflake.ID, batchID snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET settlement_batch_id = ? WHERE id = ?`,
		batchID, id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_id, event_type, external_reference, processed,
			payload, processing_error, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_type, external_reference, processed) DO NOTHING`,
		event.ID,
		event.Provider,
		event.EventID,
		event.EventType,
		event.ExternalReference,
		event.Processed,
		event.Payload,
		event.ProcessingError,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) HasProcessedEvent(ctx context.Context, db *gorm.DB, eventType, externalReference string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM webhook_events
		 WHERE event_type = ? AND external_reference = ? AND processed = ?`,
		eventType, externalReference, true,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkEventProcessed flips the pending receipt to processed. When no pending
// receipt exists a processed row is inserted directly; a concurrent winner
// then surfaces as a duplicate key error.
func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processed_at = ?, processing_error = NULL
		 WHERE event_type = ? AND external_reference = ? AND processed = ?`,
		true, at, event.EventType, event.ExternalReference, false,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_id, event_type, external_reference, processed,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.EventID,
		event.EventType,
		event.ExternalReference,
		true,
		event.Payload,
		event.ReceivedAt,
		at,
	).Error
}

func (r *repo) DiscardPendingEvent(ctx context.Context, db *gorm.DB, eventType, externalReference string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM webhook_events
		 WHERE event_type = ? AND external_reference = ? AND processed = ?`,
		eventType, externalReference, false,
	).Error
}

func (r *repo) RecordEventError(ctx context.Context, db *gorm.DB, eventType, externalReference, message string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processing_error = ?
		 WHERE event_type = ? AND external_reference = ? AND processed = ?`,
		message, eventType, externalReference, false,
	).Error
}

func (r *repo) ListPendingEvents(ctx context.Context, db *gorm.DB, receivedBefore time.Time, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("processed = ? AND received_at < ?", false, receivedBefore).
		Order("received_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
