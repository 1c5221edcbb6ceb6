package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/booking/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Ensure(ctx context.Context, db *gorm.DB, booking *domain.Booking) (bool, error) {
	if booking == nil {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO bookings (id, provider_id, client_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		booking.ID,
		booking.ProviderID,
		booking.ClientID,
		booking.Status,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	if id == 0 {
		return nil, nil
	}
	var booking domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_id, client_id, status, created_at, updated_at
		FROM bookings WHERE id = ?`,
		id,
	).Scan(&booking).Error
	if err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		status, at, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}
