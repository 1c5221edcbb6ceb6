package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusAwaitingExecution Status = "AWAITING_EXECUTION"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Booking is the slice of the marketplace booking that money movements
// advance. The booking workflow itself lives elsewhere.
type Booking struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	ProviderID snowflake.ID `json:"provider_id"`
	ClientID   snowflake.ID `json:"client_id"`
	Status     Status       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

var ErrBookingNotFound = errors.New("booking_not_found")

type Repository interface {
	// Ensure inserts the booking when absent and reports whether it did.
	Ensure(ctx context.Context, db *gorm.DB, booking *Booking) (bool, error)
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
}
