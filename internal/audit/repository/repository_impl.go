package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/escrowd/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends one row. The audit trail has no update or delete path.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return db.WithContext(ctx).Create(entry).Error
}

// List returns newest first. Callers ask for one row more than they show to
// detect a further page.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	q := db.WithContext(ctx).Model(&domain.AuditLog{})

	for _, eq := range [...]struct{ column, value string }{
		{"action", filter.Action},
		{"target_type", filter.TargetType},
		{"target_id", filter.TargetID},
		{"actor_id", filter.ActorID},
	} {
		if v := strings.TrimSpace(eq.value); v != "" {
			q = q.Where(eq.column+" = ?", v)
		}
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at < ?", filter.Until.UTC())
	}
	if filter.AfterID != 0 {
		q = q.Where("id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var logs []domain.AuditLog
	if err := q.Order("id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
