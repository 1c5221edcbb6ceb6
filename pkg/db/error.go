package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	// GORM wraps driver errors in gorm.Err*, unwrap first
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryable reports whether err is a transient concurrency failure that is
// safe to retry by re-running the whole transaction.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTxTimeout) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "could not serialize access"):
		return true
	case strings.Contains(msg, "deadlock detected"):
		return true
	case strings.Contains(msg, "database is locked"):
		return true
	case strings.Contains(msg, "sqlite_busy"):
		return true
	}
	return false
}
