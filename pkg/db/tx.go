package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTxTimeout is returned when a transaction exceeds its deadline. The
// rollback leaves no partial state, so the caller may retry the operation.
var ErrTxTimeout = errors.New("transaction_timeout")

const (
	defaultTxTimeout   = 10 * time.Second
	defaultBaseBackoff = 20 * time.Millisecond
	maxBackoff         = 500 * time.Millisecond
)

type TxOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Log        *zap.Logger
}

// TxRunner runs units of work inside serializable transactions with a bounded
// deadline, retrying transient serialization failures.
type TxRunner struct {
	db         *gorm.DB
	timeout    time.Duration
	maxRetries int
	log        *zap.Logger
}

func NewTxRunner(conn *gorm.DB, opts TxOptions) *TxRunner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &TxRunner{
		db:         conn,
		timeout:    timeout,
		maxRetries: retries,
		log:        log.Named("db.tx"),
	}
}

// DB returns the underlying handle for read-only queries.
func (r *TxRunner) DB() *gorm.DB {
	return r.db
}

// RunSerializable executes fn in one transaction. fn must only use the tx it
// receives, and must be safe to run again from scratch.
func (r *TxRunner) RunSerializable(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= r.maxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		wait := backoff(attempt)
		r.log.Debug("retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(tx *gorm.DB) error) error {
	txCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.WithContext(txCtx).Transaction(fn, r.txOptions())
	if err == nil {
		return nil
	}
	if errors.Is(txCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTxTimeout, err)
	}
	return err
}

func (r *TxRunner) txOptions() *sql.TxOptions {
	// sqlite serializes writers on its own and rejects explicit isolation levels.
	if r.db.Dialector.Name() == TypeSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func backoff(attempt int) time.Duration {
	d := defaultBaseBackoff << attempt
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}
