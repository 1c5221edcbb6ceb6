package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/escrowd/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.Exec(`CREATE TABLE counters (id INTEGER PRIMARY KEY, value INTEGER NOT NULL)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO counters (id, value) VALUES (1, 0)`).Error)
	return conn
}

func counterValue(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var value int64
	require.NoError(t, conn.Raw(`SELECT value FROM counters WHERE id = 1`).Scan(&value).Error)
	return value
}

func TestRunSerializableRetriesTransientFailure(t *testing.T) {
	conn := openTestDB(t)
	runner := db.NewTxRunner(conn, db.TxOptions{Timeout: time.Second, MaxRetries: 3})

	attempts := 0
	err := runner.RunSerializable(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Exec(`UPDATE counters SET value = value + 1 WHERE id = 1`).Error; err != nil {
			return err
		}
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// Failed attempts rolled back, only the last increment is visible.
	assert.Equal(t, int64(1), counterValue(t, conn))
}

func TestRunSerializableDoesNotRetryBusinessErrors(t *testing.T) {
	conn := openTestDB(t)
	runner := db.NewTxRunner(conn, db.TxOptions{Timeout: time.Second, MaxRetries: 3})
	errBusiness := errors.New("invalid_state")

	attempts := 0
	err := runner.RunSerializable(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Exec(`UPDATE counters SET value = value + 1 WHERE id = 1`).Error; err != nil {
			return err
		}
		return errBusiness
	})
	require.ErrorIs(t, err, errBusiness)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int64(0), counterValue(t, conn))
}

func TestRunSerializableGivesUpAfterMaxRetries(t *testing.T) {
	conn := openTestDB(t)
	runner := db.NewTxRunner(conn, db.TxOptions{Timeout: time.Second, MaxRetries: 2})

	attempts := 0
	err := runner.RunSerializable(context.Background(), func(tx *gorm.DB) error {
		attempts++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.True(t, db.IsRetryable(err))
	assert.Equal(t, 3, attempts)
}

func TestRunSerializableTimeout(t *testing.T) {
	conn := openTestDB(t)
	runner := db.NewTxRunner(conn, db.TxOptions{Timeout: 20 * time.Millisecond, MaxRetries: 0})

	err := runner.RunSerializable(context.Background(), func(tx *gorm.DB) error {
		<-tx.Statement.Context.Done()
		return tx.Statement.Context.Err()
	})
	require.ErrorIs(t, err, db.ErrTxTimeout)
	assert.True(t, db.IsRetryable(err))
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, db.IsDuplicateKeyErr(nil))
	assert.True(t, db.IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, db.IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, db.IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: payouts.payment_id")))
	assert.False(t, db.IsDuplicateKeyErr(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, db.IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, db.IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, db.IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, db.IsRetryable(context.Canceled))
	assert.False(t, db.IsRetryable(nil))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "escrowd.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", db.SQLiteDSN(""))
	assert.Equal(t, "file:x?mode=memory&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", db.SQLiteDSN("file:x?mode=memory"))
}
