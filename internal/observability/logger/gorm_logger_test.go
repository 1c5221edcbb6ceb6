package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{`SELECT id FROM payments WHERE id = ?`, "SELECT", "payments"},
		{`INSERT INTO ledger_entries (id) VALUES (?) ON CONFLICT DO NOTHING`, "INSERT", "ledger_entries"},
		{`UPDATE "payouts" SET status = ? WHERE id = ? AND status = ?`, "UPDATE", "payouts"},
		{`WITH x AS (SELECT 1) SELECT * FROM x`, "SELECT", "x"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestTraceRetryableErrorsLogAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	errConflict := errors.New("could not serialize access")
	l := NewGormLogger(GormLoggerConfig{
		Level:     gormlogger.Warn,
		Retryable: func(err error) bool { return errors.Is(err, errConflict) },
	})
	stmt := func() (string, int64) { return "UPDATE payouts SET status = ?", 0 }

	l.Trace(context.Background(), time.Now(), stmt, errConflict)
	l.Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), stmt, gormlogger.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "payouts", entries[1].ContextMap()["table"])
}
