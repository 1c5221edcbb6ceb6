// Package testutil opens isolated sqlite databases with the service schema.
package testutil

import (
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/escrowd/internal/migration"
	"github.com/smallbiznis/escrowd/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a shared-cache in-memory database private to the test. The
// pool is capped at one connection so concurrent goroutines queue on it the
// way writers queue on a sqlite file.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(db.SQLiteDSN("file:"+name+"?mode=memory&cache=shared")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

// NewTxRunner wraps conn in a runner with short test-friendly limits.
func NewTxRunner(conn *gorm.DB) *db.TxRunner {
	return db.NewTxRunner(conn, db.TxOptions{MaxRetries: 3})
}

// NewNode returns a snowflake node for id generation in tests.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
