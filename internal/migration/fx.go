package migration

import (
	"github.com/smallbiznis/escrowd/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if cfg.Type == db.TypeSQLite {
			log.Info("applying sqlite schema")
			return ApplySQLiteSchema(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return Up(sqlDB, log)
	}),
)
