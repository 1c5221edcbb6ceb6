package db

import (
	"time"

	"github.com/smallbiznis/escrowd/internal/config"
)

const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int

	TxTimeout    time.Duration
	TxMaxRetries int
}

// FromAppConfig narrows the process configuration to the database settings.
func FromAppConfig(cfg config.Config) Config {
	return Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		TxTimeout:       cfg.TxTimeout,
		TxMaxRetries:    cfg.TxMaxRetries,
	}
}
