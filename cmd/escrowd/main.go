package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/escrowd/internal/audit"
	"github.com/smallbiznis/escrowd/internal/authorization"
	"github.com/smallbiznis/escrowd/internal/booking"
	"github.com/smallbiznis/escrowd/internal/clock"
	"github.com/smallbiznis/escrowd/internal/config"
	"github.com/smallbiznis/escrowd/internal/ledger"
	"github.com/smallbiznis/escrowd/internal/lock"
	"github.com/smallbiznis/escrowd/internal/migration"
	"github.com/smallbiznis/escrowd/internal/observability"
	"github.com/smallbiznis/escrowd/internal/payment"
	"github.com/smallbiznis/escrowd/internal/payout"
	"github.com/smallbiznis/escrowd/internal/provider"
	"github.com/smallbiznis/escrowd/internal/ratelimit"
	"github.com/smallbiznis/escrowd/internal/refund"
	"github.com/smallbiznis/escrowd/internal/scheduler"
	"github.com/smallbiznis/escrowd/internal/server"
	"github.com/smallbiznis/escrowd/internal/settlement"
	"github.com/smallbiznis/escrowd/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		ratelimit.Module,

		// Domains
		audit.Module,
		authorization.Module,
		booking.Module,
		provider.Module,
		ledger.Module,
		settlement.Module,
		payment.Module,
		payout.Module,
		refund.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
