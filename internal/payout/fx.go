package payout

import (
	"github.com/smallbiznis/escrowd/internal/payout/executor"
	"github.com/smallbiznis/escrowd/internal/payout/export"
	"github.com/smallbiznis/escrowd/internal/payout/repository"
	"github.com/smallbiznis/escrowd/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(executor.NewManualExecutor),
	fx.Provide(export.Provide),
	fx.Provide(service.NewService),
)
