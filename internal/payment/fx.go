package payment

import (
	"github.com/smallbiznis/escrowd/internal/config"
	"github.com/smallbiznis/escrowd/internal/payment/adapters"
	"github.com/smallbiznis/escrowd/internal/payment/adapters/adyen"
	"github.com/smallbiznis/escrowd/internal/payment/adapters/stripe"
	"github.com/smallbiznis/escrowd/internal/payment/gateway"
	"github.com/smallbiznis/escrowd/internal/payment/repository"
	paymentservice "github.com/smallbiznis/escrowd/internal/payment/service"
	"github.com/smallbiznis/escrowd/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			adapters.SettingsFromConfig(cfg.Gateway),
			stripe.NewFactory(),
			adyen.NewFactory(),
		)
	}),
	fx.Provide(gateway.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
