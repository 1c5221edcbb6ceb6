package booking

import (
	"github.com/smallbiznis/escrowd/internal/booking/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("booking",
	fx.Provide(repository.Provide),
)
