package balance

import (
	"github.com/smallbiznis/aitime/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(service.NewService),
)
