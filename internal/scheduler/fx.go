package scheduler

import (
	"context"

	"github.com/smallbiznis/aitime/internal/config"
	"go.uber.org/fx"
)

// ProvideConfig maps application configuration onto the scheduler.
func ProvideConfig(appCfg config.Config) Config {
	cfg := DefaultConfig()
	cfg.RunInterval = appCfg.SchedulerInterval
	cfg.ResetEnabled = appCfg.SchedulerEnabled
	return cfg.withDefaults()
}

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RunScheduler),
)

func RunScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
