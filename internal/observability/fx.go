package observability

import (
	"github.com/smallbiznis/aitime/internal/config"
	"github.com/smallbiznis/aitime/internal/observability/metrics"
	"go.uber.org/fx"
)

// ProvideMetricsConfig maps application configuration onto the metrics
// provider.
func ProvideMetricsConfig(appCfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          appCfg.Metrics.Enabled,
		ExporterEndpoint: appCfg.Metrics.Endpoint,
		ExporterProtocol: appCfg.Metrics.Exporter,
		ServiceName:      appCfg.AppName,
		Environment:      appCfg.Environment,
	}
}

var Module = fx.Module("observability",
	fx.Provide(
		ProvideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)
