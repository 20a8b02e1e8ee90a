package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	consumptionSettled  metric.Int64Counter
	consumptionDeduped  metric.Int64Counter
	insufficientBalance metric.Int64Counter
	billableSeconds     metric.Int64Histogram
	dailyResets         metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "aitime"
	}
	meter := provider.Meter(name)

	consumptionSettled, err := meter.Int64Counter("aitime_consumption_settled_total")
	if err != nil {
		return nil, err
	}
	consumptionDeduped, err := meter.Int64Counter("aitime_consumption_deduplicated_total")
	if err != nil {
		return nil, err
	}
	insufficientBalance, err := meter.Int64Counter("aitime_insufficient_balance_total")
	if err != nil {
		return nil, err
	}
	billableSeconds, err := meter.Int64Histogram("aitime_billable_seconds")
	if err != nil {
		return nil, err
	}
	dailyResets, err := meter.Int64Counter("aitime_daily_reset_accounts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		consumptionSettled:  consumptionSettled,
		consumptionDeduped:  consumptionDeduped,
		insufficientBalance: insufficientBalance,
		billableSeconds:     billableSeconds,
		dailyResets:         dailyResets,
	}, nil
}

// RecordConsumption counts a settled charge and observes its size.
func (m *Metrics) RecordConsumption(ctx context.Context, operationType string, billable int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation_type", strings.TrimSpace(operationType)))
	m.consumptionSettled.Add(ctx, 1, attrs)
	m.billableSeconds.Record(ctx, billable, attrs)
}

// RecordDeduplicated counts an idempotent retry resolved as a no-op.
func (m *Metrics) RecordDeduplicated(ctx context.Context, operationType string) {
	if m == nil {
		return
	}
	m.consumptionDeduped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation_type", strings.TrimSpace(operationType))))
}

// RecordInsufficientBalance counts charges rejected for lack of balance.
func (m *Metrics) RecordInsufficientBalance(ctx context.Context, operationType string) {
	if m == nil {
		return
	}
	m.insufficientBalance.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation_type", strings.TrimSpace(operationType))))
}

// RecordDailyReset counts accounts touched by a daily gift reset.
func (m *Metrics) RecordDailyReset(ctx context.Context, accounts int64) {
	if m == nil {
		return
	}
	m.dailyResets.Add(ctx, accounts)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
