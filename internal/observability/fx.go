package observability

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/stratus/internal/observability/logger"
	"github.com/smallbiznis/stratus/internal/observability/metrics"
	"github.com/smallbiznis/stratus/internal/observability/tracing"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		newLogger,
		metrics.New,
	),
	fx.Invoke(setupTracing),
)

func newLogger(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	return logger.New(lc, logger.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
}

func setupTracing(lc fx.Lifecycle, cfg Config, log *zap.Logger) error {
	return tracing.Setup(lc, tracing.Config{
		Enabled:       cfg.OtelEnabled,
		Endpoint:      cfg.OtelExporterEndpoint,
		ServiceName:   cfg.ServiceName,
		Environment:   cfg.Environment,
		Version:       cfg.Version,
		SamplingRatio: cfg.OtelSamplingRatio,
	}, log)
}
