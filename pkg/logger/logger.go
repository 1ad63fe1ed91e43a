package logger

import (
	"context"
	"fmt"

	"ecoquest/pkg/config"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle   `optional:"true"`
	Cfg       *config.Config `optional:"true"`
}

func productionConfig() zap.Config {
	c := zap.NewProductionConfig()
	c.EncoderConfig.TimeKey = "timestamp"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c.EncoderConfig.LevelKey = "severity"
	c.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	c.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	c.OutputPaths = []string{"stdout"}
	c.ErrorOutputPaths = []string{"stderr"}
	return c
}

// New builds the process logger and installs it as the zap global, which is
// what every service logs through. LOG_LEVEL overrides the env default.
func New(p Params) (*zap.Logger, error) {
	c := zap.NewDevelopmentConfig()
	if p.Cfg != nil && p.Cfg.AppEnv == "production" {
		c = productionConfig()
	}
	if p.Cfg != nil && p.Cfg.LogLevel != "" {
		lvl, err := zapcore.ParseLevel(p.Cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", p.Cfg.LogLevel, err)
		}
		c.Level = zap.NewAtomicLevelAt(lvl)
	}

	log, err := c.Build()
	if err != nil {
		return nil, err
	}
	if p.Cfg != nil {
		log = log.With(
			zap.String("service_name", p.Cfg.AppName),
			zap.String("env", p.Cfg.AppEnv),
			zap.String("version", p.Cfg.AppVersion),
		)
	}

	zap.ReplaceGlobals(log)

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				// stdout may not support fsync
				_ = log.Sync()
				return nil
			},
		})
	}
	return log, nil
}

// TraceFields returns the trace and span ids of the span in ctx. It returns
// nothing when ctx carries no span.
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// FromContext returns the global logger tagged with the trace in ctx and
// fields.
func FromContext(ctx context.Context, fields ...zap.Field) *zap.Logger {
	return zap.L().With(append(TraceFields(ctx), fields...)...)
}
