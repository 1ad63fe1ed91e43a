package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ecoquest/pkg/config"
	"ecoquest/pkg/db"
	"ecoquest/pkg/featureflags"
	"ecoquest/pkg/gen"
	"ecoquest/pkg/grafana/pyroscope"
	"ecoquest/pkg/httpapi"
	"ecoquest/pkg/logger"
	"ecoquest/pkg/otelcol"
	"ecoquest/pkg/redis"
	"ecoquest/pkg/server"
	"ecoquest/pkg/task"
	"ecoquest/services/bootstrap"
	"ecoquest/services/catalog"
	"ecoquest/services/gamification"
	"ecoquest/services/progress"
	"ecoquest/services/stats"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		pyroscope.ProvidePyroscope,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		featureflags.Module,
		httpapi.Module,
		catalog.Module,
		progress.Module,
		stats.Module,
		gamification.Module,
		bootstrap.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
