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
	"ecoquest/pkg/logger"
	"ecoquest/pkg/otelcol"
	"ecoquest/pkg/redis"
	"ecoquest/pkg/task"
	"ecoquest/services/catalog"
	"ecoquest/services/stats"
)

// worker replays profile updates that failed inside a request and runs the
// daily streak expiry.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		featureflags.Module,
		catalog.Module,
		stats.Module,
		task.Client,
		task.Server,
		stats.TaskModule,
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
