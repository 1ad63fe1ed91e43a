package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ecoquest/pkg/config"
	"ecoquest/pkg/db"
	"ecoquest/pkg/logger"
	"ecoquest/pkg/redis"
	"ecoquest/services/bootstrap"
	"ecoquest/services/catalog"
)

// seed migrates the schema and upserts the default catalog, then exits.
func main() {
	var svc *bootstrap.Service

	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		catalog.Module,
		fx.Provide(bootstrap.NewService),
		fx.Populate(&svc),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	if err := svc.Migrate(ctx); err != nil {
		zap.L().Fatal("migration failed", zap.Error(err))
	}
	if err := svc.UpsertCatalog(ctx, catalog.DefaultBundle()); err != nil {
		zap.L().Fatal("seed failed", zap.Error(err))
	}
	zap.L().Info("catalog seeded")
}
