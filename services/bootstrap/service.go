package bootstrap

import (
	"context"
	"fmt"

	"ecoquest/pkg/config"
	"ecoquest/services/catalog"
	"ecoquest/services/gamification"
	"ecoquest/services/progress"
	"ecoquest/services/stats"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	config  *config.Config
	catalog *catalog.Service
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Config  *config.Config
	Catalog *catalog.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		config:  p.Config,
		catalog: p.Catalog,
	}
}

// Models lists every table owned by the service.
func Models() []any {
	var models []any
	models = append(models, catalog.Models()...)
	models = append(models, progress.Models()...)
	models = append(models, stats.Models()...)
	models = append(models, gamification.Models()...)
	return models
}

func (s *Service) Run(ctx context.Context) error {
	if s.config.Database.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	}
	if s.config.Catalog.SeedOnStart {
		return s.SeedCatalog(ctx)
	}
	return nil
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate schema", zap.Error(err))
		return fmt.Errorf("auto migrate: %w", err)
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(Models())))
	return nil
}

// SeedCatalog loads the default catalog when no activity exists yet.
func (s *Service) SeedCatalog(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&catalog.Activity{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count activities: %w", err)
	}
	if count > 0 {
		zap.L().Info("[bootstrap] catalog already present, skipping seed", zap.Int64("activities", count))
		return nil
	}

	return s.UpsertCatalog(ctx, catalog.DefaultBundle())
}

func (s *Service) UpsertCatalog(ctx context.Context, bundle catalog.Bundle) error {
	if err := s.catalog.Upsert(ctx, bundle); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	zap.L().Info("[bootstrap] catalog seeded",
		zap.Int("activities", len(bundle.Activities)),
		zap.Int("quizzes", len(bundle.Quizzes)),
		zap.Int("challenges", len(bundle.Challenges)),
		zap.Int("badges", len(bundle.Badges)),
	)
	return nil
}
