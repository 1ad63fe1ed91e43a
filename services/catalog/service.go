package catalog

import (
	"context"
	"fmt"

	"ecoquest/pkg/celengine"
	"ecoquest/pkg/config"
	"ecoquest/pkg/errutil"
	applog "ecoquest/pkg/logger"
	"ecoquest/pkg/rediskey"
	"ecoquest/pkg/repository"

	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	kindActivity  = "activities"
	kindQuiz      = "quizzes"
	kindChallenge = "challenges"
	kindBadge     = "badges"
)

type Service struct {
	db    *gorm.DB
	cache *Cache

	activity  repository.Repository[Activity]
	quiz      repository.Repository[Quiz]
	challenge repository.Repository[Challenge]
	badge     repository.Repository[Badge]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		cache: NewCache(p.Redis, p.Config.Catalog.CacheTTL),

		activity:  repository.ProvideStore[Activity](p.DB),
		quiz:      repository.ProvideStore[Quiz](p.DB),
		challenge: repository.ProvideStore[Challenge](p.DB),
		badge:     repository.ProvideStore[Badge](p.DB),
	}
}

func logger(ctx context.Context) *zap.Logger {
	return applog.FromContext(ctx)
}

// findActive loads one active row by id through the cache. Inactive rows are
// reported as not found.
func findActive[T any](ctx context.Context, s *Service, repo repository.Repository[T], kind, key, notFound string, query *T, active func(*T) bool) (*T, error) {
	row, err := getOrLoad(ctx, s.cache, kind, key, func(ctx context.Context) (*T, error) {
		row, err := repo.FindOne(ctx, query)
		if err != nil {
			logger(ctx).Error("failed to query catalog", zap.String("kind", kind), zap.Error(err))
			return nil, errutil.Internal("failed to load "+kind, err)
		}
		if row == nil {
			return nil, errutil.NotFound(notFound, nil)
		}
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	if !active(row) {
		return nil, errutil.NotFound(notFound, nil)
	}
	return row, nil
}

func (s *Service) GetActivity(ctx context.Context, id string) (*Activity, error) {
	if id == "" {
		return nil, errutil.NotFound("Activity not found", nil)
	}
	return findActive(ctx, s, s.activity, kindActivity, rediskey.BuildActivityKey(id), "Activity not found",
		&Activity{ID: id}, func(a *Activity) bool { return a.IsActive })
}

func (s *Service) GetQuiz(ctx context.Context, id string) (*Quiz, error) {
	if id == "" {
		return nil, errutil.NotFound("Quiz not found", nil)
	}
	return findActive(ctx, s, s.quiz, kindQuiz, rediskey.BuildQuizKey(id), "Quiz not found",
		&Quiz{ID: id}, func(q *Quiz) bool { return q.IsActive })
}

func (s *Service) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	if id == "" {
		return nil, errutil.NotFound("Challenge not found", nil)
	}
	return findActive(ctx, s, s.challenge, kindChallenge, rediskey.BuildChallengeKey(id), "Challenge not found",
		&Challenge{ID: id}, func(c *Challenge) bool { return c.IsActive })
}

// GetBadgeByName resolves a badge by the slug of its display name, so
// "Eco Warrior" and "eco-warrior" name the same badge.
func (s *Service) GetBadgeByName(ctx context.Context, name string) (*Badge, error) {
	key := slug.Make(name)
	if key == "" {
		return nil, errutil.NotFound("Badge not found", nil)
	}
	return findActive(ctx, s, s.badge, kindBadge, rediskey.BuildBadgeKey(key), "Badge not found",
		&Badge{Slug: key}, func(b *Badge) bool { return b.IsActive })
}

func listActive[T any](ctx context.Context, s *Service, repo repository.Repository[T], kind string) ([]*T, error) {
	return getOrLoad(ctx, s.cache, kind, rediskey.BuildListKey(kind), func(ctx context.Context) ([]*T, error) {
		rows, err := repo.Find(ctx, nil, func(db *gorm.DB) *gorm.DB {
			return db.Where("is_active = ?", true).Order("created_at ASC").Order("id ASC")
		})
		if err != nil {
			logger(ctx).Error("failed to list catalog", zap.String("kind", kind), zap.Error(err))
			return nil, errutil.Internal("failed to list "+kind, err)
		}
		return rows, nil
	})
}

func (s *Service) ListActivities(ctx context.Context) ([]*Activity, error) {
	return listActive(ctx, s, s.activity, kindActivity)
}

// ListQuizzes returns active quizzes without their answer keys.
func (s *Service) ListQuizzes(ctx context.Context) ([]PublicQuiz, error) {
	rows, err := listActive(ctx, s, s.quiz, kindQuiz)
	if err != nil {
		return nil, err
	}
	out := make([]PublicQuiz, 0, len(rows))
	for _, q := range rows {
		out = append(out, q.Public())
	}
	return out, nil
}

func (s *Service) ListChallenges(ctx context.Context) ([]*Challenge, error) {
	return listActive(ctx, s, s.challenge, kindChallenge)
}

func (s *Service) ListBadges(ctx context.Context) ([]*Badge, error) {
	return listActive(ctx, s, s.badge, kindBadge)
}

// Bundle is a full set of catalog rows, as loaded by the seeder.
type Bundle struct {
	Activities []*Activity
	Quizzes    []*Quiz
	Challenges []*Challenge
	Badges     []*Badge
}

func upsert[T any](tx *gorm.DB, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 100).Error
}

func validateRequirements(badges []*Badge) error {
	vars := RequirementVariables()
	var details []errutil.Detail
	for _, badge := range badges {
		expr := badge.Requirements.Data().Expression
		if expr == "" {
			continue
		}
		if err := celengine.ValidateExpression(expr, vars); err != nil {
			details = append(details, errutil.Detail{
				Field:   fmt.Sprintf("badges[%s].requirements.expression", badge.Name),
				Message: err.Error(),
			})
		}
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("Invalid badge requirements", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Upsert writes b by primary key and invalidates every affected cache entry.
// Badge slugs are derived from names. Nothing is written when a badge
// requirement does not compile.
func (s *Service) Upsert(ctx context.Context, b Bundle) error {
	if err := validateRequirements(b.Badges); err != nil {
		logger(ctx).Warn("rejected catalog bundle", zap.Error(err))
		return err
	}

	for _, badge := range b.Badges {
		badge.Slug = slug.Make(badge.Name)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, b.Activities); err != nil {
			return err
		}
		if err := upsert(tx, b.Quizzes); err != nil {
			return err
		}
		if err := upsert(tx, b.Challenges); err != nil {
			return err
		}
		return upsert(tx, b.Badges)
	}); err != nil {
		logger(ctx).Error("failed to upsert catalog", zap.Error(err))
		return err
	}

	keys := []string{
		rediskey.BuildListKey(kindActivity), rediskey.BuildListKey(kindQuiz),
		rediskey.BuildListKey(kindChallenge), rediskey.BuildListKey(kindBadge),
	}
	for _, a := range b.Activities {
		keys = append(keys, rediskey.BuildActivityKey(a.ID))
	}
	for _, q := range b.Quizzes {
		keys = append(keys, rediskey.BuildQuizKey(q.ID))
	}
	for _, c := range b.Challenges {
		keys = append(keys, rediskey.BuildChallengeKey(c.ID))
	}
	for _, badge := range b.Badges {
		keys = append(keys, rediskey.BuildBadgeKey(badge.Slug))
	}

	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		logger(ctx).Warn("failed to invalidate catalog cache", zap.Error(err))
	}
	return nil
}
