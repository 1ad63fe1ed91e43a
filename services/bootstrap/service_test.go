package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecoquest/pkg/celengine"
	"ecoquest/pkg/config"
	"ecoquest/services/catalog"
	"ecoquest/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Database.AutoMigrate = true
	cfg.Catalog.SeedOnStart = true

	return NewService(ServiceParams{
		DB:      db,
		Config:  cfg,
		Catalog: catalog.NewService(catalog.ServiceParams{DB: db, Config: cfg}),
	})
}

func TestRunMigratesAndSeeds(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	require.NoError(t, svc.Run(ctx))
	for _, m := range Models() {
		require.True(t, svc.db.Migrator().HasTable(m))
	}

	activities, err := svc.catalog.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, activities, len(catalog.DefaultBundle().Activities))

	// a second start leaves the catalog alone
	require.NoError(t, svc.Run(ctx))
	var count int64
	require.NoError(t, svc.db.Model(&catalog.Badge{}).Count(&count).Error)
	require.EqualValues(t, len(catalog.DefaultBundle().Badges), count)
}

func TestDefaultBundleIsConsistent(t *testing.T) {
	bundle := catalog.DefaultBundle()
	vars := catalog.RequirementVariables()

	names := map[string]bool{}
	for _, b := range bundle.Badges {
		names[b.Name] = true
		if expr := b.Requirements.Data().Expression; expr != "" {
			require.NoError(t, celengine.ValidateExpression(expr, vars), b.Name)
		}
	}
	for _, c := range bundle.Challenges {
		if c.BadgeReward != nil {
			require.True(t, names[*c.BadgeReward], "challenge %s rewards unknown badge %s", c.ID, *c.BadgeReward)
		}
	}
	for _, q := range bundle.Quizzes {
		require.NotEmpty(t, q.Questions, q.ID)
		for _, question := range q.Questions {
			require.Less(t, question.Correct, len(question.Options))
		}
	}
}
