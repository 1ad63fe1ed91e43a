package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"ecoquest/pkg/config"
	"ecoquest/pkg/errutil"
	"ecoquest/services/catalog"
	"ecoquest/services/scoring"
	"ecoquest/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type badgeCatalogMock struct {
	badges []*catalog.Badge
}

func (m *badgeCatalogMock) GetBadgeByName(_ context.Context, name string) (*catalog.Badge, error) {
	for _, b := range m.badges {
		if b.Name == name || b.Slug == name {
			return b, nil
		}
	}
	return nil, errutil.NotFound("Badge not found", nil)
}

func (m *badgeCatalogMock) ListBadges(context.Context) ([]*catalog.Badge, error) {
	return m.badges, nil
}

type flagMock struct {
	enabled bool
}

func (m flagMock) IsEnabled(context.Context, string, string, bool) bool {
	return m.enabled
}

func int64Ptr(v int64) *int64 { return &v }

func sampleBadges() []*catalog.Badge {
	return []*catalog.Badge{
		{ID: "b-eco-warrior", Name: "Eco Warrior", Slug: "eco-warrior", PointsRequired: int64Ptr(100), IsActive: true},
		{ID: "b-streak", Name: "On Fire", Slug: "on-fire", IsActive: true,
			Requirements: datatypes.NewJSONType(catalog.Requirement{Expression: "streak_days >= 2"})},
		{ID: "b-plastic", Name: "Plastic Free Hero", Slug: "plastic-free-hero", IsActive: true},
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Stats.LevelStep = 250
	cfg.Stats.Timezone = "UTC"
	cfg.Stats.AutoAwardBadges = true

	svc, err := NewService(ServiceParams{DB: db, Node: node, Config: cfg})
	require.NoError(t, err)
	svc.badges = &badgeCatalogMock{badges: sampleBadges()}
	return svc
}

func fixedClock(svc *Service, at time.Time) *time.Time {
	now := at
	svc.now = func() time.Time { return now }
	return &now
}

func TestApplyDeltaQuizExample(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	questions := []catalog.Question{
		{Question: "q1", Options: []string{"a", "b"}, Correct: 1},
		{Question: "q2", Options: []string{"a", "b"}, Correct: 1},
	}
	score, err := scoring.ScoreQuiz(questions, []int{1, 0}, 150)
	require.NoError(t, err)
	require.EqualValues(t, 50, score.Score)
	require.EqualValues(t, 75, score.PointsEarned)

	res, err := svc.ApplyDelta(ctx, Delta{
		UserID:      "user-1",
		Points:      score.PointsEarned,
		ReferenceID: ReferenceID(SourceQuizAttempt, "qa-1"),
		Source:      SourceQuizAttempt,
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.EqualValues(t, 75, res.Profile.EcoPoints)
	require.EqualValues(t, 1, res.Profile.Level)
	require.EqualValues(t, 1, res.Profile.StreakDays)
	require.EqualValues(t, 0, res.Profile.TotalQuestsCompleted)
	require.EqualValues(t, 1, res.Entry.Seq)
	require.Equal(t, GenesisHash, res.Entry.PreviousHash)
}

func TestApplyDeltaAccumulates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 200, CarbonSaved: 1.5, ReferenceID: "user_activity:a1"})
	require.NoError(t, err)
	res, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 100, CarbonSaved: 5.5, QuestCompleted: true, ReferenceID: "challenge_progress:c1"})
	require.NoError(t, err)

	require.EqualValues(t, 300, res.Profile.EcoPoints)
	require.InDelta(t, 7.0, res.Profile.CarbonFootprintSaved, 1e-9)
	require.EqualValues(t, 1, res.Profile.TotalQuestsCompleted)
	require.EqualValues(t, 2, res.Profile.Level)
	require.EqualValues(t, 2, res.Entry.Seq)
}

func TestApplyDeltaDuplicateReference(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	d := Delta{UserID: "user-1", Points: 40, ReferenceID: "quiz_attempt:qa-1"}
	_, err := svc.ApplyDelta(ctx, d)
	require.NoError(t, err)

	res, err := svc.ApplyDelta(ctx, d)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.EqualValues(t, 40, res.Profile.EcoPoints)

	n, err := svc.entry.Count(ctx, &PointEntry{UserID: "user-1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestApplyDeltaValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tests := []struct {
		name  string
		delta Delta
	}{
		{"missing user", Delta{Points: 1, ReferenceID: "r"}},
		{"missing reference", Delta{UserID: "u", Points: 1}},
		{"negative points", Delta{UserID: "u", Points: -1, ReferenceID: "r"}},
		{"negative carbon", Delta{UserID: "u", CarbonSaved: -0.5, ReferenceID: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyDelta(ctx, tt.delta)
			require.Error(t, err)
			require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
		})
	}
}

func TestApplyDeltaConcurrent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ApplyDelta(ctx, Delta{
				UserID:      "user-1",
				Points:      10,
				CarbonSaved: 0.5,
				ReferenceID: fmt.Sprintf("user_activity:%d", i),
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	profile, err := svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, n*10, profile.EcoPoints)
	require.InDelta(t, n*0.5, profile.CarbonFootprintSaved, 1e-9)

	report, err := svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.Equal(t, n, report.Entries)
}

func TestApplyDeltaStreak(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	now := fixedClock(svc, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))

	apply := func(ref string) *UserProfile {
		res, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 5, ReferenceID: ref})
		require.NoError(t, err)
		return res.Profile
	}

	require.EqualValues(t, 1, apply("r1").StreakDays)

	*now = now.Add(1 * time.Hour)
	require.EqualValues(t, 1, apply("r2").StreakDays, "same day keeps the streak")

	*now = now.Add(3 * time.Hour)
	require.EqualValues(t, 2, apply("r3").StreakDays, "next calendar day extends it")

	*now = now.Add(72 * time.Hour)
	require.EqualValues(t, 1, apply("r4").StreakDays, "a gap resets it")
}

func TestApplyDeltaLevelNeverDecreases(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	res, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 600, ReferenceID: "r1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Profile.Level)

	// a stricter policy must not demote an existing profile
	svc.levelOf = StepLevels(1000)
	res, err = svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 10, ReferenceID: "r2"})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Profile.Level)
}

func TestNextStreak(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	day := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }
	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name    string
		current int64
		last    *time.Time
		now     time.Time
		loc     *time.Location
		want    int64
	}{
		{"first activity", 0, nil, day(1, 10), time.UTC, 1},
		{"same day", 3, ptr(day(1, 1)), day(1, 23), time.UTC, 3},
		{"same day from zero", 0, ptr(day(1, 1)), day(1, 2), time.UTC, 1},
		{"next day", 3, ptr(day(1, 23)), day(2, 0), time.UTC, 4},
		{"gap", 9, ptr(day(1, 10)), day(3, 10), time.UTC, 1},
		{"future last activity", 4, ptr(day(5, 10)), day(4, 10), time.UTC, 4},
		// 1 Mar 18:00 UTC is 2 Mar 01:00 in Jakarta
		{"zone boundary", 2, ptr(day(1, 10)), day(1, 18), jakarta, 3},
		{"nil location", 2, ptr(day(1, 10)), day(2, 10), nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NextStreak(tt.current, tt.last, tt.now, tt.loc))
		})
	}
}

func TestStepLevels(t *testing.T) {
	levelOf := StepLevels(250)
	require.EqualValues(t, 1, levelOf(-10))
	require.EqualValues(t, 1, levelOf(0))
	require.EqualValues(t, 1, levelOf(249))
	require.EqualValues(t, 2, levelOf(250))
	require.EqualValues(t, 5, levelOf(1000))

	require.EqualValues(t, 2, StepLevels(0)(DefaultLevelStep))

	prev := int64(0)
	for p := int64(0); p < 5000; p += 37 {
		l := levelOf(p)
		require.GreaterOrEqual(t, l, prev)
		prev = l
	}
}

func TestAwardBadge(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	ok, err := svc.AwardBadge(ctx, "user-1", "Plastic Free Hero")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.AwardBadge(ctx, "user-1", "Plastic Free Hero")
	require.NoError(t, err)
	require.False(t, ok)

	profile, err := svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"b-plastic"}, []string(profile.BadgesEarned))

	_, err = svc.AwardBadge(ctx, "user-1", "Unknown")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestEvaluateBadges(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	now := fixedClock(svc, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	_, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 150, ReferenceID: "r1"})
	require.NoError(t, err)

	awarded, err := svc.EvaluateBadges(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"Eco Warrior"}, awarded)

	*now = now.Add(24 * time.Hour)
	_, err = svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 10, ReferenceID: "r2"})
	require.NoError(t, err)

	awarded, err = svc.EvaluateBadges(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"On Fire"}, awarded)

	awarded, err = svc.EvaluateBadges(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, awarded)

	profile, err := svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b-eco-warrior", "b-streak"}, []string(profile.BadgesEarned))
}

func TestEvaluateBadgesDisabled(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	svc.flags = flagMock{enabled: false}

	_, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 500, ReferenceID: "r1"})
	require.NoError(t, err)

	awarded, err := svc.EvaluateBadges(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, awarded)
}

func TestGetProfileDefault(t *testing.T) {
	svc := newService(t)

	profile, err := svc.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, "nobody", profile.UserID)
	require.EqualValues(t, 0, profile.EcoPoints)
	require.EqualValues(t, 1, profile.Level)
	require.Empty(t, profile.BadgesEarned)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for i, pts := range []int64{50, 300, 120} {
		_, err := svc.ApplyDelta(ctx, Delta{UserID: fmt.Sprintf("user-%d", i), Points: pts, ReferenceID: "r"})
		require.NoError(t, err)
	}

	board, err := svc.Leaderboard(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	require.Equal(t, "user-1", board[0].UserID)
	require.Equal(t, 1, board[0].Rank)
	require.Equal(t, "user-2", board[1].UserID)
	require.Equal(t, "user-0", board[2].UserID)

	page, err := svc.Leaderboard(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "user-2", page[0].UserID)
	require.Equal(t, 2, page[0].Rank)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.ApplyDelta(ctx, Delta{UserID: "user-1", Points: 10, ReferenceID: fmt.Sprintf("r%d", i)})
		require.NoError(t, err)
	}

	report, err := svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, report.Valid)
	require.EqualValues(t, 30, report.LedgerPoints)
	require.EqualValues(t, 30, report.ProfilePoints)

	second, err := svc.entry.FindOne(ctx, &PointEntry{UserID: "user-1", Seq: 2})
	require.NoError(t, err)
	require.NoError(t, svc.db.Model(&PointEntry{}).Where("id = ?", second.ID).Update("points", 1000).Error)

	report, err = svc.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, second.ID, report.BrokenAt)
}

func TestHandleApplyDeltaTask(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	handler := NewTask(svc)

	d := Delta{UserID: "user-1", Points: 120, ReferenceID: "user_activity:a1", Source: SourceUserActivity}
	task, err := NewApplyDeltaTask(d)
	require.NoError(t, err)
	require.Equal(t, TypeApplyDelta, task.Type())

	require.NoError(t, handler.HandleApplyDeltaTask(ctx, task))
	// redelivery is a no-op
	require.NoError(t, handler.HandleApplyDeltaTask(ctx, task))

	profile, err := svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 120, profile.EcoPoints)
	require.True(t, profile.HasBadge("b-eco-warrior"))

	err = handler.HandleApplyDeltaTask(ctx, asynq.NewTask(TypeApplyDelta, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))

	bad, err := NewApplyDeltaTask(Delta{UserID: "user-1", Points: -1, ReferenceID: "x"})
	require.NoError(t, err)
	require.True(t, errors.Is(handler.HandleApplyDeltaTask(ctx, bad), asynq.SkipRetry))
}

func TestHandleAwardBadgeTask(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	handler := NewTask(svc)

	task, err := NewAwardBadgeTask(AwardBadgePayload{UserID: "user-1", BadgeName: "Plastic Free Hero"})
	require.NoError(t, err)
	require.NoError(t, handler.HandleAwardBadgeTask(ctx, task))

	missing, err := NewAwardBadgeTask(AwardBadgePayload{UserID: "user-1", BadgeName: "Nope"})
	require.NoError(t, err)
	require.True(t, errors.Is(handler.HandleAwardBadgeTask(ctx, missing), asynq.SkipRetry))
}

func TestExpireStreaks(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	now := fixedClock(svc, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err := svc.ApplyDelta(ctx, Delta{UserID: "idle", Points: 5, ReferenceID: "r1"})
	require.NoError(t, err)

	*now = now.Add(24 * time.Hour)
	_, err = svc.ApplyDelta(ctx, Delta{UserID: "active", Points: 5, ReferenceID: "r1"})
	require.NoError(t, err)

	// 3 Mar: "idle" last played on 1 Mar and missed 2 Mar
	*now = now.Add(24 * time.Hour)
	n, err := svc.ExpireStreaks(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.EqualValues(t, 0, mustProfile(t, svc, "idle").StreakDays)
	require.EqualValues(t, 1, mustProfile(t, svc, "active").StreakDays)

	res, err := svc.ApplyDelta(ctx, Delta{UserID: "idle", Points: 5, ReferenceID: "r2"})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Profile.StreakDays)
}

func mustProfile(t *testing.T, svc *Service, userID string) *UserProfile {
	t.Helper()
	p, err := svc.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return p
}

func TestNextRunTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC), nextRunTime(at, 0, 5))

	at = time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC), nextRunTime(at, 0, 5))
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	m.tasks = append(m.tasks, t)
	return &asynq.TaskInfo{}, m.err
}

func TestSchedulerRunDaily(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	day := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)

	enq := &enqueuerMock{}
	s := NewScheduler(SchedulerParams{Service: svc, Enqueuer: enq})
	require.NoError(t, s.runDaily(ctx, day))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TypeExpireStreaks, enq.tasks[0].Type())
	require.JSONEq(t, `{"day":"2026-03-01"}`, string(enq.tasks[0].Payload()))

	// another worker already queued today's sweep
	enq.err = fmt.Errorf("failed to enqueue task: %w", asynq.ErrTaskIDConflict)
	require.NoError(t, s.runDaily(ctx, day))

	// without a queue the sweep runs inline
	inline := NewScheduler(SchedulerParams{Service: svc})
	require.NoError(t, inline.runDaily(ctx, day))
}

func TestProfileAttributesMatchRequirementVariables(t *testing.T) {
	attrs := (&UserProfile{}).Attributes()
	vars := catalog.RequirementVariables()

	require.Len(t, attrs, len(vars))
	for name, zero := range vars {
		require.Contains(t, attrs, name)
		require.IsType(t, zero, attrs[name], name)
	}
}
