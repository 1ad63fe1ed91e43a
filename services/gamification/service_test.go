package gamification

import (
	"context"
	"math"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ecoquest/pkg/config"
	"ecoquest/pkg/db/pagination"
	"ecoquest/pkg/errutil"
	"ecoquest/services/catalog"
	"ecoquest/services/progress"
	"ecoquest/services/stats"
	"ecoquest/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	mock.Mock
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, t)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	catalog  *catalog.Service
	progress *progress.Service
	stats    *stats.Service
	svc      *Service
	enqueuer *enqueuerMock
}

func strPtr(s string) *string { return &s }

func options(idx ...int) []*int {
	out := make([]*int, 0, len(idx))
	for _, i := range idx {
		out = append(out, &i)
	}
	return out
}

func demoCatalog() catalog.Bundle {
	return catalog.Bundle{
		Activities: []*catalog.Activity{
			{ID: "act-bike", Name: "Bike to work", Description: "Cycle instead of driving", Category: "transport",
				PointsPerAction: 10, CarbonImpactPerAction: 0.5, Unit: "trip", IsActive: true},
			{ID: "act-retired", Name: "Retired", PointsPerAction: 99, Unit: "x", IsActive: false},
		},
		Quizzes: []*catalog.Quiz{
			{ID: "quiz-1", Title: "Climate Basics", Category: "climate", Difficulty: catalog.DifficultyEasy, PointsReward: 150, IsActive: true,
				Questions: []catalog.Question{
					{Question: "Main greenhouse gas?", Options: []string{"O2", "CO2"}, Correct: 1},
					{Question: "Renewable source?", Options: []string{"Coal", "Solar"}, Correct: 1},
				}},
		},
		Challenges: []*catalog.Challenge{
			{ID: "ch-plastic", Title: "Plastic-Free Week", Description: "Avoid single-use plastic", Category: "waste",
				PointsReward: 200, CarbonImpact: 5.5, DurationDays: 7, BadgeReward: strPtr("Plastic Free Hero"), IsActive: true},
			{ID: "ch-plain", Title: "Lights Out", Description: "Switch off", Category: "energy",
				PointsReward: 50, CarbonImpact: 1, DurationDays: 1, IsActive: true},
		},
		Badges: []*catalog.Badge{
			{ID: "b-plastic", Name: "Plastic Free Hero", Category: "waste", Rarity: catalog.RarityRare, IsActive: true},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	models := append(catalog.Models(), progress.Models()...)
	models = append(models, stats.Models()...)
	models = append(models, Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Stats.LevelStep = 250
	cfg.Auth.JWTSecret = testSecret

	cat := catalog.NewService(catalog.ServiceParams{DB: db, Config: cfg})
	require.NoError(t, cat.Upsert(context.Background(), demoCatalog()))

	prog := progress.NewService(progress.ServiceParams{DB: db, Node: node})
	st, err := stats.NewService(stats.ServiceParams{DB: db, Node: node, Config: cfg, Catalog: cat})
	require.NoError(t, err)

	enq := &enqueuerMock{}
	svc := NewService(ServiceParams{Catalog: cat, Progress: prog, Stats: st, Enqueuer: enq})

	return &fixture{db: db, cfg: cfg, catalog: cat, progress: prog, stats: st, svc: svc, enqueuer: enq}
}

func (f *fixture) profile(t *testing.T, userID string) *stats.UserProfile {
	t.Helper()
	p, err := f.stats.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return p
}

func TestCompleteQuiz(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CompleteQuiz(context.Background(), "user-1", CompleteQuizRequest{QuizID: "quiz-1", Answers: options(1, 0)})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.EqualValues(t, 50, resp.Score)
	require.EqualValues(t, 75, resp.PointsEarned)
	require.Equal(t, 1, resp.CorrectAnswers)
	require.Equal(t, 2, resp.TotalQuestions)
	require.Equal(t, "Great job! You scored 50% and earned 75 eco points!", resp.Message)
	require.False(t, resp.Degraded)

	require.EqualValues(t, 75, f.profile(t, "user-1").EcoPoints)
}

func TestCompleteQuizErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CompleteQuiz(ctx, "user-1", CompleteQuizRequest{QuizID: "quiz-1"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
	require.Equal(t, "Missing required fields: quizId and answers", errutil.MessageOf(err))

	_, err = f.svc.CompleteQuiz(ctx, "user-1", CompleteQuizRequest{QuizID: "nope", Answers: options()})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	require.Equal(t, "Quiz not found", errutil.MessageOf(err))

	_, err = f.svc.CompleteQuiz(ctx, "user-1", CompleteQuizRequest{QuizID: "quiz-1", Answers: []*int{options(1)[0], nil}})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
	require.Equal(t, "Answer 2 must be an option index", errutil.MessageOf(err))

	// an empty submission is scored, not rejected
	resp, err := f.svc.CompleteQuiz(ctx, "user-1", CompleteQuizRequest{QuizID: "quiz-1", Answers: options()})
	require.NoError(t, err)
	require.EqualValues(t, 0, resp.Score)
}

func TestLogActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.LogActivity(ctx, "user-1", LogActivityRequest{ActivityID: "act-bike"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Activity.Quantity)
	require.EqualValues(t, 10, resp.PointsEarned)

	three := 3
	resp, err = f.svc.LogActivity(ctx, "user-1", LogActivityRequest{ActivityID: "act-bike", Quantity: &three, Notes: strPtr("commute")})
	require.NoError(t, err)
	require.EqualValues(t, 30, resp.PointsEarned)
	require.InDelta(t, 1.5, resp.CarbonSaved, 1e-9)
	require.Equal(t, "Great job! You earned 30 eco points and saved 1.5kg of CO2!", resp.Message)
	require.Equal(t, LoggedActivity{Name: "Bike to work", Description: "Cycle instead of driving", Quantity: 3, Unit: "trip"}, resp.Activity)

	p := f.profile(t, "user-1")
	require.EqualValues(t, 40, p.EcoPoints)
	require.InDelta(t, 2.0, p.CarbonFootprintSaved, 1e-9)
	require.EqualValues(t, 0, p.TotalQuestsCompleted)
}

func TestLogActivityErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogActivity(ctx, "user-1", LogActivityRequest{})
	require.Equal(t, "Missing required field: activityId", errutil.MessageOf(err))

	_, err = f.svc.LogActivity(ctx, "user-1", LogActivityRequest{ActivityID: "act-retired"})
	require.Equal(t, "Activity not found", errutil.MessageOf(err))

	zero := 0
	_, err = f.svc.LogActivity(ctx, "user-1", LogActivityRequest{ActivityID: "act-bike", Quantity: &zero})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	huge := math.MaxInt64/10 + 1
	_, err = f.svc.LogActivity(ctx, "user-1", LogActivityRequest{ActivityID: "act-bike", Quantity: &huge})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	var logged int64
	require.NoError(t, f.db.Model(&progress.UserActivity{}).Count(&logged).Error)
	require.Zero(t, logged)
	require.Zero(t, f.profile(t, "user-1").EcoPoints)
}

func TestStartChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{ChallengeID: "ch-plastic"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, `Challenge "Plastic-Free Week" started! You have 7 days to complete it.`, resp.Message)
	require.Equal(t, &StartedChallenge{Title: "Plastic-Free Week", Description: "Avoid single-use plastic", DurationDays: 7, PointsReward: 200, CarbonImpact: 5.5}, resp.Challenge)

	resp, err = f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{ChallengeID: "ch-plastic"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.True(t, resp.Existing)
	require.Equal(t, "You already have this challenge active!", resp.Message)

	_, err = f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{})
	require.Equal(t, "Missing required field: challengeId", errutil.MessageOf(err))

	_, err = f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{ChallengeID: "nope"})
	require.Equal(t, "Challenge not found", errutil.MessageOf(err))
}

func TestCompleteChallengeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{ChallengeID: "ch-plastic"})
	require.NoError(t, err)

	resp, err := f.svc.CompleteChallenge(ctx, "user-1", CompleteChallengeRequest{
		ChallengeID:    "ch-plastic",
		CompletionData: []byte(`{"photos":2}`),
	})
	require.NoError(t, err)
	require.Equal(t, `Congratulations! You completed "Plastic-Free Week"!`, resp.Message)
	require.EqualValues(t, 200, resp.PointsEarned)
	require.InDelta(t, 5.5, resp.CarbonSaved, 1e-9)
	require.Equal(t, "Plastic Free Hero", *resp.BadgeAwarded)
	require.False(t, resp.Degraded)

	_, err = f.svc.CompleteChallenge(ctx, "user-1", CompleteChallengeRequest{ChallengeID: "ch-plastic"})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	require.Equal(t, "Active challenge not found", errutil.MessageOf(err))

	p := f.profile(t, "user-1")
	require.EqualValues(t, 200, p.EcoPoints)
	require.EqualValues(t, 1, p.TotalQuestsCompleted)
	require.Equal(t, []string{"b-plastic"}, []string(p.BadgesEarned))
}

func TestCompleteChallengeWithoutBadge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartChallenge(ctx, "user-1", StartChallengeRequest{ChallengeID: "ch-plain"})
	require.NoError(t, err)

	resp, err := f.svc.CompleteChallenge(ctx, "user-1", CompleteChallengeRequest{ChallengeID: "ch-plain"})
	require.NoError(t, err)
	require.Nil(t, resp.BadgeAwarded)
	require.Empty(t, f.profile(t, "user-1").BadgesEarned)
}

func TestDegradedWhenStatsFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Migrator().DropTable(&stats.UserProfile{}))
	f.enqueuer.On("Enqueue", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == stats.TypeApplyDelta
	})).Return(&asynq.TaskInfo{}, nil).Once()

	resp, err := f.svc.CompleteQuiz(ctx, "user-1", CompleteQuizRequest{QuizID: "quiz-1", Answers: options(1, 1)})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, resp.Degraded)
	require.EqualValues(t, 150, resp.PointsEarned)

	attempts, _, err := f.progress.ListQuizAttempts(ctx, "user-1", pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	f.enqueuer.AssertExpectations(t)
}

func TestPostWriteFailuresAreBadGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// unknown badges are not retried
	err := f.svc.awardBadge(ctx, "user-1", "No Such Badge")
	require.Equal(t, errutil.StatusBadGateway, errutil.StatusOf(err))
	require.Equal(t, "failed to award badge", errutil.MessageOf(err))
	f.enqueuer.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)

	require.NoError(t, f.svc.awardBadge(ctx, "user-1", "Plastic Free Hero"))

	require.NoError(t, f.db.Migrator().DropTable(&stats.UserProfile{}))
	f.enqueuer.On("Enqueue", mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)

	err = f.svc.applyDelta(ctx, stats.Delta{UserID: "user-1", Points: 5, ReferenceID: "user_activity:1", Source: stats.SourceUserActivity})
	require.Equal(t, errutil.StatusBadGateway, errutil.StatusOf(err))
	require.Equal(t, "failed to update user stats", errutil.MessageOf(err))

	err = f.svc.awardBadge(ctx, "user-2", "Plastic Free Hero")
	require.Equal(t, errutil.StatusBadGateway, errutil.StatusOf(err))
	f.enqueuer.AssertNumberOfCalls(t, "Enqueue", 2)
}
