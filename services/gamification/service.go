package gamification

import (
	"context"
	"fmt"
	"strconv"

	"ecoquest/pkg/errutil"
	applog "ecoquest/pkg/logger"
	"ecoquest/pkg/task"
	"ecoquest/services/catalog"
	"ecoquest/services/progress"
	"ecoquest/services/scoring"
	"ecoquest/services/stats"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service runs the four scoring flows: resolve the catalog row, score, write
// the ledger fact, then fold the reward into the profile. The ledger fact is
// authoritative; a failure after it is written degrades the response instead
// of failing it.
type Service struct {
	catalog  *catalog.Service
	progress *progress.Service
	stats    *stats.Service
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	Catalog  *catalog.Service
	Progress *progress.Service
	Stats    *stats.Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		catalog:  p.Catalog,
		progress: p.Progress,
		stats:    p.Stats,
		enqueuer: p.Enqueuer,
	}
}

func logger(ctx context.Context, userID string) *zap.Logger {
	return applog.FromContext(ctx, zap.String("user_id", userID))
}

func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// applyDelta folds d into the profile after its fact was recorded. A failure
// is returned as BadGateway and the update is queued for retry; callers
// report it as degraded instead of failing the request.
func (s *Service) applyDelta(ctx context.Context, d stats.Delta) error {
	log := logger(ctx, d.UserID).With(zap.String("reference_id", d.ReferenceID))

	res, err := s.stats.ApplyDelta(ctx, d)
	if err != nil {
		err = errutil.BadGateway("failed to update user stats", err)
		log.Error("stats step deferred", zap.Error(err))
		s.enqueueDelta(ctx, d)
		return err
	}

	if !res.Duplicate {
		if awarded, err := s.stats.EvaluateBadges(ctx, d.UserID); err != nil {
			log.Warn("failed to evaluate badges", zap.Error(err))
		} else if len(awarded) > 0 {
			log.Info("badges unlocked", zap.Strings("badges", awarded))
		}
	}
	return nil
}

func (s *Service) enqueueDelta(ctx context.Context, d stats.Delta) {
	log := logger(ctx, d.UserID).With(zap.String("reference_id", d.ReferenceID))
	if s.enqueuer == nil {
		log.Warn("no task queue configured, stats update dropped")
		return
	}

	t, err := stats.NewApplyDeltaTask(d)
	if err != nil {
		log.Error("failed to build stats task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		log.Error("failed to enqueue stats task", zap.Error(err))
		return
	}
	log.Info("stats update queued for retry")
}

func (s *Service) awardBadge(ctx context.Context, userID, badgeName string) error {
	log := logger(ctx, userID).With(zap.String("badge", badgeName))

	_, err := s.stats.AwardBadge(ctx, userID, badgeName)
	if err == nil {
		return nil
	}
	retry := errutil.StatusOf(err) != errutil.StatusNotFound
	err = errutil.BadGateway("failed to award badge", err)
	log.Error("badge step deferred", zap.Error(err), zap.Bool("retry", retry))
	if !retry || s.enqueuer == nil {
		return err
	}

	t, terr := stats.NewAwardBadgeTask(stats.AwardBadgePayload{UserID: userID, BadgeName: badgeName})
	if terr == nil {
		_, terr = s.enqueuer.Enqueue(ctx, t)
	}
	if terr != nil {
		log.Error("failed to enqueue badge task", zap.Error(terr))
	}
	return err
}

func (s *Service) CompleteQuiz(ctx context.Context, userID string, req CompleteQuizRequest) (*CompleteQuizResponse, error) {
	if req.QuizID == "" || req.Answers == nil {
		return nil, errutil.ValidationFailed("Missing required fields: quizId and answers", nil)
	}
	answers, err := req.optionIndexes()
	if err != nil {
		return nil, err
	}
	log := logger(ctx, userID).With(zap.String("quiz_id", req.QuizID))
	log.Info("processing quiz completion")

	quiz, err := s.catalog.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	score, err := scoring.ScoreQuiz(quiz.Questions, answers, quiz.PointsReward)
	if err != nil {
		return nil, err
	}

	attempt, err := s.progress.RecordQuizAttempt(ctx, progress.QuizAttemptParams{
		UserID:    userID,
		QuizID:    quiz.ID,
		Answers:   answers,
		TimeTaken: req.TimeTaken,
		Score:     score,
	})
	if err != nil {
		return nil, err
	}

	statsErr := s.applyDelta(ctx, stats.Delta{
		UserID:      userID,
		Points:      score.PointsEarned,
		ReferenceID: stats.ReferenceID(stats.SourceQuizAttempt, attempt.ID),
		Source:      stats.SourceQuizAttempt,
	})
	degraded := statsErr != nil

	log.Info("quiz completed",
		zap.Int64("score", score.Score),
		zap.Int64("points_earned", score.PointsEarned),
		zap.Int("correct_answers", score.CorrectAnswers),
		zap.Int("total_questions", score.TotalQuestions),
	)

	return &CompleteQuizResponse{
		Success:        true,
		Score:          score.Score,
		CorrectAnswers: score.CorrectAnswers,
		TotalQuestions: score.TotalQuestions,
		PointsEarned:   score.PointsEarned,
		Message:        fmt.Sprintf("Great job! You scored %d%% and earned %d eco points!", score.Score, score.PointsEarned),
		Degraded:       degraded,
	}, nil
}

func (s *Service) LogActivity(ctx context.Context, userID string, req LogActivityRequest) (*LogActivityResponse, error) {
	if req.ActivityID == "" {
		return nil, errutil.ValidationFailed("Missing required field: activityId", nil)
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	log := logger(ctx, userID).With(zap.String("activity_id", req.ActivityID))
	log.Info("logging activity")

	activity, err := s.catalog.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return nil, err
	}

	reward, err := scoring.ScoreActivity(activity, quantity)
	if err != nil {
		return nil, err
	}

	entry, err := s.progress.RecordActivity(ctx, progress.ActivityParams{
		UserID:     userID,
		ActivityID: activity.ID,
		Quantity:   quantity,
		Notes:      req.Notes,
		Reward:     reward,
	})
	if err != nil {
		return nil, err
	}

	statsErr := s.applyDelta(ctx, stats.Delta{
		UserID:      userID,
		Points:      reward.PointsEarned,
		CarbonSaved: reward.CarbonSaved,
		ReferenceID: stats.ReferenceID(stats.SourceUserActivity, entry.ID),
		Source:      stats.SourceUserActivity,
	})
	degraded := statsErr != nil

	log.Info("activity logged",
		zap.Int64("points_earned", reward.PointsEarned),
		zap.Float64("carbon_saved", reward.CarbonSaved),
		zap.Int("quantity", quantity),
	)

	return &LogActivityResponse{
		Success:      true,
		Message:      fmt.Sprintf("Great job! You earned %d eco points and saved %skg of CO2!", reward.PointsEarned, formatKg(reward.CarbonSaved)),
		PointsEarned: reward.PointsEarned,
		CarbonSaved:  reward.CarbonSaved,
		Activity: LoggedActivity{
			Name:        activity.Name,
			Description: activity.Description,
			Quantity:    quantity,
			Unit:        activity.Unit,
		},
		Degraded: degraded,
	}, nil
}

func (s *Service) StartChallenge(ctx context.Context, userID string, req StartChallengeRequest) (*StartChallengeResponse, error) {
	if req.ChallengeID == "" {
		return nil, errutil.ValidationFailed("Missing required field: challengeId", nil)
	}

	challenge, err := s.catalog.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}

	res, err := s.progress.StartChallenge(ctx, userID, challenge)
	if err != nil {
		return nil, err
	}
	if res.AlreadyActive {
		return &StartChallengeResponse{
			Success:  false,
			Message:  "You already have this challenge active!",
			Existing: true,
		}, nil
	}

	return &StartChallengeResponse{
		Success: true,
		Message: fmt.Sprintf("Challenge \"%s\" started! You have %d days to complete it.", challenge.Title, challenge.DurationDays),
		Challenge: &StartedChallenge{
			Title:        challenge.Title,
			Description:  challenge.Description,
			DurationDays: challenge.DurationDays,
			PointsReward: challenge.PointsReward,
			CarbonImpact: challenge.CarbonImpact,
		},
	}, nil
}

func (s *Service) CompleteChallenge(ctx context.Context, userID string, req CompleteChallengeRequest) (*CompleteChallengeResponse, error) {
	if req.ChallengeID == "" {
		return nil, errutil.ValidationFailed("Missing required field: challengeId", nil)
	}
	log := logger(ctx, userID).With(zap.String("challenge_id", req.ChallengeID))

	challenge, err := s.catalog.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}

	reward := scoring.ScoreChallenge(challenge)
	run, err := s.progress.CompleteChallenge(ctx, userID, challenge, reward, req.CompletionData)
	if err != nil {
		return nil, err
	}

	statsErr := s.applyDelta(ctx, stats.Delta{
		UserID:         userID,
		Points:         reward.PointsEarned,
		CarbonSaved:    reward.CarbonSaved,
		QuestCompleted: true,
		ReferenceID:    stats.ReferenceID(stats.SourceChallengeProgress, run.ID),
		Source:         stats.SourceChallengeProgress,
	})
	degraded := statsErr != nil

	if challenge.BadgeReward != nil && *challenge.BadgeReward != "" {
		if err := s.awardBadge(ctx, userID, *challenge.BadgeReward); err != nil {
			degraded = true
		}
	}

	log.Info("challenge completed",
		zap.Int64("points_earned", reward.PointsEarned),
		zap.Float64("carbon_saved", reward.CarbonSaved),
		zap.Bool("degraded", degraded),
	)

	return &CompleteChallengeResponse{
		Success:      true,
		Message:      fmt.Sprintf("Congratulations! You completed \"%s\"!", challenge.Title),
		PointsEarned: reward.PointsEarned,
		CarbonSaved:  reward.CarbonSaved,
		BadgeAwarded: challenge.BadgeReward,
		Challenge: CompletedChallenge{
			Title:       challenge.Title,
			Description: challenge.Description,
		},
		Degraded: degraded,
	}, nil
}
