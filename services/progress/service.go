package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ecoquest/pkg/db/option"
	"ecoquest/pkg/db/pagination"
	"ecoquest/pkg/errutil"
	applog "ecoquest/pkg/logger"
	"ecoquest/pkg/repository"
	"ecoquest/services/catalog"
	"ecoquest/services/scoring"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNoActiveChallenge = errors.New("no active challenge progress")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	quizAttempt repository.Repository[QuizAttempt]
	activity    repository.Repository[UserActivity]
	challenge   repository.Repository[ChallengeProgress]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		quizAttempt: repository.ProvideStore[QuizAttempt](p.DB),
		activity:    repository.ProvideStore[UserActivity](p.DB),
		challenge:   repository.ProvideStore[ChallengeProgress](p.DB),
	}
}

func logger(ctx context.Context, userID string) *zap.Logger {
	return applog.FromContext(ctx, zap.String("user_id", userID))
}

type StartResult struct {
	Progress      *ChallengeProgress
	AlreadyActive bool
}

// StartChallenge opens a run of challenge for userID. An existing active run
// is reported through AlreadyActive rather than as an error.
func (s *Service) StartChallenge(ctx context.Context, userID string, challenge *catalog.Challenge) (*StartResult, error) {
	log := logger(ctx, userID).With(zap.String("challenge_id", challenge.ID))
	query := &ChallengeProgress{UserID: userID, ChallengeID: challenge.ID, Status: ChallengeStatusActive}

	// pre-check only; the unique active_key decides under concurrency
	existing, err := s.challenge.FindOne(ctx, query)
	if err != nil {
		log.Error("failed to query active challenge", zap.Error(err))
		return nil, errutil.Internal("Failed to start challenge", err)
	}
	if existing != nil {
		return &StartResult{Progress: existing, AlreadyActive: true}, nil
	}

	startedAt := s.now().UTC()
	envelope := ProgressEnvelope{
		Version:      ProgressVersion,
		Category:     challenge.Category,
		DurationDays: challenge.DurationDays,
	}
	if challenge.DurationDays > 0 {
		expiresAt := startedAt.AddDate(0, 0, challenge.DurationDays)
		envelope.ExpiresAt = &expiresAt
	}

	key := ActiveKey(userID, challenge.ID)
	row := &ChallengeProgress{
		ID:          s.node.Generate().String(),
		UserID:      userID,
		ChallengeID: challenge.ID,
		Status:      ChallengeStatusActive,
		ActiveKey:   &key,
		Progress:    datatypes.NewJSONType(envelope),
		StartedAt:   startedAt,
		CreatedAt:   startedAt,
	}

	if err := s.challenge.Create(ctx, row); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Info("concurrent start collapsed onto existing run")
			existing, findErr := s.challenge.FindOne(ctx, query)
			if findErr != nil {
				return nil, errutil.Internal("Failed to start challenge", findErr)
			}
			return &StartResult{Progress: existing, AlreadyActive: true}, nil
		}
		log.Error("failed to insert challenge progress", zap.Error(err))
		return nil, errutil.Internal("Failed to start challenge", err)
	}

	log.Info("challenge started", zap.String("progress_id", row.ID))
	return &StartResult{Progress: row}, nil
}

// CompleteChallenge moves the active run of challenge to completed and
// stamps reward on it. The transition is a conditional update, so of two
// concurrent calls exactly one succeeds; the other gets NotFound.
func (s *Service) CompleteChallenge(ctx context.Context, userID string, challenge *catalog.Challenge, reward scoring.Reward, completionData json.RawMessage) (*ChallengeProgress, error) {
	log := logger(ctx, userID).With(zap.String("challenge_id", challenge.ID))

	var completed *ChallengeProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.challenge.WithTrx(tx).FindOne(ctx, &ChallengeProgress{
			UserID:      userID,
			ChallengeID: challenge.ID,
			Status:      ChallengeStatusActive,
		}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNoActiveChallenge
		}

		envelope := row.Progress.Data()
		if envelope.Version == 0 {
			envelope.Version = ProgressVersion
		}
		if len(completionData) > 0 && string(completionData) != "null" {
			envelope.CompletionData = completionData
		}

		completedAt := s.now().UTC()
		res := tx.Model(&ChallengeProgress{}).
			Where("id = ? AND status = ?", row.ID, ChallengeStatusActive).
			Updates(map[string]any{
				"status":        ChallengeStatusCompleted,
				"active_key":    nil,
				"completed_at":  completedAt,
				"points_earned": reward.PointsEarned,
				"carbon_saved":  reward.CarbonSaved,
				"progress":      datatypes.NewJSONType(envelope),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoActiveChallenge
		}

		row.Status = ChallengeStatusCompleted
		row.ActiveKey = nil
		row.CompletedAt = &completedAt
		row.PointsEarned = reward.PointsEarned
		row.CarbonSaved = reward.CarbonSaved
		row.Progress = datatypes.NewJSONType(envelope)
		completed = row
		return nil
	})
	if errors.Is(err, ErrNoActiveChallenge) {
		return nil, errutil.NotFound("Active challenge not found", err)
	}
	if err != nil {
		log.Error("failed to complete challenge", zap.Error(err))
		return nil, errutil.Internal("Failed to complete challenge", err)
	}

	log.Info("challenge completed", zap.String("progress_id", completed.ID), zap.Int64("points", reward.PointsEarned))
	return completed, nil
}

type QuizAttemptParams struct {
	UserID    string
	QuizID    string
	Answers   []int
	TimeTaken *int
	Score     scoring.QuizScore
}

// RecordQuizAttempt appends an attempt. Quizzes are repeatable, so no
// uniqueness is enforced.
func (s *Service) RecordQuizAttempt(ctx context.Context, p QuizAttemptParams) (*QuizAttempt, error) {
	now := s.now().UTC()
	row := &QuizAttempt{
		ID:             s.node.Generate().String(),
		UserID:         p.UserID,
		QuizID:         p.QuizID,
		Answers:        datatypes.JSONSlice[int](p.Answers),
		Score:          p.Score.Score,
		TotalQuestions: p.Score.TotalQuestions,
		CorrectAnswers: p.Score.CorrectAnswers,
		PointsEarned:   p.Score.PointsEarned,
		TimeTaken:      p.TimeTaken,
		CompletedAt:    now,
		CreatedAt:      now,
	}
	if row.Answers == nil {
		row.Answers = datatypes.JSONSlice[int]{}
	}

	if err := s.quizAttempt.Create(ctx, row); err != nil {
		logger(ctx, p.UserID).Error("failed to record quiz attempt", zap.String("quiz_id", p.QuizID), zap.Error(err))
		return nil, errutil.Internal("Failed to record quiz attempt", err)
	}
	return row, nil
}

type ActivityParams struct {
	UserID     string
	ActivityID string
	Quantity   int
	Notes      *string
	Reward     scoring.Reward
}

func (s *Service) RecordActivity(ctx context.Context, p ActivityParams) (*UserActivity, error) {
	now := s.now().UTC()
	row := &UserActivity{
		ID:           s.node.Generate().String(),
		UserID:       p.UserID,
		ActivityID:   p.ActivityID,
		Quantity:     p.Quantity,
		PointsEarned: p.Reward.PointsEarned,
		CarbonSaved:  p.Reward.CarbonSaved,
		Notes:        p.Notes,
		LoggedAt:     now,
		CreatedAt:    now,
	}

	if err := s.activity.Create(ctx, row); err != nil {
		logger(ctx, p.UserID).Error("failed to log activity", zap.String("activity_id", p.ActivityID), zap.Error(err))
		return nil, errutil.Internal("Failed to log activity", err)
	}
	return row, nil
}

// ListChallenges pages through the runs of userID, newest first. An empty
// status returns every run.
func (s *Service) ListChallenges(ctx context.Context, userID string, status ChallengeStatus, p pagination.Pagination) ([]*ChallengeProgress, *pagination.PageInfo, error) {
	rows, err := s.challenge.Find(ctx, &ChallengeProgress{UserID: userID, Status: status}, option.ApplyPagination(p))
	if err != nil {
		return nil, nil, listError(ctx, userID, "challenges", err)
	}
	rows, info := pagination.BuildCursorPage(rows, p.Limit, func(r *ChallengeProgress) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return rows, info, nil
}

func (s *Service) ListQuizAttempts(ctx context.Context, userID string, p pagination.Pagination) ([]*QuizAttempt, *pagination.PageInfo, error) {
	rows, err := s.quizAttempt.Find(ctx, &QuizAttempt{UserID: userID}, option.ApplyPagination(p))
	if err != nil {
		return nil, nil, listError(ctx, userID, "quiz attempts", err)
	}
	rows, info := pagination.BuildCursorPage(rows, p.Limit, func(r *QuizAttempt) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return rows, info, nil
}

func (s *Service) ListActivities(ctx context.Context, userID string, p pagination.Pagination) ([]*UserActivity, *pagination.PageInfo, error) {
	rows, err := s.activity.Find(ctx, &UserActivity{UserID: userID}, option.ApplyPagination(p))
	if err != nil {
		return nil, nil, listError(ctx, userID, "activities", err)
	}
	rows, info := pagination.BuildCursorPage(rows, p.Limit, func(r *UserActivity) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return rows, info, nil
}

func listError(ctx context.Context, userID, what string, err error) error {
	if errors.Is(err, option.ErrInvalidCursor) {
		return errutil.BadRequest("invalid cursor", err)
	}
	logger(ctx, userID).Error("failed to list "+what, zap.Error(err))
	return errutil.Internal("failed to list "+what, err)
}
