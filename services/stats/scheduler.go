package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecoquest/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeExpireStreaks = "stats:expire_streaks"

type ExpireStreaksPayload struct {
	Day string `json:"day"`
}

// NewExpireStreaksTask builds the sweep for day. One task per day is
// accepted however many workers schedule it.
func NewExpireStreaksTask(day string) (*asynq.Task, error) {
	payload, err := json.Marshal(ExpireStreaksPayload{Day: day})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeExpireStreaks, payload,
		asynq.MaxRetry(3),
		asynq.Queue(task.QueueDefault),
		asynq.TaskID(TypeExpireStreaks+":"+day),
		asynq.Retention(48*time.Hour),
	), nil
}

// ExpireStreaks zeroes the streak of every profile that missed yesterday.
func (s *Service) ExpireStreaks(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	cutoff := streakCutoff(now, s.loc)

	res := s.db.WithContext(ctx).Model(&UserProfile{}).
		Where("streak_days > 0 AND last_activity_at < ?", cutoff.UTC()).
		Updates(map[string]any{"streak_days": 0, "updated_at": now})
	if res.Error != nil {
		zap.L().Error("failed to expire streaks", zap.Error(res.Error))
		return 0, res.Error
	}

	zap.L().Info("streaks expired", zap.Int64("profiles", res.RowsAffected), zap.Time("cutoff", cutoff))
	return res.RowsAffected, nil
}

func (t *Task) HandleExpireStreaksTask(ctx context.Context, at *asynq.Task) error {
	_, err := t.svc.ExpireStreaks(ctx)
	return err
}

type Scheduler struct {
	svc      *Service
	enqueuer task.Enqueuer
	cancel   context.CancelFunc
}

type SchedulerParams struct {
	fx.In
	Service  *Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{svc: p.Service, enqueuer: p.Enqueuer}
}

// StartScheduler runs the daily streak sweep for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if s.cancel != nil {
				s.cancel()
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started streak expiry scheduler")

	for {
		now := time.Now().In(s.svc.loc)
		next := nextRunTime(now, 0, 5)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			if err := s.runDaily(ctx, next); err != nil {
				zap.L().Error("[Scheduler] failed to schedule streak expiry", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, at time.Time) error {
	if s.enqueuer == nil {
		_, err := s.svc.ExpireStreaks(ctx)
		return err
	}

	t, err := NewExpireStreaksTask(at.Format(time.DateOnly))
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", TypeExpireStreaks, err)
	}
	return nil
}

// nextRunTime returns the next hour:minute after now, in now's location.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
