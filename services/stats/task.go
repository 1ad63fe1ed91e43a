package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ecoquest/pkg/errutil"
	"ecoquest/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeApplyDelta = "stats:apply_delta"
	TypeAwardBadge = "stats:award_badge"
)

type AwardBadgePayload struct {
	UserID    string `json:"user_id"`
	BadgeName string `json:"badge_name"`
}

// NewApplyDeltaTask builds a retry task for d. The task id is derived from
// the reference id so the same delta is queued at most once.
func NewApplyDeltaTask(d Delta) (*asynq.Task, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeApplyDelta, payload,
		asynq.MaxRetry(10),
		asynq.Queue(task.QueueCritical),
		asynq.TaskID(TypeApplyDelta+":"+d.UserID+":"+d.ReferenceID),
		asynq.Retention(24*time.Hour),
	), nil
}

func NewAwardBadgeTask(p AwardBadgePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAwardBadge, payload,
		asynq.MaxRetry(5),
		asynq.Queue(task.QueueDefault),
		asynq.TaskID(TypeAwardBadge+":"+p.UserID+":"+p.BadgeName),
	), nil
}

type Task struct {
	svc *Service
}

func NewTask(svc *Service) *Task {
	return &Task{svc: svc}
}

func (t *Task) HandleApplyDeltaTask(ctx context.Context, at *asynq.Task) error {
	var d Delta
	if err := json.Unmarshal(at.Payload(), &d); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", at.Type()),
		zap.String("user_id", d.UserID),
		zap.String("reference_id", d.ReferenceID),
	)

	res, err := t.svc.ApplyDelta(ctx, d)
	if err != nil {
		if errutil.StatusOf(err) == errutil.StatusValidationFailed {
			zapLog.Error("dropping invalid delta", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if !res.Duplicate {
		if _, err := t.svc.EvaluateBadges(ctx, d.UserID); err != nil {
			zapLog.Warn("failed to evaluate badges", zap.Error(err))
		}
	}
	zapLog.Info("delta task processed", zap.Bool("duplicate", res.Duplicate))
	return nil
}

func (t *Task) HandleAwardBadgeTask(ctx context.Context, at *asynq.Task) error {
	var p AwardBadgePayload
	if err := json.Unmarshal(at.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	if _, err := t.svc.AwardBadge(ctx, p.UserID, p.BadgeName); err != nil {
		if errutil.StatusOf(err) == errutil.StatusNotFound {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Register binds the stats handlers on mux.
func (t *Task) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeApplyDelta, t.HandleApplyDeltaTask)
	mux.HandleFunc(TypeAwardBadge, t.HandleAwardBadgeTask)
	mux.HandleFunc(TypeExpireStreaks, t.HandleExpireStreaksTask)
}
