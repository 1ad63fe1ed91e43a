package gamification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"ecoquest/pkg/errutil"
	"ecoquest/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxIdempotencyKeyLength = 255
	defaultReservationLease = time.Minute
)

// Idempotency collapses retried requests: the first request with a key
// reserves it, runs, and stores its response; later requests with the same
// key replay that response. A failed run releases the key.
type Idempotency struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  repository.Repository[IdempotencyRecord]
	lease time.Duration
	now   func() time.Time
}

func NewIdempotency(db *gorm.DB, node *snowflake.Node) *Idempotency {
	return &Idempotency{
		db:    db,
		node:  node,
		repo:  repository.ProvideStore[IdempotencyRecord](db),
		lease: defaultReservationLease,
		now:   time.Now,
	}
}

func hashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin reserves key for userID and scope. When the key already completed
// with the same request body, the stored record is returned with replay set.
func (i *Idempotency) Begin(ctx context.Context, userID, scope, key string, body []byte) (rec *IdempotencyRecord, replay bool, err error) {
	if len(key) > maxIdempotencyKeyLength {
		return nil, false, errutil.ValidationFailed("Idempotency-Key must be at most 255 characters", nil)
	}

	rec = &IdempotencyRecord{
		ID:          i.node.Generate().String(),
		UserID:      userID,
		Scope:       scope,
		Key:         key,
		RequestHash: hashRequest(body),
		Status:      IdempotencyPending,
		LockedUntil: i.now().Add(i.lease),
	}
	err = i.repo.Create(ctx, rec)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		zap.L().Error("failed to reserve idempotency key", zap.String("scope", scope), zap.Error(err))
		return nil, false, errutil.Internal("failed to reserve idempotency key", err)
	}

	existing, err := i.repo.FindOne(ctx, &IdempotencyRecord{UserID: userID, Scope: scope, Key: key})
	if err != nil {
		return nil, false, errutil.Internal("failed to load idempotency key", err)
	}
	if existing == nil {
		// released between our insert and the lookup
		return nil, false, errutil.Conflict("Request with this Idempotency-Key is still in progress", nil)
	}
	if existing.RequestHash != rec.RequestHash {
		return nil, false, errutil.Conflict("Idempotency-Key was already used with a different request", nil)
	}
	if existing.Status == IdempotencyCompleted {
		return existing, true, nil
	}
	if existing.LockedUntil.After(i.now()) {
		return nil, false, errutil.Conflict("Request with this Idempotency-Key is still in progress", nil)
	}
	return i.takeOver(ctx, existing)
}

// takeOver renews an expired reservation left behind by a request that never
// completed. Only one concurrent retry wins the conditional update.
func (i *Idempotency) takeOver(ctx context.Context, rec *IdempotencyRecord) (*IdempotencyRecord, bool, error) {
	now := i.now()
	lockedUntil := now.Add(i.lease)
	res := i.db.WithContext(ctx).Model(&IdempotencyRecord{}).
		Where("id = ? AND status = ? AND locked_until <= ?", rec.ID, IdempotencyPending, now).
		Updates(map[string]any{"locked_until": lockedUntil, "updated_at": now})
	if res.Error != nil {
		zap.L().Error("failed to renew idempotency key", zap.String("scope", rec.Scope), zap.Error(res.Error))
		return nil, false, errutil.Internal("failed to reserve idempotency key", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, errutil.Conflict("Request with this Idempotency-Key is still in progress", nil)
	}

	zap.L().Warn("took over expired idempotency key", zap.String("scope", rec.Scope), zap.String("record_id", rec.ID))
	rec.LockedUntil = lockedUntil
	return rec, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, rec *IdempotencyRecord, statusCode int, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return i.repo.Update(ctx, rec.ID, map[string]any{
		"status":      IdempotencyCompleted,
		"status_code": statusCode,
		"response":    datatypes.JSON(body),
	})
}

func (i *Idempotency) Release(ctx context.Context, rec *IdempotencyRecord) error {
	return i.db.WithContext(ctx).Where("id = ? AND status = ?", rec.ID, IdempotencyPending).Delete(&IdempotencyRecord{}).Error
}
