package gamification

import (
	"time"

	"gorm.io/datatypes"
)

type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord remembers the response of a mutating request sent with
// an Idempotency-Key header. Keys are scoped per user and endpoint. A
// pending record whose LockedUntil has passed may be taken over by a retry.
type IdempotencyRecord struct {
	ID          string            `gorm:"column:id;primaryKey" json:"id"`
	UserID      string            `gorm:"column:user_id;uniqueIndex:idx_idempotency_user_scope_key,priority:1" json:"user_id"`
	Scope       string            `gorm:"column:scope;uniqueIndex:idx_idempotency_user_scope_key,priority:2" json:"scope"`
	Key         string            `gorm:"column:idempotency_key;uniqueIndex:idx_idempotency_user_scope_key,priority:3" json:"key"`
	RequestHash string            `gorm:"column:request_hash" json:"request_hash"`
	Status      IdempotencyStatus `gorm:"column:status" json:"status"`
	StatusCode  int               `gorm:"column:status_code" json:"status_code"`
	LockedUntil time.Time         `gorm:"column:locked_until" json:"locked_until"`
	Response    datatypes.JSON    `gorm:"column:response" json:"response,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func Models() []any {
	return []any{&IdempotencyRecord{}}
}
