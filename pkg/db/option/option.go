package option

import (
	"errors"
	"fmt"
	"strings"

	"ecoquest/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed. It has the same shape
// as a gorm scope so options can be passed to (*gorm.DB).Scopes directly.
type QueryOption func(*gorm.DB) *gorm.DB

// ErrInvalidCursor is recorded on the query when a pagination cursor cannot
// be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	defaultLimit = 10
	maxLimit     = 250
)

// LockingUpdate adds SELECT ... FOR UPDATE. Dialects without row level
// locks (sqlite) drop the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = "created_at"
		}
		if s.Allow != nil && !s.Allow[column] {
			return db
		}

		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(normalizeLimit(limit))
	}
}

// ApplyPagination applies keyset pagination ordered by (created_at, id)
// descending. One extra row is fetched so callers can compute HasMore.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err != nil {
				_ = db.AddError(fmt.Errorf("%w: %v", ErrInvalidCursor, err))
				return db
			}
			db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}

		return db.Order("created_at DESC").Order("id DESC").Limit(normalizeLimit(p.Limit) + 1)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
