package stats

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const GenesisHash = "GENESIS"

// UserProfile is the running aggregate of a user's ledger. Only Service
// writes it.
type UserProfile struct {
	ID                   string                      `gorm:"column:id;primaryKey" json:"id"`
	UserID               string                      `gorm:"column:user_id;uniqueIndex" json:"user_id"`
	EcoPoints            int64                       `gorm:"column:eco_points;index" json:"eco_points"`
	Level                int64                       `gorm:"column:level" json:"level"`
	StreakDays           int64                       `gorm:"column:streak_days" json:"streak_days"`
	TotalQuestsCompleted int64                       `gorm:"column:total_quests_completed" json:"total_quests_completed"`
	CarbonFootprintSaved float64                     `gorm:"column:carbon_footprint_saved" json:"carbon_footprint_saved"`
	BadgesEarned         datatypes.JSONSlice[string] `gorm:"column:badges_earned" json:"badges_earned"`
	LastActivityAt       *time.Time                  `gorm:"column:last_activity_at" json:"last_activity_at,omitempty"`
	CreatedAt            time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (p *UserProfile) HasBadge(badgeID string) bool {
	for _, id := range p.BadgesEarned {
		if id == badgeID {
			return true
		}
	}
	return false
}

// Attributes is the view of the profile badge expressions are evaluated
// against.
func (p *UserProfile) Attributes() map[string]any {
	badges := make([]string, len(p.BadgesEarned))
	copy(badges, p.BadgesEarned)
	return map[string]any{
		"eco_points":             p.EcoPoints,
		"level":                  p.Level,
		"streak_days":            p.StreakDays,
		"total_quests_completed": p.TotalQuestsCompleted,
		"carbon_footprint_saved": p.CarbonFootprintSaved,
		"badges":                 badges,
		"badge_count":            int64(len(badges)),
	}
}

// PointEntry records one delta applied to a profile. Entries of a user form
// a hash chain ordered by Seq.
type PointEntry struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;uniqueIndex:idx_point_entries_user_ref,priority:1;uniqueIndex:idx_point_entries_user_seq,priority:1" json:"user_id"`
	Seq            int64     `gorm:"column:seq;uniqueIndex:idx_point_entries_user_seq,priority:2" json:"seq"`
	ReferenceID    string    `gorm:"column:reference_id;uniqueIndex:idx_point_entries_user_ref,priority:2" json:"reference_id"`
	Source         string    `gorm:"column:source" json:"source"`
	Points         int64     `gorm:"column:points" json:"points"`
	CarbonSaved    float64   `gorm:"column:carbon_saved" json:"carbon_saved"`
	QuestCompleted bool      `gorm:"column:quest_completed" json:"quest_completed"`
	PreviousHash   string    `gorm:"column:previous_hash" json:"previous_hash"`
	Hash           string    `gorm:"column:hash" json:"hash"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (e *PointEntry) HashFields() map[string]string {
	return map[string]string{
		"id":              e.ID,
		"user_id":         e.UserID,
		"seq":             strconv.FormatInt(e.Seq, 10),
		"reference_id":    e.ReferenceID,
		"source":          e.Source,
		"points":          strconv.FormatInt(e.Points, 10),
		"carbon_saved":    strconv.FormatFloat(e.CarbonSaved, 'f', -1, 64),
		"quest_completed": strconv.FormatBool(e.QuestCompleted),
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":   e.PreviousHash,
	}
}

func (e *PointEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

type UserBadge struct {
	ID       string    `gorm:"column:id;primaryKey" json:"id"`
	UserID   string    `gorm:"column:user_id;uniqueIndex:idx_user_badges_user_badge,priority:1" json:"user_id"`
	BadgeID  string    `gorm:"column:badge_id;uniqueIndex:idx_user_badges_user_badge,priority:2" json:"badge_id"`
	Source   string    `gorm:"column:source" json:"source"`
	EarnedAt time.Time `gorm:"column:earned_at" json:"earned_at"`
}

type LeaderboardEntry struct {
	Rank                 int     `json:"rank"`
	UserID               string  `json:"user_id"`
	EcoPoints            int64   `json:"eco_points"`
	Level                int64   `json:"level"`
	StreakDays           int64   `json:"streak_days"`
	CarbonFootprintSaved float64 `json:"carbon_footprint_saved"`
	BadgeCount           int     `json:"badge_count"`
}

type ChainReport struct {
	Valid         bool   `json:"valid"`
	Entries       int    `json:"entries"`
	BrokenAt      string `json:"broken_at,omitempty"`
	LedgerPoints  int64  `json:"ledger_points"`
	ProfilePoints int64  `json:"profile_points"`
}

func Models() []any {
	return []any{&UserProfile{}, &PointEntry{}, &UserBadge{}}
}
