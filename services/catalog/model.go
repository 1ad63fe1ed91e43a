package catalog

import (
	"time"

	"gorm.io/datatypes"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type Activity struct {
	ID                    string    `gorm:"column:id;primaryKey" json:"id"`
	Name                  string    `gorm:"column:name" json:"name"`
	Description           string    `gorm:"column:description" json:"description"`
	Category              string    `gorm:"column:category;index" json:"category"`
	PointsPerAction       int64     `gorm:"column:points_per_action" json:"points_per_action"`
	CarbonImpactPerAction float64   `gorm:"column:carbon_impact_per_action" json:"carbon_impact_per_action"`
	Unit                  string    `gorm:"column:unit" json:"unit"`
	Icon                  string    `gorm:"column:icon" json:"icon,omitempty"`
	IsActive              bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt             time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// Question is one multiple choice entry of a quiz. Correct is the index of
// the right option.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

type Quiz struct {
	ID           string                        `gorm:"column:id;primaryKey" json:"id"`
	Title        string                        `gorm:"column:title" json:"title"`
	Description  string                        `gorm:"column:description" json:"description"`
	Category     string                        `gorm:"column:category;index" json:"category"`
	Difficulty   Difficulty                    `gorm:"column:difficulty" json:"difficulty"`
	PointsReward int64                         `gorm:"column:points_reward" json:"points_reward"`
	TimeLimit    int                           `gorm:"column:time_limit" json:"time_limit"`
	Questions    datatypes.JSONSlice[Question] `gorm:"column:questions" json:"questions"`
	IsActive     bool                          `gorm:"column:is_active" json:"is_active"`
	CreatedAt    time.Time                     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time                     `gorm:"column:updated_at" json:"updated_at"`
}

// PublicQuestion is a Question without its answer key.
type PublicQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// PublicQuiz is the listing shape of a quiz; answers stay server side.
type PublicQuiz struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Category     string           `json:"category"`
	Difficulty   Difficulty       `json:"difficulty"`
	PointsReward int64            `json:"points_reward"`
	TimeLimit    int              `json:"time_limit"`
	Questions    []PublicQuestion `json:"questions"`
}

func (q *Quiz) Public() PublicQuiz {
	questions := make([]PublicQuestion, 0, len(q.Questions))
	for _, item := range q.Questions {
		questions = append(questions, PublicQuestion{Question: item.Question, Options: item.Options})
	}
	return PublicQuiz{
		ID:           q.ID,
		Title:        q.Title,
		Description:  q.Description,
		Category:     q.Category,
		Difficulty:   q.Difficulty,
		PointsReward: q.PointsReward,
		TimeLimit:    q.TimeLimit,
		Questions:    questions,
	}
}

type Challenge struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	Title        string     `gorm:"column:title" json:"title"`
	Description  string     `gorm:"column:description" json:"description"`
	Category     string     `gorm:"column:category;index" json:"category"`
	Difficulty   Difficulty `gorm:"column:difficulty" json:"difficulty"`
	PointsReward int64      `gorm:"column:points_reward" json:"points_reward"`
	CarbonImpact float64    `gorm:"column:carbon_impact" json:"carbon_impact"`
	DurationDays int        `gorm:"column:duration_days" json:"duration_days"`
	BadgeReward  *string    `gorm:"column:badge_reward" json:"badge_reward,omitempty"`
	IsActive     bool       `gorm:"column:is_active" json:"is_active"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Requirement is a CEL predicate over profile attributes, for example
// "streak_days >= 7".
type Requirement struct {
	Expression string `json:"expression,omitempty"`
}

// RequirementVariables are the profile attributes a requirement may
// reference, as zero values of their types.
func RequirementVariables() map[string]any {
	return map[string]any{
		"eco_points":             int64(0),
		"level":                  int64(0),
		"streak_days":            int64(0),
		"total_quests_completed": int64(0),
		"carbon_footprint_saved": float64(0),
		"badges":                 []string{},
		"badge_count":            int64(0),
	}
}

type Badge struct {
	ID             string                          `gorm:"column:id;primaryKey" json:"id"`
	Name           string                          `gorm:"column:name" json:"name"`
	Slug           string                          `gorm:"column:slug;uniqueIndex" json:"slug"`
	Description    string                          `gorm:"column:description" json:"description"`
	Icon           string                          `gorm:"column:icon" json:"icon,omitempty"`
	Category       string                          `gorm:"column:category" json:"category"`
	Rarity         Rarity                          `gorm:"column:rarity" json:"rarity"`
	Requirements   datatypes.JSONType[Requirement] `gorm:"column:requirements" json:"requirements"`
	PointsRequired *int64                          `gorm:"column:points_required" json:"points_required,omitempty"`
	IsActive       bool                            `gorm:"column:is_active" json:"is_active"`
	CreatedAt      time.Time                       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time                       `gorm:"column:updated_at" json:"updated_at"`
}

// Models lists every catalog table for migrations.
func Models() []any {
	return []any{&Activity{}, &Quiz{}, &Challenge{}, &Badge{}}
}
