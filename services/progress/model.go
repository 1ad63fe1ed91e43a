package progress

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ChallengeStatus string

const (
	ChallengeStatusActive    ChallengeStatus = "active"
	ChallengeStatusCompleted ChallengeStatus = "completed"
)

// QuizAttempt is written once per submission and never updated.
type QuizAttempt struct {
	ID             string                   `gorm:"column:id;primaryKey" json:"id"`
	UserID         string                   `gorm:"column:user_id;index:idx_quiz_attempts_user_created,priority:1" json:"user_id"`
	QuizID         string                   `gorm:"column:quiz_id;index" json:"quiz_id"`
	Answers        datatypes.JSONSlice[int] `gorm:"column:answers" json:"answers"`
	Score          int64                    `gorm:"column:score" json:"score"`
	TotalQuestions int                      `gorm:"column:total_questions" json:"total_questions"`
	CorrectAnswers int                      `gorm:"column:correct_answers" json:"correct_answers"`
	PointsEarned   int64                    `gorm:"column:points_earned" json:"points_earned"`
	TimeTaken      *int                     `gorm:"column:time_taken" json:"time_taken,omitempty"`
	CompletedAt    time.Time                `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;index:idx_quiz_attempts_user_created,priority:2" json:"created_at"`
}

// UserActivity is an append-only log line. VerifiedAt and VerifiedBy are set
// out of band by moderators.
type UserActivity struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	UserID       string     `gorm:"column:user_id;index:idx_user_activities_user_created,priority:1" json:"user_id"`
	ActivityID   string     `gorm:"column:activity_id;index" json:"activity_id"`
	Quantity     int        `gorm:"column:quantity" json:"quantity"`
	PointsEarned int64      `gorm:"column:points_earned" json:"points_earned"`
	CarbonSaved  float64    `gorm:"column:carbon_saved" json:"carbon_saved"`
	Notes        *string    `gorm:"column:notes" json:"notes,omitempty"`
	LoggedAt     time.Time  `gorm:"column:logged_at" json:"logged_at"`
	VerifiedAt   *time.Time `gorm:"column:verified_at" json:"verified_at,omitempty"`
	VerifiedBy   *string    `gorm:"column:verified_by" json:"verified_by,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;index:idx_user_activities_user_created,priority:2" json:"created_at"`
}

const ProgressVersion = 1

// ProgressEnvelope is the typed progress document of a challenge run.
// Category selects how CompletionData is interpreted; unknown categories keep
// the raw document.
type ProgressEnvelope struct {
	Version        int             `json:"version"`
	Category       string          `json:"category,omitempty"`
	DurationDays   int             `json:"started_with_duration_days"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CompletionData json.RawMessage `json:"completion_data,omitempty"`
}

// ChallengeProgress tracks one run of a challenge by a user. ActiveKey is
// "user:challenge" while the run is active and NULL afterwards; its unique
// index allows at most one active run per pair.
type ChallengeProgress struct {
	ID           string                               `gorm:"column:id;primaryKey" json:"id"`
	UserID       string                               `gorm:"column:user_id;index:idx_challenge_progress_user_created,priority:1" json:"user_id"`
	ChallengeID  string                               `gorm:"column:challenge_id;index" json:"challenge_id"`
	Status       ChallengeStatus                      `gorm:"column:status;index" json:"status"`
	ActiveKey    *string                              `gorm:"column:active_key;uniqueIndex" json:"-"`
	Progress     datatypes.JSONType[ProgressEnvelope] `gorm:"column:progress" json:"progress"`
	StartedAt    time.Time                            `gorm:"column:started_at" json:"started_at"`
	CompletedAt  *time.Time                           `gorm:"column:completed_at" json:"completed_at,omitempty"`
	PointsEarned int64                                `gorm:"column:points_earned" json:"points_earned"`
	CarbonSaved  float64                              `gorm:"column:carbon_saved" json:"carbon_saved"`
	CreatedAt    time.Time                            `gorm:"column:created_at;index:idx_challenge_progress_user_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time                            `gorm:"column:updated_at" json:"updated_at"`
}

func ActiveKey(userID, challengeID string) string {
	return fmt.Sprintf("%s:%s", userID, challengeID)
}

func Models() []any {
	return []any{&QuizAttempt{}, &UserActivity{}, &ChallengeProgress{}}
}

func (ChallengeProgress) TableName() string {
	return "user_challenge_progress"
}
