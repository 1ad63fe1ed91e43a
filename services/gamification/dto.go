package gamification

import (
	"encoding/json"
	"fmt"

	"ecoquest/pkg/errutil"
)

type StartChallengeRequest struct {
	ChallengeID string `json:"challengeId"`
}

type CompleteChallengeRequest struct {
	ChallengeID    string          `json:"challengeId"`
	CompletionData json.RawMessage `json:"completionData,omitempty"`
}

// CompleteQuizRequest keeps answers as pointers so a null entry can be told
// apart from option 0.
type CompleteQuizRequest struct {
	QuizID    string `json:"quizId"`
	Answers   []*int `json:"answers"`
	TimeTaken *int   `json:"timeTaken,omitempty"`
}

func (r CompleteQuizRequest) optionIndexes() ([]int, error) {
	out := make([]int, len(r.Answers))
	for i, a := range r.Answers {
		if a == nil || *a < 0 {
			return nil, errutil.ValidationFailed(fmt.Sprintf("Answer %d must be an option index", i+1), nil)
		}
		out[i] = *a
	}
	return out, nil
}

// LogActivityRequest leaves Quantity nil when the caller omitted it; it
// then defaults to 1.
type LogActivityRequest struct {
	ActivityID string  `json:"activityId"`
	Quantity   *int    `json:"quantity,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

type StartedChallenge struct {
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	DurationDays int     `json:"duration_days"`
	PointsReward int64   `json:"points_reward"`
	CarbonImpact float64 `json:"carbon_impact"`
}

type StartChallengeResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Challenge *StartedChallenge `json:"challenge,omitempty"`
	Existing  bool              `json:"existing,omitempty"`
}

type CompletedChallenge struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CompleteChallengeResponse struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	PointsEarned int64              `json:"pointsEarned"`
	CarbonSaved  float64            `json:"carbonSaved"`
	BadgeAwarded *string            `json:"badgeAwarded"`
	Challenge    CompletedChallenge `json:"challenge"`
	Degraded     bool               `json:"degraded,omitempty"`
}

type CompleteQuizResponse struct {
	Success        bool   `json:"success"`
	Score          int64  `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	TotalQuestions int    `json:"totalQuestions"`
	PointsEarned   int64  `json:"pointsEarned"`
	Message        string `json:"message"`
	Degraded       bool   `json:"degraded,omitempty"`
}

type LoggedActivity struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit"`
}

type LogActivityResponse struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	PointsEarned int64          `json:"pointsEarned"`
	CarbonSaved  float64        `json:"carbonSaved"`
	Activity     LoggedActivity `json:"activity"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// DataResponse wraps read endpoints.
type DataResponse struct {
	Success  bool      `json:"success"`
	Data     any       `json:"data"`
	PageInfo *PageInfo `json:"page_info,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}
