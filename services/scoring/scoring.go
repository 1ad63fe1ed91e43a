// Package scoring turns catalog rows and user input into point and carbon
// deltas. Every function is pure.
package scoring

import (
	"fmt"
	"math"

	"ecoquest/pkg/errutil"
	"ecoquest/services/catalog"
)

type QuizScore struct {
	Score          int64 `json:"score"`
	CorrectAnswers int   `json:"correctAnswers"`
	TotalQuestions int   `json:"totalQuestions"`
	PointsEarned   int64 `json:"pointsEarned"`
}

type Reward struct {
	PointsEarned int64   `json:"pointsEarned"`
	CarbonSaved  float64 `json:"carbonSaved"`
}

// ScoreQuiz compares answers with the answer key index by index. Answers
// past the last question are ignored and unanswered questions count as
// wrong.
func ScoreQuiz(questions []catalog.Question, answers []int, pointsReward int64) (QuizScore, error) {
	total := len(questions)
	if total == 0 {
		return QuizScore{}, errutil.ValidationFailed("Quiz has no questions", nil)
	}
	if pointsReward < 0 {
		return QuizScore{}, errutil.ValidationFailed("Quiz reward must not be negative", nil)
	}

	correct := 0
	for i, answer := range answers {
		if i >= total {
			break
		}
		if questions[i].Correct == answer {
			correct++
		}
	}

	score := int64(math.Round(float64(correct) / float64(total) * 100))
	return QuizScore{
		Score:          score,
		CorrectAnswers: correct,
		TotalQuestions: total,
		PointsEarned:   int64(math.Round(float64(score) / 100 * float64(pointsReward))),
	}, nil
}

// MaxActivityQuantity bounds a single activity log.
const MaxActivityQuantity = 1000

// ScoreActivity scales the per-action rates linearly by quantity.
func ScoreActivity(activity *catalog.Activity, quantity int) (Reward, error) {
	if quantity < 1 {
		return Reward{}, errutil.ValidationFailed("Quantity must be at least 1", nil)
	}
	if quantity > MaxActivityQuantity {
		return Reward{}, errutil.ValidationFailed(fmt.Sprintf("Quantity must be at most %d", MaxActivityQuantity), nil)
	}
	if p := activity.PointsPerAction; p > 0 && int64(quantity) > math.MaxInt64/p || p < 0 && int64(quantity) > math.MinInt64/p {
		return Reward{}, errutil.ValidationFailed("Activity reward is out of range", nil)
	}
	return Reward{
		PointsEarned: activity.PointsPerAction * int64(quantity),
		CarbonSaved:  activity.CarbonImpactPerAction * float64(quantity),
	}, nil
}

func ScoreChallenge(challenge *catalog.Challenge) Reward {
	return Reward{
		PointsEarned: challenge.PointsReward,
		CarbonSaved:  challenge.CarbonImpact,
	}
}
