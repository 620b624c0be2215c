// Package scoring turns a guess into points.
//
// Score is a step function of elapsed time: within a speed tier the exact number of seconds
// does not matter, only the tier, the streak and the difficulty do. Crossing a tier boundary
// is the only way elapsed time changes the result.
package scoring

import (
	"math"

	"musiguess/internal/domain"
)

const (
	basePoints     = 1000
	streakStep     = 100
	maxStreakBonus = 500

	lightningSeconds = 3
	fastSeconds      = 7
	goodSeconds      = 15
)

var speedMultipliers = map[domain.SpeedTier]float64{
	domain.SpeedLightning: 2.0,
	domain.SpeedFast:      1.5,
	domain.SpeedGood:      1.2,
	domain.SpeedBase:      1.0,
}

var difficultyMultipliers = map[domain.Difficulty]float64{
	domain.DifficultyEasy:    0.8,
	domain.DifficultyNormal:  1.0,
	domain.DifficultyHard:    1.5,
	domain.DifficultyExtreme: 2.0,
}

// TierFor buckets elapsed seconds into a speed tier. Boundaries are inclusive.
func TierFor(elapsedSeconds float64) domain.SpeedTier {
	switch {
	case elapsedSeconds <= lightningSeconds:
		return domain.SpeedLightning
	case elapsedSeconds <= fastSeconds:
		return domain.SpeedFast
	case elapsedSeconds <= goodSeconds:
		return domain.SpeedGood
	default:
		return domain.SpeedBase
	}
}

// DifficultyMultiplier returns the multiplier for d; unknown values score as normal.
func DifficultyMultiplier(d domain.Difficulty) float64 {
	if m, ok := difficultyMultipliers[d]; ok {
		return m
	}
	return difficultyMultipliers[domain.DifficultyNormal]
}

// StreakBonus is 100 per consecutive correct answer, capped at 500.
func StreakBonus(streak int) int {
	if streak <= 0 {
		return 0
	}
	return min(streak*streakStep, maxStreakBonus)
}

// ScoreCorrect scores a correct guess. Negative inputs are treated as zero.
func ScoreCorrect(elapsedSeconds float64, streak int, difficulty domain.Difficulty) domain.ScoreResult {
	if elapsedSeconds < 0 || math.IsNaN(elapsedSeconds) {
		elapsedSeconds = 0
	}
	tier := TierFor(elapsedSeconds)
	points := int(math.Round(basePoints * speedMultipliers[tier]))
	bonus := StreakBonus(streak)
	total := int(math.Round(float64(points+bonus) * DifficultyMultiplier(difficulty)))

	return domain.ScoreResult{
		Points:      points,
		SpeedTier:   tier,
		StreakBonus: bonus,
		TotalPoints: total,
	}
}

// ScoreWrongOrTimeout is the zero award for a wrong answer or a timeout.
func ScoreWrongOrTimeout() domain.ScoreResult {
	return domain.ScoreResult{SpeedTier: domain.SpeedBase}
}
