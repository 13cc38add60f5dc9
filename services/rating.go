package services

import "math"

const (
	RatingFloor = 100
	KFactor     = 32
)

// Actual scores fed to RatingDelta.
const (
	ScoreWin  = 1.0
	ScoreDraw = 0.5
	ScoreLoss = 0.0
)

// ExpectedScore is the logistic expectation of a player rated my against opp.
func ExpectedScore(my, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-my)/400))
}

// RatingDelta is computed per player; the two sides are rounded independently
// and need not sum to zero.
func RatingDelta(my, opp int, actual float64) int {
	return int(math.Round(KFactor * (actual - ExpectedScore(my, opp))))
}

// ApplyRating returns the new rating after delta, never below RatingFloor.
func ApplyRating(rating, delta int) int {
	r := rating + delta
	if r < RatingFloor {
		return RatingFloor
	}
	return r
}
