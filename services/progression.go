package services

// TierThresholds: minimum stars for each tier index, ascending.
var TierThresholds = []int{0, 5, 10, 15, 20, 25, 30, 35, 40, 45}

const (
	WinStars   = 1
	UpsetStars = 2  // winner started in a strictly lower tier than the loser
	LossStars  = -1
)

// TierIndex maps a star count to its tier. Negative counts fall into tier 0.
func TierIndex(stars int) int {
	tier := 0
	for i, min := range TierThresholds {
		if stars >= min {
			tier = i
		}
	}
	return tier
}

// StarDeltas returns the progression change for the winner and the loser of a
// decided match, given their pre-match star counts.
func StarDeltas(winnerStars, loserStars int) (winner, loser int) {
	winner = WinStars
	if TierIndex(winnerStars) < TierIndex(loserStars) {
		winner = UpsetStars
	}
	return winner, LossStars
}

// ApplyStars never lets progression drop below zero.
func ApplyStars(stars, delta int) int {
	s := stars + delta
	if s < 0 {
		return 0
	}
	return s
}
