// Package score holds the pure arithmetic behind suspicion ranking.
//
// Every scored entity (Word, WordAdjacency, Hostname) accumulates a raw
// (score, count) pair from the server. The normalized score is the mean
// score per observation, rounded to two decimals. A user's composite score
// is the sum of the five lowest normalized scores among the entities the
// user is associated with, so a handful of strongly negative signals is not
// diluted by many neutral ones.
package score

import (
	"math"

	"golang.org/x/exp/slices"
)

// CompositeWindow is the number of lowest normalized scores summed into a
// user's composite score.
const CompositeWindow = 5

// Normalize returns the normalized score for an accumulated (score, count)
// pair. A count of zero (never observed) normalizes to 0.
func Normalize(score float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(100*score/float64(count)) / 100
}

// Composite sums the CompositeWindow lowest values of scores and rounds the
// result to two decimals. An empty input yields 0. The input slice is not
// modified.
//
// Example:
//
//	Composite([]float64{-2, -1, 0, 0.5, 4, 10}) // 1.5
func Composite(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	if len(sorted) > CompositeWindow {
		sorted = sorted[:CompositeWindow]
	}
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	return Round2(sum)
}

// Round2 rounds v to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(100*v) / 100
}
