// Package rating implements the Elo rating update used at game end.
package rating

import "math"

// Outcome values from the perspective of the rated player.
const (
	Win  = 1.0
	Draw = 0.5
	Loss = 0.0
)

// DefaultRating is assigned to a player on first appearance.
const DefaultRating = 1200

// kFactor tuned for new players.
const kFactor = 40

// Next returns the updated rating for a player rated self after a game
// against a player rated opponent, given the outcome (1 win, 0.5 draw, 0 loss).
// The logistic expected score keeps the function symmetric: swapping roles and
// inverting the outcome moves the two ratings by opposite amounts.
func Next(self, opponent int, outcome float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponent-self)/400))
	return int(math.Round(float64(self) + kFactor*(outcome-expected)))
}
