// Package rating implements the two-tier Elo update applied after every
// recorded match: a global rating that follows a fighter everywhere and a tier
// rating that restarts whenever the fighter changes tier.
package rating

import (
	"math"

	"github.com/onnwee/saltyboy/protocol"
)

const (
	// K is the update factor used for both ratings.
	K = 32
	// Initial is the rating given to unseen fighters and to a fighter's tier
	// rating after a tier change.
	Initial = 1500
)

// Expected returns the logistic expected score of a player rated own against
// a player rated opp.
func Expected(own, opp int) float64 {
	a := math.Pow(10, float64(own)/400)
	b := math.Pow(10, float64(opp)/400)
	return a / (a + b)
}

// Compute returns own's new rating after a game against opp. The result is
// truncated toward zero, never rounded.
func Compute(own, opp int, won bool) int {
	score := 0.0
	if won {
		score = 1
	}
	return int(float64(own) + K*(score-Expected(own, opp)))
}

// Standing is what the store knows about a fighter before a match.
type Standing struct {
	Elo        int
	TierElo    int
	Tier       protocol.Tier
	BestStreak int
}

// NewStanding is the standing of a fighter seen for the first time.
func NewStanding(tier protocol.Tier, streak int) Standing {
	return Standing{Elo: Initial, TierElo: Initial, Tier: tier, BestStreak: streak}
}

// Update is a fighter's standing after a match.
type Update struct {
	Elo        int
	TierElo    int
	Tier       protocol.Tier
	PrevTier   protocol.Tier
	BestStreak int
}

// Apply computes self's new standing. matchTier is the tier the match was
// fought in, streak the streak reported when bets locked, and opp the
// opponent's standing before the match.
func Apply(self Standing, matchTier protocol.Tier, streak int, opp Standing, won bool) Update {
	tierElo := self.TierElo
	if self.Tier != matchTier {
		tierElo = Initial
	}
	best := self.BestStreak
	if streak > best {
		best = streak
	}
	return Update{
		Elo:        Compute(self.Elo, opp.Elo, won),
		TierElo:    Compute(tierElo, opp.TierElo, won),
		Tier:       matchTier,
		PrevTier:   self.Tier,
		BestStreak: best,
	}
}

// Pair updates both sides of a match simultaneously: each side is computed
// against the other's pre-match standing, so the result does not depend on
// evaluation order.
func Pair(red, blue Standing, matchTier protocol.Tier, streakRed, streakBlue int, redWon bool) (Update, Update) {
	return Apply(red, matchTier, streakRed, blue, redWon),
		Apply(blue, matchTier, streakBlue, red, !redWon)
}
