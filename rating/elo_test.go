package rating

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/onnwee/saltyboy/protocol"
)

func TestComputeEvenRatings(t *testing.T) {
	assert.Equal(t, 1516, Compute(1500, 1500, true))
	assert.Equal(t, 1484, Compute(1500, 1500, false))
}

func TestComputeTruncatesTowardZero(t *testing.T) {
	// Expected(1600, 1500) ~= 0.6401: 1611.518 is kept as 1611, not rounded to 1612.
	assert.Equal(t, 1611, Compute(1600, 1500, true))
	assert.Equal(t, 1488, Compute(1500, 1600, false))
}

func TestPairSameTier(t *testing.T) {
	a := NewStanding(protocol.TierS, 3)
	b := NewStanding(protocol.TierS, 0)

	ua, ub := Pair(a, b, protocol.TierS, 3, 0, true)

	assert.Equal(t, Update{Elo: 1516, TierElo: 1516, Tier: protocol.TierS, PrevTier: protocol.TierS, BestStreak: 3}, ua)
	assert.Equal(t, Update{Elo: 1484, TierElo: 1484, Tier: protocol.TierS, PrevTier: protocol.TierS, BestStreak: 0}, ub)
}

func TestApplyTierChangeResetsTierRating(t *testing.T) {
	self := Standing{Elo: 1700, TierElo: 1650, Tier: protocol.TierA, BestStreak: 4}
	opp := Standing{Elo: 1500, TierElo: 1500, Tier: protocol.TierS, BestStreak: 0}

	u := Apply(self, protocol.TierS, 1, opp, true)

	assert.Equal(t, protocol.TierS, u.Tier)
	assert.Equal(t, protocol.TierA, u.PrevTier)
	// Tier rating restarts at 1500 before the update, so it moves like an even game.
	assert.Equal(t, 1516, u.TierElo)
	assert.Equal(t, Compute(1700, 1500, true), u.Elo)
	assert.Equal(t, 4, u.BestStreak)
}

func TestApplyKeepsPrevTierWhenUnchanged(t *testing.T) {
	self := Standing{Elo: 1500, TierElo: 1520, Tier: protocol.TierB}
	u := Apply(self, protocol.TierB, 0, NewStanding(protocol.TierB, 0), false)
	assert.Equal(t, protocol.TierB, u.PrevTier)
	assert.Equal(t, Compute(1520, 1500, false), u.TierElo)
}

func TestRatingProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("pair is symmetric in side assignment", prop.ForAll(
		func(redElo, redTier, blueElo, blueTier int, redWon bool) bool {
			red := Standing{Elo: redElo, TierElo: redTier, Tier: protocol.TierA}
			blue := Standing{Elo: blueElo, TierElo: blueTier, Tier: protocol.TierA}
			ur, ub := Pair(red, blue, protocol.TierA, 0, 0, redWon)
			// Swapping sides and flipping the outcome must give the same updates.
			ub2, ur2 := Pair(blue, red, protocol.TierA, 0, 0, !redWon)
			return ur == ur2 && ub == ub2
		},
		gen.IntRange(800, 2600),
		gen.IntRange(800, 2600),
		gen.IntRange(800, 2600),
		gen.IntRange(800, 2600),
		gen.Bool(),
	))

	properties.Property("winner never loses rating and loser never gains", prop.ForAll(
		func(own, opp int) bool {
			return Compute(own, opp, true) >= own && Compute(own, opp, false) <= own
		},
		gen.IntRange(800, 2600),
		gen.IntRange(800, 2600),
	))

	properties.Property("best streak never decreases", prop.ForAll(
		func(best, streak int) bool {
			self := Standing{Elo: Initial, TierElo: Initial, Tier: protocol.TierB, BestStreak: best}
			u := Apply(self, protocol.TierB, streak, NewStanding(protocol.TierB, 0), true)
			if streak > best {
				return u.BestStreak == streak
			}
			return u.BestStreak == best
		},
		gen.IntRange(-20, 100),
		gen.IntRange(-20, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
