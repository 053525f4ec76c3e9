// Package protocol decodes the betting announcer's chat lines into typed events.
//
// The announcer posts four kinds of lines that matter to us: bets opening for a
// ranked match, bets opening for an exhibition, bets locking (with pot sizes and
// streaks) and the winner announcement. Parse maps a single line to at most one
// Event; lines that match none of the shapes are not an error.
package protocol

// Tier is the skill bracket letter attached to a match or fighter.
type Tier string

const (
	TierX Tier = "X"
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierP Tier = "P"
)

// Tiers lists every known tier, strongest first.
var Tiers = []Tier{TierX, TierS, TierA, TierB, TierP}

// Valid reports whether t is one of the known tier letters.
func (t Tier) Valid() bool {
	for _, k := range Tiers {
		if t == k {
			return true
		}
	}
	return false
}

// MatchFormat is how the upstream scheduled the match.
type MatchFormat string

const (
	FormatMatchmaking MatchFormat = "matchmaking"
	FormatTournament  MatchFormat = "tournament"
	FormatExhibition  MatchFormat = "exhibition"
)

// Recorded reports whether matches of this format are persisted and rated.
// Exhibitions never are.
func (f MatchFormat) Recorded() bool {
	return f == FormatMatchmaking || f == FormatTournament
}

// Valid reports whether f is a known format.
func (f MatchFormat) Valid() bool {
	return f.Recorded() || f == FormatExhibition
}

// Colour is the side a fighter stands on.
type Colour string

const (
	ColourRed  Colour = "Red"
	ColourBlue Colour = "Blue"
)

// Valid reports whether c is Red or Blue.
func (c Colour) Valid() bool { return c == ColourRed || c == ColourBlue }

// Event is one decoded announcer line. The concrete types are OpenBet,
// OpenBetExhibition, LockedBet and Win.
type Event interface {
	// Kind is a short stable name used for logs and metric labels.
	Kind() string
	event()
}

// OpenBet announces a new ranked match with its tier.
type OpenBet struct {
	Red    string
	Blue   string
	Tier   Tier
	Format MatchFormat
}

// OpenBetExhibition announces a new exhibition match. Exhibition headers carry
// no tier segment.
type OpenBetExhibition struct {
	Red  string
	Blue string
}

// LockedBet closes betting. Streaks are the pre-lock win streaks and can be
// negative when the upstream reports a losing run.
type LockedBet struct {
	Red        string
	StreakRed  int
	BetRed     int64
	Blue       string
	StreakBlue int
	BetBlue    int64
}

// Win names the winner and the side that gets paid out.
type Win struct {
	Winner string
	Colour Colour
}

func (OpenBet) Kind() string           { return "open" }
func (OpenBetExhibition) Kind() string { return "open_exhibition" }
func (LockedBet) Kind() string         { return "locked" }
func (Win) Kind() string               { return "win" }

func (OpenBet) event()           {}
func (OpenBetExhibition) event() {}
func (LockedBet) event()         {}
func (Win) event()               {}
