// Package match correlates announcer events into a single in-flight match and
// decides when that match is complete enough to be recorded.
package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/saltyboy/protocol"
)

// Guard violations. They are reported through Transition.Reason and are
// never fatal.
var (
	ErrNoMatch      = errors.New("no match in flight")
	ErrWrongStatus  = errors.New("event not valid in current status")
	ErrNameMismatch = errors.New("fighter names do not match")
)

// Status is the lifecycle position of the in-flight match.
type Status int

const (
	StatusOpen Status = iota + 1
	StatusLocked
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusLocked:
		return "locked"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Match is the in-flight record. Bets and streaks are only meaningful once
// Status reaches StatusLocked; Winner and Colour once it reaches StatusDone.
type Match struct {
	Status Status
	Red    string
	Blue   string
	Tier   protocol.Tier
	Format protocol.MatchFormat

	BetRed     int64
	BetBlue    int64
	StreakRed  int
	StreakBlue int

	Winner string
	Colour protocol.Colour

	OpenedAt   time.Time
	FinishedAt time.Time
}

// New starts a match in StatusOpen.
func New(ev protocol.OpenBet, now time.Time) *Match {
	return &Match{
		Status:   StatusOpen,
		Red:      ev.Red,
		Blue:     ev.Blue,
		Tier:     ev.Tier,
		Format:   ev.Format,
		OpenedAt: now,
	}
}

// Lock records bets and streaks. It fails without modifying m when m is not
// open or when the names differ from the ones seen at open.
func (m *Match) Lock(ev protocol.LockedBet) error {
	if m.Status != StatusOpen {
		return fmt.Errorf("%w: lock while %s", ErrWrongStatus, m.Status)
	}
	if ev.Red != m.Red || ev.Blue != m.Blue {
		return fmt.Errorf("%w: locked %q vs %q, open %q vs %q", ErrNameMismatch, ev.Red, ev.Blue, m.Red, m.Blue)
	}
	m.Status = StatusLocked
	m.BetRed, m.BetBlue = ev.BetRed, ev.BetBlue
	m.StreakRed, m.StreakBlue = ev.StreakRed, ev.StreakBlue
	return nil
}

// Finish records the winner. It fails without modifying m when m is not
// locked or when the winner is neither fighter.
func (m *Match) Finish(ev protocol.Win, now time.Time) error {
	if m.Status != StatusLocked {
		return fmt.Errorf("%w: win while %s", ErrWrongStatus, m.Status)
	}
	if ev.Winner != m.Red && ev.Winner != m.Blue {
		return fmt.Errorf("%w: winner %q is neither %q nor %q", ErrNameMismatch, ev.Winner, m.Red, m.Blue)
	}
	m.Status = StatusDone
	m.Winner = ev.Winner
	m.Colour = ev.Colour
	m.FinishedAt = now
	return nil
}

// RedWon reports whether the red side won. Only meaningful once done. In a
// mirror match both names are equal and the paid-out colour decides.
func (m *Match) RedWon() bool {
	if m.Red == m.Blue {
		return m.Colour == protocol.ColourRed
	}
	return m.Winner == m.Red
}

// Snapshot is the live view published whenever bets open. Tier is nil for
// exhibitions.
type Snapshot struct {
	Red       string
	Blue      string
	Format    protocol.MatchFormat
	Tier      *protocol.Tier
	UpdatedAt time.Time
}
