package match

import (
	"log/slog"
	"time"

	"github.com/onnwee/saltyboy/protocol"
)

// Transition is the outcome of feeding one event to the correlator.
type Transition struct {
	// Accepted is false when the event was ignored by a guard.
	Accepted bool
	// Snapshot is set when the event should overwrite the live snapshot.
	Snapshot *Snapshot
	// Finished is set when a match reached StatusDone and must be recorded.
	Finished *Match
	// Reason explains a rejection.
	Reason error
}

// Correlator owns the single in-flight match. It is not safe for concurrent
// use; the ingestion pipeline drives it from one goroutine.
type Correlator struct {
	current *Match
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger used for rejected events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// NewCorrelator returns a correlator with no match in flight.
func NewCorrelator(opts ...Option) *Correlator {
	c := &Correlator{logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "correlator")
	return c
}

// Current returns the in-flight match or nil. The returned value must not be
// modified.
func (c *Correlator) Current() *Match { return c.current }

// Apply feeds one event through the state machine.
func (c *Correlator) Apply(ev protocol.Event) Transition {
	switch e := ev.(type) {
	case protocol.OpenBet:
		return c.open(e)
	case protocol.OpenBetExhibition:
		return c.openExhibition(e)
	case protocol.LockedBet:
		return c.lock(e)
	case protocol.Win:
		return c.win(e)
	default:
		return Transition{}
	}
}

func (c *Correlator) open(e protocol.OpenBet) Transition {
	now := c.now()
	c.abandon("open")
	snap := &Snapshot{Red: e.Red, Blue: e.Blue, Format: e.Format, UpdatedAt: now}
	if !e.Format.Recorded() {
		return Transition{Accepted: true, Snapshot: snap}
	}
	tier := e.Tier
	snap.Tier = &tier
	c.current = New(e, now)
	c.logger.Info("match opened",
		slog.String("red", e.Red),
		slog.String("blue", e.Blue),
		slog.String("tier", string(e.Tier)),
		slog.String("format", string(e.Format)))
	return Transition{Accepted: true, Snapshot: snap}
}

func (c *Correlator) openExhibition(e protocol.OpenBetExhibition) Transition {
	c.abandon("exhibition")
	return Transition{
		Accepted: true,
		Snapshot: &Snapshot{Red: e.Red, Blue: e.Blue, Format: protocol.FormatExhibition, UpdatedAt: c.now()},
	}
}

func (c *Correlator) lock(e protocol.LockedBet) Transition {
	if c.current == nil {
		return c.reject(e, ErrNoMatch)
	}
	if err := c.current.Lock(e); err != nil {
		return c.reject(e, err)
	}
	c.logger.Info("bets locked",
		slog.Int64("bet_red", e.BetRed),
		slog.Int64("bet_blue", e.BetBlue),
		slog.Int("streak_red", e.StreakRed),
		slog.Int("streak_blue", e.StreakBlue))
	return Transition{Accepted: true}
}

func (c *Correlator) win(e protocol.Win) Transition {
	if c.current == nil {
		return c.reject(e, ErrNoMatch)
	}
	if err := c.current.Finish(e, c.now()); err != nil {
		return c.reject(e, err)
	}
	done := c.current
	c.current = nil
	c.logger.Info("match finished", slog.String("winner", e.Winner), slog.String("colour", string(e.Colour)))
	return Transition{Accepted: true, Finished: done}
}

// abandon drops an unfinished match that a new open superseded.
func (c *Correlator) abandon(cause string) {
	if c.current == nil {
		return
	}
	c.logger.Warn("abandoning unfinished match",
		slog.String("red", c.current.Red),
		slog.String("blue", c.current.Blue),
		slog.String("status", c.current.Status.String()),
		slog.String("superseded_by", cause))
	c.current = nil
}

func (c *Correlator) reject(ev protocol.Event, reason error) Transition {
	c.logger.Warn("event rejected", slog.String("kind", ev.Kind()), slog.Any("err", reason))
	return Transition{Reason: reason}
}
