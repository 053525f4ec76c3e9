package match

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/saltyboy/protocol"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCorrelator() *Correlator {
	return NewCorrelator(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func openAB() protocol.OpenBet {
	return protocol.OpenBet{Red: "A", Blue: "B", Tier: protocol.TierS, Format: protocol.FormatMatchmaking}
}

func lockAB() protocol.LockedBet {
	return protocol.LockedBet{Red: "A", StreakRed: 3, BetRed: 100, Blue: "B", StreakBlue: 0, BetBlue: 200}
}

func TestHappyPath(t *testing.T) {
	c := newTestCorrelator()

	tr := c.Apply(openAB())
	require.True(t, tr.Accepted)
	require.NotNil(t, tr.Snapshot)
	assert.Equal(t, "A", tr.Snapshot.Red)
	require.NotNil(t, tr.Snapshot.Tier)
	assert.Equal(t, protocol.TierS, *tr.Snapshot.Tier)
	require.NotNil(t, c.Current())
	assert.Equal(t, StatusOpen, c.Current().Status)
	assert.Equal(t, "A", c.Current().Red)
	assert.Equal(t, "B", c.Current().Blue)

	tr = c.Apply(lockAB())
	require.True(t, tr.Accepted)
	assert.Nil(t, tr.Snapshot)
	cur := c.Current()
	assert.Equal(t, StatusLocked, cur.Status)
	assert.Equal(t, int64(100), cur.BetRed)
	assert.Equal(t, int64(200), cur.BetBlue)
	assert.Equal(t, 3, cur.StreakRed)
	assert.Equal(t, 0, cur.StreakBlue)

	tr = c.Apply(protocol.Win{Winner: "A", Colour: protocol.ColourRed})
	require.True(t, tr.Accepted)
	require.NotNil(t, tr.Finished)
	assert.Equal(t, StatusDone, tr.Finished.Status)
	assert.Equal(t, "A", tr.Finished.Winner)
	assert.Equal(t, protocol.ColourRed, tr.Finished.Colour)
	assert.True(t, tr.Finished.RedWon())
	assert.Equal(t, fixedNow, tr.Finished.FinishedAt)
	assert.Nil(t, c.Current(), "slot must be cleared after finish")
}

func TestLockNameMismatchLeavesStateUnchanged(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())
	before := *c.Current()

	tr := c.Apply(protocol.LockedBet{Red: "A", Blue: "C", BetRed: 1, BetBlue: 1})
	assert.False(t, tr.Accepted)
	assert.ErrorIs(t, tr.Reason, ErrNameMismatch)
	assert.Equal(t, before, *c.Current())
}

func TestLockSwappedSidesIsRejected(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())

	tr := c.Apply(protocol.LockedBet{Red: "B", Blue: "A"})
	assert.ErrorIs(t, tr.Reason, ErrNameMismatch)
	assert.Equal(t, StatusOpen, c.Current().Status)
}

func TestWinWhileOpenIsRejected(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())

	tr := c.Apply(protocol.Win{Winner: "A", Colour: protocol.ColourRed})
	assert.False(t, tr.Accepted)
	assert.ErrorIs(t, tr.Reason, ErrWrongStatus)
	assert.Nil(t, tr.Finished)
	assert.Equal(t, StatusOpen, c.Current().Status)
}

func TestSecondLockIsRejected(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())
	c.Apply(lockAB())

	tr := c.Apply(protocol.LockedBet{Red: "A", Blue: "B", BetRed: 5, BetBlue: 5})
	assert.ErrorIs(t, tr.Reason, ErrWrongStatus)
	assert.Equal(t, int64(100), c.Current().BetRed)
}

func TestWinUnknownFighterIsRejected(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())
	c.Apply(lockAB())

	tr := c.Apply(protocol.Win{Winner: "Z", Colour: protocol.ColourBlue})
	assert.ErrorIs(t, tr.Reason, ErrNameMismatch)
	assert.Equal(t, StatusLocked, c.Current().Status)
}

func TestEventsWithoutMatchAreIgnored(t *testing.T) {
	c := newTestCorrelator()

	for _, ev := range []protocol.Event{lockAB(), protocol.Win{Winner: "A", Colour: protocol.ColourRed}} {
		tr := c.Apply(ev)
		assert.False(t, tr.Accepted)
		assert.ErrorIs(t, tr.Reason, ErrNoMatch)
	}
	assert.Nil(t, c.Current())
}

func TestNewOpenDiscardsLockedMatch(t *testing.T) {
	c := newTestCorrelator()
	c.Apply(openAB())
	c.Apply(lockAB())

	tr := c.Apply(protocol.OpenBet{Red: "C", Blue: "D", Tier: protocol.TierA, Format: protocol.FormatTournament})
	require.True(t, tr.Accepted)
	assert.Nil(t, tr.Finished, "abandoned match must not be recorded")
	require.NotNil(t, c.Current())
	assert.Equal(t, "C", c.Current().Red)
	assert.Equal(t, StatusOpen, c.Current().Status)

	// The old match's winner no longer applies.
	tr = c.Apply(protocol.Win{Winner: "A", Colour: protocol.ColourRed})
	assert.False(t, tr.Accepted)
}

func TestExhibitionCreatesNoMatch(t *testing.T) {
	tests := []struct {
		name string
		ev   protocol.Event
	}{
		{"tiered exhibition", protocol.OpenBet{Red: "E", Blue: "F", Tier: protocol.TierX, Format: protocol.FormatExhibition}},
		{"untiered exhibition", protocol.OpenBetExhibition{Red: "E", Blue: "F"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCorrelator()
			c.Apply(openAB())
			c.Apply(lockAB())

			tr := c.Apply(tt.ev)
			require.True(t, tr.Accepted)
			require.NotNil(t, tr.Snapshot)
			assert.Equal(t, protocol.FormatExhibition, tr.Snapshot.Format)
			assert.Nil(t, tr.Snapshot.Tier)
			assert.Equal(t, "E", tr.Snapshot.Red)
			assert.Nil(t, c.Current(), "exhibitions never create an in-flight match")

			// Subsequent lock/win for the exhibition go nowhere.
			assert.False(t, c.Apply(protocol.LockedBet{Red: "E", Blue: "F"}).Accepted)
			assert.Nil(t, c.Apply(protocol.Win{Winner: "E", Colour: protocol.ColourRed}).Finished)
		})
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "open", StatusOpen.String())
	assert.Equal(t, "locked", StatusLocked.String())
	assert.Equal(t, "done", StatusDone.String())
	assert.Equal(t, "unknown", Status(0).String())
}
