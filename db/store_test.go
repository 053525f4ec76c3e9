package db

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/saltyboy/match"
	"github.com/onnwee/saltyboy/protocol"
)

var storeNow = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
	s := NewStore(db,
		WithStoreLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithStoreClock(func() time.Time { return storeNow }))
	return s, db
}

func finished(red, blue, winner string, colour protocol.Colour, tier protocol.Tier, format protocol.MatchFormat) *match.Match {
	return &match.Match{
		Status: match.StatusDone, Red: red, Blue: blue, Tier: tier, Format: format,
		BetRed: 1000, BetBlue: 2500, StreakRed: 3, StreakBlue: -2,
		Winner: winner, Colour: colour, FinishedAt: storeNow,
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestGetOrCreateFighterIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateFighter(ctx, "Ryu", protocol.TierS, 4)
	require.NoError(t, err)
	assert.Equal(t, 1500, a.Elo)
	assert.Equal(t, 1500, a.TierElo)
	assert.Equal(t, protocol.TierS, a.Tier)
	assert.Equal(t, protocol.TierS, a.PrevTier)
	assert.Equal(t, 4, a.BestStreak)

	b, err := s.GetOrCreateFighter(ctx, "Ryu", protocol.TierA, 9)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, protocol.TierS, b.Tier, "existing fighter is returned unchanged")

	_, err = s.GetOrCreateFighter(ctx, "ryu", protocol.TierS, 0)
	require.NoError(t, err)
	got, _, err := s.ListFighters(ctx, FighterFilter{}, Page{})
	require.NoError(t, err)
	assert.Len(t, got, 2, "names are case sensitive")
}

func TestGetOrCreateFighterKeepsIDsDense(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateFighter(ctx, "A", protocol.TierS, 0)
	require.NoError(t, err)
	for range 3 {
		again, err := s.GetOrCreateFighter(ctx, "A", protocol.TierS, 0)
		require.NoError(t, err)
		require.Equal(t, a.ID, again.ID)
	}
	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking)))
	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "B", protocol.ColourBlue, protocol.TierS, protocol.FormatMatchmaking)))

	c, err := s.GetOrCreateFighter(ctx, "C", protocol.TierS, 0)
	require.NoError(t, err)
	b, err := s.GetFighterByName(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, a.ID+1, b.ID)
	assert.Equal(t, b.ID+1, c.ID, "lookups of existing fighters do not consume ids")
}

func TestRecordMatchUpdatesRatings(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking)))

	assert.Equal(t, 1, countRows(t, db, "match"))
	a, err := s.GetFighterByName(ctx, "A")
	require.NoError(t, err)
	b, err := s.GetFighterByName(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1516, a.Elo)
	assert.Equal(t, 1516, a.TierElo)
	assert.Equal(t, 1484, b.Elo)
	assert.Equal(t, 1484, b.TierElo)
	assert.Equal(t, 3, a.BestStreak)
	assert.Equal(t, -2, b.BestStreak)

	m, err := s.LastMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, m.FighterRed)
	assert.Equal(t, b.ID, m.FighterBlue)
	assert.Equal(t, a.ID, m.Winner)
	assert.Equal(t, int64(1000), m.BetRed)
	assert.Equal(t, int64(2500), m.BetBlue)
	assert.Equal(t, protocol.ColourRed, m.Colour)
	assert.Equal(t, protocol.FormatMatchmaking, m.MatchFormat)
}

func TestRecordMatchTierChange(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking)))
	require.NoError(t, s.RecordMatch(ctx, finished("A", "C", "A", protocol.ColourRed, protocol.TierA, protocol.FormatTournament)))

	a, err := s.GetFighterByName(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, protocol.TierA, a.Tier)
	assert.Equal(t, protocol.TierS, a.PrevTier)
	// Tier rating restarted at 1500 before the second win against a fresh fighter.
	assert.Equal(t, 1516, a.TierElo)
	assert.Greater(t, a.Elo, 1516)
}

func TestRecordMatchSkipsExhibition(t *testing.T) {
	s, db := newTestStore(t)

	err := s.RecordMatch(context.Background(), finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatExhibition))
	require.NoError(t, err)
	assert.Zero(t, countRows(t, db, "match"))
	assert.Zero(t, countRows(t, db, "fighter"))
}

func TestRecordMatchWinnerNotFoundWritesNothing(t *testing.T) {
	s, db := newTestStore(t)

	err := s.RecordMatch(context.Background(), finished("A", "B", "Z", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWinnerNotFound))
	assert.True(t, IsIntegrityError(err))
	assert.Zero(t, countRows(t, db, "match"))
	assert.Zero(t, countRows(t, db, "fighter"), "fighter creation rolls back with the match")
}

func TestRecordMatchColourMismatch(t *testing.T) {
	s, db := newTestStore(t)

	err := s.RecordMatch(context.Background(), finished("A", "B", "A", protocol.ColourBlue, protocol.TierS, protocol.FormatMatchmaking))
	assert.ErrorIs(t, err, ErrColourMismatch)
	assert.Zero(t, countRows(t, db, "match"))
}

func TestReplaceCurrentMatch(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadCurrentMatch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	tier := protocol.TierB
	require.NoError(t, s.ReplaceCurrentMatch(ctx, match.Snapshot{Red: "A", Blue: "B", Format: protocol.FormatMatchmaking, Tier: &tier, UpdatedAt: storeNow}))
	require.NoError(t, s.ReplaceCurrentMatch(ctx, match.Snapshot{Red: "E", Blue: "F", Format: protocol.FormatExhibition, UpdatedAt: storeNow.Add(time.Minute)}))

	assert.Equal(t, 1, countRows(t, db, "current_match"))
	cm, ok, err := s.ReadCurrentMatch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E", cm.FighterRed)
	assert.Equal(t, "F", cm.FighterBlue)
	assert.Nil(t, cm.Tier)
	assert.Equal(t, protocol.FormatExhibition, cm.MatchFormat)
	assert.True(t, cm.UpdatedAt.Equal(storeNow.Add(time.Minute)))
}

func TestHeartbeat(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadHeartbeat(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteHeartbeat(ctx, storeNow))
	require.NoError(t, s.WriteHeartbeat(ctx, storeNow.Add(10*time.Second)))

	assert.Equal(t, 1, countRows(t, db, "bot_heartbeat"))
	at, ok, err := s.ReadHeartbeat(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(storeNow.Add(10*time.Second)))
}

func TestApplyRatingUpdateMissingFighter(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.ApplyRatingUpdate(context.Background(), 999999, finishedUpdate())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMatchesFilters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking)))
	require.NoError(t, s.RecordMatch(ctx, finished("C", "A", "C", protocol.ColourRed, protocol.TierS, protocol.FormatTournament)))
	require.NoError(t, s.RecordMatch(ctx, finished("B", "C", "C", protocol.ColourBlue, protocol.TierA, protocol.FormatMatchmaking)))

	a, err := s.GetFighterByName(ctx, "A")
	require.NoError(t, err)

	got, total, err := s.ListMatches(ctx, MatchFilter{Fighter: &a.ID}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)
	assert.Less(t, got[0].ID, got[1].ID)

	format := protocol.FormatTournament
	_, total, err = s.ListMatches(ctx, MatchFilter{MatchFormat: &format}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	colour := protocol.ColourBlue
	_, total, err = s.ListMatches(ctx, MatchFilter{Colour: &colour}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	lt := int64(2000)
	_, total, err = s.ListMatches(ctx, MatchFilter{BetBlueLt: &lt}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	page, total, err := s.ListMatches(ctx, MatchFilter{}, Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)

	history, err := s.MatchesForFighter(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = s.GetMatch(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetFighter(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFightersFilters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMatch(ctx, finished("A", "B", "A", protocol.ColourRed, protocol.TierS, protocol.FormatMatchmaking)))

	gte := 1500
	got, total, err := s.ListFighters(ctx, FighterFilter{EloGte: &gte}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)

	tier := protocol.TierS
	_, total, err = s.ListFighters(ctx, FighterFilter{Tier: &tier}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
