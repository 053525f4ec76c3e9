package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/saltyboy/match"
	"github.com/onnwee/saltyboy/protocol"
	"github.com/onnwee/saltyboy/rating"
	"github.com/onnwee/saltyboy/telemetry"
)

// Fighter is a persisted fighter row.
type Fighter struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Tier        protocol.Tier `json:"tier"`
	PrevTier    protocol.Tier `json:"prev_tier"`
	Elo         int           `json:"elo"`
	TierElo     int           `json:"tier_elo"`
	BestStreak  int           `json:"best_streak"`
	CreatedTime time.Time     `json:"created_time"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Standing is the fighter's rating input for the next match.
func (f Fighter) Standing() rating.Standing {
	return rating.Standing{Elo: f.Elo, TierElo: f.TierElo, Tier: f.Tier, BestStreak: f.BestStreak}
}

// Match is a persisted, finished match.
type Match struct {
	ID          int64                `json:"id"`
	Date        time.Time            `json:"date"`
	FighterRed  int64                `json:"fighter_red"`
	FighterBlue int64                `json:"fighter_blue"`
	Winner      int64                `json:"winner"`
	BetRed      int64                `json:"bet_red"`
	BetBlue     int64                `json:"bet_blue"`
	StreakRed   int                  `json:"streak_red"`
	StreakBlue  int                  `json:"streak_blue"`
	Tier        protocol.Tier        `json:"tier"`
	MatchFormat protocol.MatchFormat `json:"match_format"`
	Colour      protocol.Colour      `json:"colour"`
}

// CurrentMatch is the live snapshot row.
type CurrentMatch struct {
	FighterRed  string               `json:"fighter_red"`
	FighterBlue string               `json:"fighter_blue"`
	Tier        *protocol.Tier       `json:"tier"`
	MatchFormat protocol.MatchFormat `json:"match_format"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the persistence gateway. All methods are safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption { return func(s *Store) { s.logger = l } }

// WithStoreClock overrides the time source used for last_updated.
func WithStoreClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

// NewStore wraps an open database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "db")
	return s
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.Any("err", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const fighterColumns = `id, name, tier, prev_tier, elo, tier_elo, best_streak, created_time, last_updated`

func scanFighter(row interface{ Scan(...any) error }) (Fighter, error) {
	var f Fighter
	var tier, prev string
	if err := row.Scan(&f.ID, &f.Name, &tier, &prev, &f.Elo, &f.TierElo, &f.BestStreak, &f.CreatedTime, &f.LastUpdated); err != nil {
		return Fighter{}, err
	}
	f.Tier, f.PrevTier = protocol.Tier(tier), protocol.Tier(prev)
	return f, nil
}

// GetOrCreateFighter returns the fighter called name, creating it with
// initial ratings, the given tier and streak when it does not exist.
func (s *Store) GetOrCreateFighter(ctx context.Context, name string, tier protocol.Tier, streak int) (Fighter, error) {
	return s.getOrCreateFighter(ctx, s.db, name, tier, streak)
}

func (s *Store) getOrCreateFighter(ctx context.Context, q querier, name string, tier protocol.Tier, streak int) (Fighter, error) {
	f, err := scanFighter(q.QueryRowContext(ctx, `SELECT `+fighterColumns+` FROM fighter WHERE name = $1`, name))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Fighter{}, fmt.Errorf("select fighter %q: %w", name, err)
	}

	// ON CONFLICT covers a concurrent insert of the same name.
	now := s.now().UTC()
	start := rating.NewStanding(tier, streak)
	f, err = scanFighter(q.QueryRowContext(ctx,
		`INSERT INTO fighter (name, tier, prev_tier, elo, tier_elo, best_streak, created_time, last_updated)
		 VALUES ($1, $2, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING `+fighterColumns,
		name, string(tier), start.Elo, start.TierElo, start.BestStreak, now))
	if err == nil {
		s.logger.Info("fighter created", slog.String("name", name), slog.String("tier", string(tier)))
		return f, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Fighter{}, fmt.Errorf("insert fighter %q: %w", name, err)
	}
	f, err = scanFighter(q.QueryRowContext(ctx, `SELECT `+fighterColumns+` FROM fighter WHERE name = $1`, name))
	if err != nil {
		return Fighter{}, fmt.Errorf("select fighter %q: %w", name, err)
	}
	return f, nil
}

// resolveWinner maps the finished match's winner onto a fighter id. The
// winner must be one of the two fighters and the colour must name its side.
func resolveWinner(m *match.Match, red, blue Fighter) (int64, error) {
	switch m.Colour {
	case protocol.ColourRed:
		if m.Winner == red.Name {
			return red.ID, nil
		}
	case protocol.ColourBlue:
		if m.Winner == blue.Name {
			return blue.ID, nil
		}
	}
	if m.Winner != red.Name && m.Winner != blue.Name {
		return 0, fmt.Errorf("%w: %q (red %q, blue %q)", ErrWinnerNotFound, m.Winner, red.Name, blue.Name)
	}
	return 0, fmt.Errorf("%w: %q paid out to %s", ErrColourMismatch, m.Winner, m.Colour)
}

// RecordMatch persists a finished match and then applies the rating update
// to both fighters. Formats that are not recorded are a logged no-op.
//
// The match row and any newly created fighters commit in one transaction;
// a winner that resolves to neither fighter aborts it with no rows written.
// The rating updates commit in a second transaction computed from both
// fighters' pre-match standings.
func (s *Store) RecordMatch(ctx context.Context, m *match.Match) error {
	if !m.Format.Recorded() {
		s.logger.Debug("skipping unrecorded match format", slog.String("format", string(m.Format)))
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "db.RecordMatch",
		attribute.String("match.format", string(m.Format)),
		attribute.String("match.tier", string(m.Tier)))
	defer span.End()

	var red, blue Fighter
	var matchID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if red, err = s.getOrCreateFighter(ctx, tx, m.Red, m.Tier, m.StreakRed); err != nil {
			return err
		}
		if blue, err = s.getOrCreateFighter(ctx, tx, m.Blue, m.Tier, m.StreakBlue); err != nil {
			return err
		}
		winner, err := resolveWinner(m, red, blue)
		if err != nil {
			return err
		}
		date := m.FinishedAt
		if date.IsZero() {
			date = s.now()
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO match (date, fighter_red, fighter_blue, winner, bet_red, bet_blue, streak_red, streak_blue, tier, match_format, colour)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			date.UTC(), red.ID, blue.ID, winner, m.BetRed, m.BetBlue, m.StreakRed, m.StreakBlue,
			string(m.Tier), string(m.Format), string(m.Colour)).Scan(&matchID)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("record match %q vs %q: %w", m.Red, m.Blue, err)
	}

	// The match row is committed; its rating update must follow even if the
	// caller is cancelled in between.
	rctx := context.WithoutCancel(ctx)
	redUpd, blueUpd := rating.Pair(red.Standing(), blue.Standing(), m.Tier, m.StreakRed, m.StreakBlue, m.RedWon())
	err = s.withTx(rctx, func(tx *sql.Tx) error {
		if err := s.applyRatingUpdate(rctx, tx, red.ID, redUpd); err != nil {
			return err
		}
		return s.applyRatingUpdate(rctx, tx, blue.ID, blueUpd)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("rating update for match %d: %w", matchID, err)
	}

	span.SetAttributes(attribute.Int64("match.id", matchID))
	telemetry.SetSpanSuccess(span)
	s.logger.Info("match recorded",
		slog.Int64("match_id", matchID),
		slog.String("red", m.Red),
		slog.Int("red_elo", redUpd.Elo),
		slog.String("blue", m.Blue),
		slog.Int("blue_elo", blueUpd.Elo),
		slog.String("winner", m.Winner))
	return nil
}

// ApplyRatingUpdate writes a fighter's post-match standing.
func (s *Store) ApplyRatingUpdate(ctx context.Context, fighterID int64, u rating.Update) error {
	return s.applyRatingUpdate(ctx, s.db, fighterID, u)
}

func (s *Store) applyRatingUpdate(ctx context.Context, q querier, fighterID int64, u rating.Update) error {
	res, err := q.ExecContext(ctx,
		`UPDATE fighter SET elo = $2, tier_elo = $3, tier = $4, prev_tier = $5, best_streak = $6, last_updated = $7
		 WHERE id = $1`,
		fighterID, u.Elo, u.TierElo, string(u.Tier), string(u.PrevTier), u.BestStreak, s.now().UTC())
	if err != nil {
		return fmt.Errorf("update fighter %d: %w", fighterID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update fighter %d: %w", fighterID, ErrNotFound)
	}
	return nil
}

// ReplaceCurrentMatch overwrites the single live snapshot row.
func (s *Store) ReplaceCurrentMatch(ctx context.Context, snap match.Snapshot) error {
	var tier sql.NullString
	if snap.Tier != nil {
		tier = sql.NullString{String: string(*snap.Tier), Valid: true}
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM current_match`); err != nil {
			return fmt.Errorf("clear current match: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO current_match (fighter_red, fighter_blue, tier, match_format, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			snap.Red, snap.Blue, tier, string(snap.Format), updated.UTC())
		if err != nil {
			return fmt.Errorf("insert current match: %w", err)
		}
		return nil
	})
}

// ReadCurrentMatch returns the live snapshot; ok is false when none exists.
func (s *Store) ReadCurrentMatch(ctx context.Context) (cm CurrentMatch, ok bool, err error) {
	var tier sql.NullString
	var format string
	err = s.db.QueryRowContext(ctx,
		`SELECT fighter_red, fighter_blue, tier, match_format, updated_at FROM current_match LIMIT 1`).
		Scan(&cm.FighterRed, &cm.FighterBlue, &tier, &format, &cm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CurrentMatch{}, false, nil
	}
	if err != nil {
		return CurrentMatch{}, false, err
	}
	cm.MatchFormat = protocol.MatchFormat(format)
	if tier.Valid {
		t := protocol.Tier(tier.String)
		cm.Tier = &t
	}
	return cm, true, nil
}

// WriteHeartbeat overwrites the single heartbeat row.
func (s *Store) WriteHeartbeat(ctx context.Context, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bot_heartbeat`); err != nil {
			return fmt.Errorf("clear heartbeat: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO bot_heartbeat (heartbeat_time) VALUES ($1)`, at.UTC()); err != nil {
			return fmt.Errorf("insert heartbeat: %w", err)
		}
		return nil
	})
}

// ReadHeartbeat returns the last heartbeat; ok is false when none exists.
func (s *Store) ReadHeartbeat(ctx context.Context) (at time.Time, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT heartbeat_time FROM bot_heartbeat ORDER BY heartbeat_time DESC LIMIT 1`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
