package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/saltyboy/protocol"
)

// Page selects a window of results ordered by id ascending.
type Page struct {
	Page     int
	PageSize int
}

// Pagination limits.
const (
	DefaultPageSize = 100
	MaxPageSize     = 100
	MaxPage         = 1_000_000
)

// FighterFilter narrows ListFighters. Nil fields are ignored.
type FighterFilter struct {
	Name       *string
	Tier       *protocol.Tier
	PrevTier   *protocol.Tier
	EloGte     *int
	EloLt      *int
	TierEloGte *int
	TierEloLt  *int
}

// MatchFilter narrows ListMatches. Nil fields are ignored. Fighter matches
// either side; BetGte/BetLt and StreakGte/StreakLt match when either side
// satisfies the bound.
type MatchFilter struct {
	FighterRed  *int64
	FighterBlue *int64
	Fighter     *int64
	Winner      *int64

	BetRedGte  *int64
	BetRedLt   *int64
	BetBlueGte *int64
	BetBlueLt  *int64
	BetGte     *int64
	BetLt      *int64

	StreakRedGte  *int
	StreakRedLt   *int
	StreakBlueGte *int
	StreakBlueLt  *int
	StreakGte     *int
	StreakLt      *int

	Tier        *protocol.Tier
	MatchFormat *protocol.MatchFormat
	Colour      *protocol.Colour
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

// add appends cond, replacing every '?' with the placeholder for v.
func (w *where) add(cond string, v any) {
	w.args = append(w.args, v)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func addIf[T any](w *where, cond string, v *T) {
	if v != nil {
		w.add(cond, *v)
	}
}

func (f FighterFilter) where() *where {
	w := &where{}
	addIf(w, "name = ?", f.Name)
	addIf(w, "tier = ?", (*string)(f.Tier))
	addIf(w, "prev_tier = ?", (*string)(f.PrevTier))
	addIf(w, "elo >= ?", f.EloGte)
	addIf(w, "elo < ?", f.EloLt)
	addIf(w, "tier_elo >= ?", f.TierEloGte)
	addIf(w, "tier_elo < ?", f.TierEloLt)
	return w
}

func (f MatchFilter) where() *where {
	w := &where{}
	addIf(w, "fighter_red = ?", f.FighterRed)
	addIf(w, "fighter_blue = ?", f.FighterBlue)
	addIf(w, "(fighter_red = ? OR fighter_blue = ?)", f.Fighter)
	addIf(w, "winner = ?", f.Winner)
	addIf(w, "bet_red >= ?", f.BetRedGte)
	addIf(w, "bet_red < ?", f.BetRedLt)
	addIf(w, "bet_blue >= ?", f.BetBlueGte)
	addIf(w, "bet_blue < ?", f.BetBlueLt)
	addIf(w, "(bet_red >= ? OR bet_blue >= ?)", f.BetGte)
	addIf(w, "(bet_red < ? OR bet_blue < ?)", f.BetLt)
	addIf(w, "streak_red >= ?", f.StreakRedGte)
	addIf(w, "streak_red < ?", f.StreakRedLt)
	addIf(w, "streak_blue >= ?", f.StreakBlueGte)
	addIf(w, "streak_blue < ?", f.StreakBlueLt)
	addIf(w, "(streak_red >= ? OR streak_blue >= ?)", f.StreakGte)
	addIf(w, "(streak_red < ? OR streak_blue < ?)", f.StreakLt)
	addIf(w, "tier = ?", (*string)(f.Tier))
	addIf(w, "match_format = ?", (*string)(f.MatchFormat))
	addIf(w, "colour = ?", (*string)(f.Colour))
	return w
}

func (p Page) clause(w *where) string {
	size := p.PageSize
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	page := p.Page
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	n := len(w.args)
	w.args = append(w.args, page*size, size)
	return fmt.Sprintf(" ORDER BY id ASC OFFSET $%d LIMIT $%d", n+1, n+2)
}

// ListFighters returns one page of fighters and the total matching count.
func (s *Store) ListFighters(ctx context.Context, f FighterFilter, p Page) ([]Fighter, int, error) {
	w := f.where()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fighter`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count fighters: %w", err)
	}
	q := `SELECT ` + fighterColumns + ` FROM fighter` + w.sql()
	q += p.clause(w)
	rows, err := s.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list fighters: %w", err)
	}
	defer rows.Close()
	out := []Fighter{}
	for rows.Next() {
		f, err := scanFighter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

// GetFighter returns the fighter with id or ErrNotFound.
func (s *Store) GetFighter(ctx context.Context, id int64) (Fighter, error) {
	f, err := scanFighter(s.db.QueryRowContext(ctx, `SELECT `+fighterColumns+` FROM fighter WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Fighter{}, ErrNotFound
	}
	return f, err
}

// GetFighterByName returns the fighter called name or ErrNotFound.
func (s *Store) GetFighterByName(ctx context.Context, name string) (Fighter, error) {
	f, err := scanFighter(s.db.QueryRowContext(ctx, `SELECT `+fighterColumns+` FROM fighter WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Fighter{}, ErrNotFound
	}
	return f, err
}

const matchColumns = `id, date, fighter_red, fighter_blue, winner, bet_red, bet_blue, streak_red, streak_blue, tier, match_format, colour`

func scanMatch(row interface{ Scan(...any) error }) (Match, error) {
	var m Match
	var tier, format, colour string
	err := row.Scan(&m.ID, &m.Date, &m.FighterRed, &m.FighterBlue, &m.Winner, &m.BetRed, &m.BetBlue,
		&m.StreakRed, &m.StreakBlue, &tier, &format, &colour)
	if err != nil {
		return Match{}, err
	}
	m.Tier = protocol.Tier(tier)
	m.MatchFormat = protocol.MatchFormat(format)
	m.Colour = protocol.Colour(colour)
	return m, nil
}

func (s *Store) queryMatches(ctx context.Context, q string, args ...any) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMatches returns one page of matches and the total matching count.
func (s *Store) ListMatches(ctx context.Context, f MatchFilter, p Page) ([]Match, int, error) {
	w := f.where()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count matches: %w", err)
	}
	q := `SELECT ` + matchColumns + ` FROM match` + w.sql()
	q += p.clause(w)
	out, err := s.queryMatches(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list matches: %w", err)
	}
	return out, total, nil
}

// GetMatch returns the match with id or ErrNotFound.
func (s *Store) GetMatch(ctx context.Context, id int64) (Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM match WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	return m, err
}

// LastMatch returns the most recently recorded match or ErrNotFound.
func (s *Store) LastMatch(ctx context.Context) (Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM match ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrNotFound
	}
	return m, err
}

// MatchesForFighter returns every match the fighter took part in, oldest first.
func (s *Store) MatchesForFighter(ctx context.Context, fighterID int64) ([]Match, error) {
	out, err := s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM match WHERE fighter_red = $1 OR fighter_blue = $1 ORDER BY id ASC`, fighterID)
	if err != nil {
		return nil, fmt.Errorf("matches for fighter %d: %w", fighterID, err)
	}
	return out, nil
}
