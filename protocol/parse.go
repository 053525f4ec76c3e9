package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformed marks a line that matched a known shape but carried a numeric
// field that could not be decoded. Callers drop the line and keep going.
var ErrMalformed = errors.New("malformed announcer line")

var (
	openBetRE = regexp.MustCompile(`^Bets are OPEN for (.+) vs (.+)!\s+\((.) Tier\)\s+.*`)

	openBetExhibitionRE = regexp.MustCompile(`^Bets are OPEN for (.+) vs (.+)!\s+\(.+\)\s+\(exhibitions\)\s+.*`)

	lockedBetRE = regexp.MustCompile(`^Bets are locked\. (.+) \((-?[0-9]+)\) - \$((?:[0-9]{1,3},)*[0-9]{1,3}), (.+) \((-?[0-9]+)\) - \$((?:[0-9]{1,3},)*[0-9]{1,3})(?:$|[^0-9,]|,[^0-9])`)

	winRE = regexp.MustCompile(`^(.+) wins! Payouts to Team (Red|Blue)\..*`)
)

// Parse decodes one announcer message body (the text after the channel marker).
//
// Shapes are tried in a fixed order because they overlap: open, locked, win and
// finally the exhibition open, which only matches when the tier segment is
// absent. A line matching nothing returns (nil, nil).
func Parse(line string) (Event, error) {
	if m := openBetRE.FindStringSubmatch(line); m != nil {
		return OpenBet{
			Red:    m[1],
			Blue:   m[2],
			Tier:   Tier(m[3]),
			Format: classifyFormat(line),
		}, nil
	}
	if m := lockedBetRE.FindStringSubmatch(line); m != nil {
		return parseLocked(m)
	}
	if m := winRE.FindStringSubmatch(line); m != nil {
		return Win{Winner: m[1], Colour: Colour(m[2])}, nil
	}
	if m := openBetExhibitionRE.FindStringSubmatch(line); m != nil {
		return OpenBetExhibition{Red: m[1], Blue: m[2]}, nil
	}
	return nil, nil
}

func classifyFormat(line string) MatchFormat {
	switch {
	case strings.Contains(line, "(matchmaking)"):
		return FormatMatchmaking
	case strings.Contains(line, "tournament bracket"):
		return FormatTournament
	default:
		return FormatExhibition
	}
}

func parseLocked(m []string) (Event, error) {
	streakRed, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: red streak %q: %v", ErrMalformed, m[2], err)
	}
	betRed, err := ParseAmount(m[3])
	if err != nil {
		return nil, fmt.Errorf("%w: red bet: %v", ErrMalformed, err)
	}
	streakBlue, err := strconv.Atoi(m[5])
	if err != nil {
		return nil, fmt.Errorf("%w: blue streak %q: %v", ErrMalformed, m[5], err)
	}
	betBlue, err := ParseAmount(m[6])
	if err != nil {
		return nil, fmt.Errorf("%w: blue bet: %v", ErrMalformed, err)
	}
	return LockedBet{
		Red:        m[1],
		StreakRed:  streakRed,
		BetRed:     betRed,
		Blue:       m[4],
		StreakBlue: streakBlue,
		BetBlue:    betBlue,
	}, nil
}

// ParseAmount decodes a dollar amount grouped with English thousands
// separators, e.g. "12,345" -> 12345. Only ASCII digits are accepted.
func ParseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	return n, nil
}
