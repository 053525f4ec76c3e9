// Package server exposes the HTTP API handlers.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/protocol"
	"github.com/onnwee/saltyboy/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	rd             Reader
	heartbeatStale time.Duration
	now            func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(rd Reader, heartbeatStale time.Duration) *Handlers {
	return &Handlers{rd: rd, heartbeatStale: heartbeatStale, now: time.Now}
}

// page is the paginated list envelope.
type page[T any] struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Count    int `json:"count"`
	Results  []T `json:"results"`
}

// fighterInfo is a fighter together with every match it fought.
type fighterInfo struct {
	db.Fighter
	Matches []db.Match `json:"matches"`
}

// currentMatchInfo is the live match view. The info fields are omitted for
// exhibitions and for fighters that have never been recorded.
type currentMatchInfo struct {
	db.CurrentMatch
	FighterRedInfo  *fighterInfo `json:"fighter_red_info,omitempty"`
	FighterBlueInfo *fighterInfo `json:"fighter_blue_info,omitempty"`
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	telemetry.LoggerWithCorr(r.Context()).Error(op+" failed", slog.Any("err", err), slog.String("component", "http"))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// HandleFighterList serves GET /api/fighter/.
func (h *Handlers) HandleFighterList(w http.ResponseWriter, r *http.Request) {
	q := newQueryParser(r)
	f := db.FighterFilter{
		Name:       q.str("name"),
		Tier:       q.tier("tier"),
		PrevTier:   q.tier("prev_tier"),
		EloGte:     q.intPtr("elo__gte"),
		EloLt:      q.intPtr("elo__lt"),
		TierEloGte: q.intPtr("tier_elo__gte"),
		TierEloLt:  q.intPtr("tier_elo__lt"),
	}
	pg := q.page()
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, total, err := h.rd.ListFighters(r.Context(), f, pg)
	if err != nil {
		h.internalError(w, r, "list fighters", err)
		return
	}
	writeJSON(w, http.StatusOK, page[db.Fighter]{Page: pg.Page, PageSize: pg.PageSize, Count: total, Results: rows})
}

// HandleFighterGet serves GET /api/fighter/{id}/.
func (h *Handlers) HandleFighterGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	f, err := h.rd.GetFighter(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Fighter not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get fighter", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// HandleMatchList serves GET /api/match/.
func (h *Handlers) HandleMatchList(w http.ResponseWriter, r *http.Request) {
	q := newQueryParser(r)
	f := db.MatchFilter{
		FighterRed:    q.int64Ptr("fighter_red"),
		FighterBlue:   q.int64Ptr("fighter_blue"),
		Fighter:       q.int64Ptr("fighter"),
		Winner:        q.int64Ptr("winner"),
		BetRedGte:     q.int64Ptr("bet_red__gte"),
		BetRedLt:      q.int64Ptr("bet_red__lt"),
		BetBlueGte:    q.int64Ptr("bet_blue__gte"),
		BetBlueLt:     q.int64Ptr("bet_blue__lt"),
		BetGte:        q.int64Ptr("bet__gte"),
		BetLt:         q.int64Ptr("bet__lt"),
		StreakRedGte:  q.intPtr("streak_red__gte"),
		StreakRedLt:   q.intPtr("streak_red__lt"),
		StreakBlueGte: q.intPtr("streak_blue__gte"),
		StreakBlueLt:  q.intPtr("streak_blue__lt"),
		StreakGte:     q.intPtr("streak__gte"),
		StreakLt:      q.intPtr("streak__lt"),
		Tier:          q.tier("tier"),
		MatchFormat:   q.format("match_format"),
		Colour:        q.colour("colour"),
	}
	pg := q.page()
	if err := q.err(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, total, err := h.rd.ListMatches(r.Context(), f, pg)
	if err != nil {
		h.internalError(w, r, "list matches", err)
		return
	}
	writeJSON(w, http.StatusOK, page[db.Match]{Page: pg.Page, PageSize: pg.PageSize, Count: total, Results: rows})
}

// HandleMatchGet serves GET /api/match/{id}/.
func (h *Handlers) HandleMatchGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	m, err := h.rd.GetMatch(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Match not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get match", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleLastMatch serves GET /api/last_match/; {} when nothing is recorded.
func (h *Handlers) HandleLastMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.rd.LastMatch(r.Context())
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	if err != nil {
		h.internalError(w, r, "last match", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleCurrentMatchInfo serves GET /api/current_match_info/; {} when no
// match has opened yet.
func (h *Handlers) HandleCurrentMatchInfo(w http.ResponseWriter, r *http.Request) {
	cm, ok, err := h.rd.ReadCurrentMatch(r.Context())
	if err != nil {
		h.internalError(w, r, "read current match", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	out := currentMatchInfo{CurrentMatch: cm}
	if cm.MatchFormat != protocol.FormatExhibition {
		if out.FighterRedInfo, err = h.fighterInfo(r, cm.FighterRed); err != nil {
			h.internalError(w, r, "red fighter info", err)
			return
		}
		if out.FighterBlueInfo, err = h.fighterInfo(r, cm.FighterBlue); err != nil {
			h.internalError(w, r, "blue fighter info", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// fighterInfo returns nil without error for a fighter not yet recorded.
func (h *Handlers) fighterInfo(r *http.Request, name string) (*fighterInfo, error) {
	f, err := h.rd.GetFighterByName(r.Context(), name)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	matches, err := h.rd.MatchesForFighter(r.Context(), f.ID)
	if err != nil {
		return nil, err
	}
	return &fighterInfo{Fighter: f, Matches: matches}, nil
}
