package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/protocol"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryParser reads typed optional query parameters and collects every
// validation failure so a single 400 can name them all.
type queryParser struct {
	q    url.Values
	errs []string
}

func newQueryParser(r *http.Request) *queryParser {
	return &queryParser{q: r.URL.Query()}
}

func (p *queryParser) fail(key, format string, args ...any) {
	p.errs = append(p.errs, key+": "+fmt.Sprintf(format, args...))
}

func (p *queryParser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(p.errs, "; "))
}

func (p *queryParser) str(key string) *string {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func (p *queryParser) intPtr(key string) *int {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, "not an integer")
		return nil
	}
	return &n
}

func (p *queryParser) int64Ptr(key string) *int64 {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, "not an integer")
		return nil
	}
	return &n
}

func (p *queryParser) tier(key string) *protocol.Tier {
	v := p.str(key)
	if v == nil {
		return nil
	}
	t := protocol.Tier(strings.ToUpper(*v))
	if !t.Valid() {
		p.fail(key, "unknown tier %q", *v)
		return nil
	}
	return &t
}

func (p *queryParser) format(key string) *protocol.MatchFormat {
	v := p.str(key)
	if v == nil {
		return nil
	}
	f := protocol.MatchFormat(strings.ToLower(*v))
	if !f.Recorded() {
		p.fail(key, "must be matchmaking or tournament")
		return nil
	}
	return &f
}

func (p *queryParser) colour(key string) *protocol.Colour {
	v := p.str(key)
	if v == nil {
		return nil
	}
	c := protocol.Colour(*v)
	if !c.Valid() {
		p.fail(key, "must be Red or Blue")
		return nil
	}
	return &c
}

// page reads page (0..MaxPage, default 0) and page_size (1..100, default 100).
func (p *queryParser) page() db.Page {
	pg := db.Page{Page: 0, PageSize: db.DefaultPageSize}
	if n := p.intPtr("page"); n != nil {
		if *n < 0 || *n > db.MaxPage {
			p.fail("page", "must be between 0 and %d", db.MaxPage)
		} else {
			pg.Page = *n
		}
	}
	if n := p.intPtr("page_size"); n != nil {
		if *n < 1 || *n > db.MaxPageSize {
			p.fail("page_size", "must be between 1 and %d", db.MaxPageSize)
		} else {
			pg.PageSize = *n
		}
	}
	return pg
}

// pathID parses a positive integer URL segment.
func pathID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
