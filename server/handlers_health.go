package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.rd.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready when the database answers and the ingestion
// heartbeat is fresh.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", h.rd.Ping},
		{"heartbeat", func(ctx context.Context) error {
			at, ok, err := h.rd.ReadHeartbeat(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no heartbeat recorded")
			}
			if age := h.now().Sub(at); age > h.heartbeatStale {
				return fmt.Errorf("heartbeat is %s old", age.Round(time.Second))
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
