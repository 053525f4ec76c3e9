// Package server exposes the read API over recorded fighters and matches,
// the live current-match view, health probes and metrics. Requests carry a
// correlation ID into their context for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/telemetry"
)

// Reader is the store surface the API reads from. *db.Store satisfies it.
type Reader interface {
	Ping(ctx context.Context) error
	ListFighters(ctx context.Context, f db.FighterFilter, p db.Page) ([]db.Fighter, int, error)
	GetFighter(ctx context.Context, id int64) (db.Fighter, error)
	GetFighterByName(ctx context.Context, name string) (db.Fighter, error)
	ListMatches(ctx context.Context, f db.MatchFilter, p db.Page) ([]db.Match, int, error)
	GetMatch(ctx context.Context, id int64) (db.Match, error)
	LastMatch(ctx context.Context) (db.Match, error)
	MatchesForFighter(ctx context.Context, fighterID int64) ([]db.Match, error)
	ReadCurrentMatch(ctx context.Context) (db.CurrentMatch, bool, error)
	ReadHeartbeat(ctx context.Context) (time.Time, bool, error)
}

// Options tunes middleware and readiness.
type Options struct {
	// CORSAllowedOrigins restricts cross-origin reads; empty allows any origin.
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	// HeartbeatStaleAfter is the heartbeat age past which /readyz fails.
	HeartbeatStaleAfter time.Duration
}

// NewMux returns the HTTP handler with all routes.
func NewMux(rd Reader, opts Options) http.Handler {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 5
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}
	if opts.HeartbeatStaleAfter <= 0 {
		opts.HeartbeatStaleAfter = 5 * time.Minute
	}
	h := NewHandlers(rd, opts.HeartbeatStaleAfter)
	limiter := NewIPRateLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(withCorrelationAndTracing)
	r.Use(corsMiddleware(opts.CORSAllowedOrigins))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimitMiddleware(limiter))
		r.Get("/fighter", h.HandleFighterList)
		r.Get("/fighter/{id}", h.HandleFighterGet)
		r.Get("/match", h.HandleMatchList)
		r.Get("/match/{id}", h.HandleMatchGet)
		r.Get("/last_match", h.HandleLastMatch)
		r.Get("/current_match_info", h.HandleCurrentMatchInfo)
	})
	return r
}

// withCorrelationAndTracing reuses or assigns X-Correlation-ID and wraps the
// request in a span named after the matched route.
func withCorrelationAndTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(telemetry.HTTPRouteAttr(pattern))
			}
		}
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, rd Reader, addr string, opts Options) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(rd, opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
