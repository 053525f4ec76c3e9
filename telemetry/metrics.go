// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsParsed      *prometheus.CounterVec // label: kind
	ParseFailures     prometheus.Counter
	EventsRejected    *prometheus.CounterVec // label: reason
	MatchesRecorded   *prometheus.CounterVec // label: format
	MatchesDropped    prometheus.Counter
	Reconnects        *prometheus.CounterVec // label: reason
	HeartbeatsWritten prometheus.Counter
	WorkerRestarts    *prometheus.CounterVec // label: reason

	// Histograms (seconds)
	RecordDuration prometheus.Observer

	// Gauges
	InFlightStatus prometheus.Gauge // 0=none,1=open,2=locked
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsParsed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "saltyboy_events_parsed_total", Help: "Announcer events decoded, by kind"}, []string{"kind"})
		ParseFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "saltyboy_parse_failures_total", Help: "Announcer lines dropped for malformed fields"})
		EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "saltyboy_events_rejected_total", Help: "Events ignored by the match correlator, by reason"}, []string{"reason"})
		MatchesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "saltyboy_matches_recorded_total", Help: "Finished matches persisted, by format"}, []string{"format"})
		MatchesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "saltyboy_matches_dropped_total", Help: "Finished matches dropped for data-integrity errors"})
		Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "saltyboy_irc_reconnects_total", Help: "Chat reconnects, by cause"}, []string{"reason"})
		HeartbeatsWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "saltyboy_heartbeats_written_total", Help: "Heartbeat rows written"})
		WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "saltyboy_worker_restarts_total", Help: "Ingestion worker restarts by the supervisor, by cause"}, []string{"reason"})
		RecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "saltyboy_record_match_duration_seconds", Help: "Time to persist a finished match and its rating updates", Buckets: prometheus.DefBuckets})
		InFlightStatus = promauto.NewGauge(prometheus.GaugeOpts{Name: "saltyboy_inflight_status", Help: "In-flight match status none=0 open=1 locked=2"})
	})
}

// ObserveEvent counts a decoded announcer event.
func ObserveEvent(kind string) {
	if EventsParsed != nil {
		EventsParsed.WithLabelValues(kind).Inc()
	}
}

// ObserveParseFailure counts a dropped malformed line.
func ObserveParseFailure() {
	if ParseFailures != nil {
		ParseFailures.Inc()
	}
}

// ObserveRejection counts an event ignored by a correlator guard.
func ObserveRejection(reason string) {
	if EventsRejected != nil {
		EventsRejected.WithLabelValues(reason).Inc()
	}
}

// ObserveRecorded counts a persisted match.
func ObserveRecorded(format string) {
	if MatchesRecorded != nil {
		MatchesRecorded.WithLabelValues(format).Inc()
	}
}

// ObserveDropped counts a finished match that could not be persisted.
func ObserveDropped() {
	if MatchesDropped != nil {
		MatchesDropped.Inc()
	}
}

// ObserveReconnect counts a chat reconnect.
func ObserveReconnect(reason string) {
	if Reconnects != nil {
		Reconnects.WithLabelValues(reason).Inc()
	}
}

// ObserveHeartbeat counts a heartbeat write.
func ObserveHeartbeat() {
	if HeartbeatsWritten != nil {
		HeartbeatsWritten.Inc()
	}
}

// ObserveRestart counts a supervisor restart.
func ObserveRestart(reason string) {
	if WorkerRestarts != nil {
		WorkerRestarts.WithLabelValues(reason).Inc()
	}
}

// SetInFlightStatus records the correlator status as a number.
func SetInFlightStatus(v int) {
	if InFlightStatus != nil {
		InFlightStatus.Set(float64(v))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
