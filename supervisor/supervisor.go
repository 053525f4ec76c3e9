// Package supervisor keeps one ingestion worker running and restarts it when
// its liveness signals go stale or it exits.
//
// Liveness is read back from the store rather than from the worker itself:
// a worker that is alive but wedged stops refreshing the heartbeat row, and a
// worker that is connected but deaf to the announcer stops refreshing the
// current-match snapshot.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/telemetry"
)

// Worker runs until ctx is cancelled or it fails.
type Worker func(ctx context.Context) error

// Probe reads the liveness rows written by the worker. *db.Store satisfies it.
type Probe interface {
	ReadHeartbeat(ctx context.Context) (time.Time, bool, error)
	ReadCurrentMatch(ctx context.Context) (db.CurrentMatch, bool, error)
}

// Config controls restart policy.
type Config struct {
	// HeartbeatStaleAfter is the maximum heartbeat age.
	HeartbeatStaleAfter time.Duration
	// SnapshotStaleAfter is the maximum current-match age; zero disables the check.
	SnapshotStaleAfter time.Duration
	// Cooldown is the minimum time between two worker starts. Liveness is
	// not checked during it.
	Cooldown time.Duration
	// CheckInterval is how often liveness is checked.
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatStaleAfter <= 0 {
		c.HeartbeatStaleAfter = 5 * time.Minute
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	return c
}

// Supervisor owns the worker lifecycle.
type Supervisor struct {
	worker Worker
	probe  Probe
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	done      chan error
	startedAt time.Time
	restarts  int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithClock overrides the time source used for staleness and cooldown.
func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// New builds a supervisor for worker.
func New(worker Worker, probe Probe, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{worker: worker, probe: probe, cfg: cfg.withDefaults(), logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "supervisor")
	return s
}

// Restarts returns how many times the worker was restarted. Only valid
// after Run returns.
func (s *Supervisor) Restarts() int { return s.restarts }

// Run starts the worker and supervises it until ctx is cancelled. It always
// stops the worker before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.start(ctx)
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stop()
			s.logger.Info("supervisor stopped")
			return nil
		case err := <-s.done:
			s.done = nil
			s.cancel()
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("worker exited", slog.Any("err", err))
			if err := s.waitCooldown(ctx); err != nil {
				return nil
			}
			s.restart(ctx, "worker_exit")
		case <-ticker.C:
			if reason := s.check(ctx); reason != "" {
				s.stop()
				s.restart(ctx, reason)
			}
		}
	}
}

func (s *Supervisor) start(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	s.cancel, s.done, s.startedAt = cancel, done, s.now()
	go func() { done <- s.worker(wctx) }()
	s.logger.Info("worker started")
}

// stop cancels the worker and waits for it to return.
func (s *Supervisor) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("worker stopped with error", slog.Any("err", err))
		}
		s.done = nil
	}
}

func (s *Supervisor) restart(ctx context.Context, reason string) {
	s.restarts++
	telemetry.ObserveRestart(reason)
	s.logger.Warn("restarting worker", slog.String("reason", reason), slog.Int("restarts", s.restarts))
	s.start(ctx)
}

func (s *Supervisor) waitCooldown(ctx context.Context) error {
	remaining := s.cfg.Cooldown - s.now().Sub(s.startedAt)
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// check returns a restart reason, or "" when the worker looks healthy. A
// freshly started worker is judged from its start time until it writes
// newer rows.
func (s *Supervisor) check(ctx context.Context) string {
	now := s.now()
	if now.Sub(s.startedAt) < s.cfg.Cooldown {
		return ""
	}
	hb, ok, err := s.probe.ReadHeartbeat(ctx)
	if err != nil {
		s.logger.Warn("heartbeat check failed", slog.Any("err", err))
		return ""
	}
	if age := now.Sub(latest(hb, ok, s.startedAt)); age > s.cfg.HeartbeatStaleAfter {
		s.logger.Warn("heartbeat stale", slog.Duration("age", age))
		return "stale_heartbeat"
	}
	if s.cfg.SnapshotStaleAfter <= 0 {
		return ""
	}
	cm, ok, err := s.probe.ReadCurrentMatch(ctx)
	if err != nil {
		s.logger.Warn("current match check failed", slog.Any("err", err))
		return ""
	}
	if age := now.Sub(latest(cm.UpdatedAt, ok, s.startedAt)); age > s.cfg.SnapshotStaleAfter {
		s.logger.Warn("current match stale", slog.Duration("age", age))
		return "stale_snapshot"
	}
	return ""
}

func latest(at time.Time, ok bool, startedAt time.Time) time.Time {
	if ok && at.After(startedAt) {
		return at
	}
	return startedAt
}
