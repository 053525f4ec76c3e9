// Package ingest drives announcer events from the chat source through the
// match correlator into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/saltyboy/chat"
	"github.com/onnwee/saltyboy/db"
	"github.com/onnwee/saltyboy/match"
	"github.com/onnwee/saltyboy/protocol"
	"github.com/onnwee/saltyboy/telemetry"
)

// Source delivers events and heartbeat ticks to a handler. *chat.Source
// satisfies it.
type Source interface {
	Listen(ctx context.Context, handle chat.Handler) error
}

// Gateway is the subset of the store the pipeline writes to.
type Gateway interface {
	RecordMatch(ctx context.Context, m *match.Match) error
	ReplaceCurrentMatch(ctx context.Context, snap match.Snapshot) error
	WriteHeartbeat(ctx context.Context, at time.Time) error
}

// Pipeline is one ingestion session. It owns a correlator and is driven
// from a single goroutine.
type Pipeline struct {
	src    Source
	store  Gateway
	corr   *match.Correlator
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the time source for heartbeats and the correlator.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New builds a pipeline reading from src and writing to store.
func New(src Source, store Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{src: src, store: store, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("component", "ingest", "session", uuid.NewString())
	p.corr = match.NewCorrelator(match.WithLogger(p.logger), match.WithClock(p.now))
	return p
}

// Run listens until ctx is cancelled, the source gives up or a store write
// fails with anything other than a data-integrity error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("ingestion started")
	defer telemetry.SetInFlightStatus(0)
	err := p.src.Listen(ctx, p.Handle)
	if errors.Is(err, context.Canceled) {
		p.logger.Info("ingestion stopped")
		return nil
	}
	if err != nil {
		p.logger.Error("ingestion failed", slog.Any("err", err))
	}
	return err
}

// Handle processes one event. A nil event is the per-cycle tick and writes
// the heartbeat.
// Store writes ignore cancellation of ctx; the source checks it between cycles.
func (p *Pipeline) Handle(ctx context.Context, ev protocol.Event) error {
	ctx = context.WithoutCancel(ctx)
	if ev == nil {
		return p.heartbeat(ctx)
	}
	tr := p.corr.Apply(ev)
	defer p.publishStatus()
	if !tr.Accepted {
		if tr.Reason != nil {
			telemetry.ObserveRejection(rejectionReason(tr.Reason))
		}
		return nil
	}
	if tr.Snapshot != nil {
		if err := p.store.ReplaceCurrentMatch(ctx, *tr.Snapshot); err != nil {
			return fmt.Errorf("replace current match: %w", err)
		}
	}
	if tr.Finished != nil {
		return p.record(ctx, tr.Finished)
	}
	return nil
}

func (p *Pipeline) heartbeat(ctx context.Context) error {
	if err := p.store.WriteHeartbeat(ctx, p.now()); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	telemetry.ObserveHeartbeat()
	return nil
}

func (p *Pipeline) record(ctx context.Context, m *match.Match) error {
	var err error
	telemetry.TimeFunc(telemetry.RecordDuration, func() {
		err = p.store.RecordMatch(ctx, m)
	})
	switch {
	case err == nil:
		telemetry.ObserveRecorded(string(m.Format))
		return nil
	case db.IsIntegrityError(err):
		telemetry.ObserveDropped()
		p.logger.Error("dropping match",
			slog.String("red", m.Red),
			slog.String("blue", m.Blue),
			slog.String("winner", m.Winner),
			slog.Any("err", err))
		return nil
	default:
		return err
	}
}

func (p *Pipeline) publishStatus() {
	cur := p.corr.Current()
	switch {
	case cur == nil:
		telemetry.SetInFlightStatus(0)
	case cur.Status == match.StatusOpen:
		telemetry.SetInFlightStatus(1)
	default:
		telemetry.SetInFlightStatus(2)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, match.ErrNoMatch):
		return "no_match"
	case errors.Is(err, match.ErrNameMismatch):
		return "name_mismatch"
	case errors.Is(err, match.ErrWrongStatus):
		return "wrong_status"
	default:
		return "other"
	}
}
