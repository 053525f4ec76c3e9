package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/saltyboy/protocol"
	"github.com/onnwee/saltyboy/telemetry"
)

const (
	DefaultAddr      = "irc.chat.twitch.tv:6697"
	DefaultChannel   = "saltybet"
	DefaultAnnouncer = "waifu4u"

	maxLineBytes = 64 * 1024
)

// Config controls the connection and its liveness checks. Zero durations
// and counts fall back to the defaults noted on each field.
type Config struct {
	Addr      string
	Username  string
	Token     string
	Channel   string // without '#'
	Announcer string

	PollInterval     time.Duration // bounded wait of one receive, 10s
	IdleTimeout      time.Duration // no bytes at all, 360s
	StaleAfter       time.Duration // no announcer line, 10m
	HandshakeTimeout time.Duration // per auth/join confirmation, 5s
	WriteTimeout     time.Duration // per outbound line, 5s
	CycleDelay       time.Duration // pause after each listen cycle, 5s; negative disables
	RetryDelay       time.Duration // pause between connect attempts, 2s; negative disables
	MaxAttempts      int           // connect attempts before giving up, 5
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	c.Channel = strings.TrimPrefix(c.Channel, "#")
	if c.Announcer == "" {
		c.Announcer = DefaultAnnouncer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 360 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	switch {
	case c.CycleDelay == 0:
		c.CycleDelay = 5 * time.Second
	case c.CycleDelay < 0:
		c.CycleDelay = 0
	}
	switch {
	case c.RetryDelay == 0:
		c.RetryDelay = 2 * time.Second
	case c.RetryDelay < 0:
		c.RetryDelay = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Dialer opens the underlying connection. *tls.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Handler receives each decoded announcer event. A nil event is the
// per-cycle heartbeat tick. A non-nil error stops Listen.
type Handler func(ctx context.Context, ev protocol.Event) error

// Source reads announcer events from Twitch chat over a raw IRC connection.
// It is not safe for concurrent use.
type Source struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	now    func() time.Time

	conn        net.Conn
	pending     []byte
	queue       []string
	lastByte    time.Time
	lastContent time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithDialer replaces the TLS dialer, e.g. with an in-memory pipe in tests.
func WithDialer(d Dialer) Option { return func(s *Source) { s.dialer = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Source) { s.logger = l } }

// WithClock overrides the clock used for liveness bookkeeping. Socket
// deadlines always use wall time.
func WithClock(now func() time.Time) Option { return func(s *Source) { s.now = now } }

// NewSource builds a Source. No connection is made until Connect or Listen.
func NewSource(cfg Config, opts ...Option) *Source {
	cfg = cfg.withDefaults()
	s := &Source{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		s.dialer = &tls.Dialer{Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	}
	s.logger = s.logger.With("component", "chat", "channel", cfg.Channel)
	return s
}

// Connect (re)establishes the connection: dial, authenticate, join. Each
// confirmation is awaited for HandshakeTimeout; a failed attempt is retried
// until MaxAttempts, after which ErrAttemptsExhausted is returned.
func (s *Source) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.connectOnce(ctx)
		if err == nil {
			return nil
		}
		s.closeConn()
		if Classify(err) == ErrorClassFatal {
			return err
		}
		lastErr = err
		s.logger.Warn("chat connect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			slog.Any("err", err))
		if attempt < s.cfg.MaxAttempts {
			if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, s.cfg.MaxAttempts, lastErr)
}

func (s *Source) connectOnce(ctx context.Context) error {
	s.closeConn()
	dctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	conn, err := s.dialer.DialContext(dctx, "tcp", s.cfg.Addr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Addr, err)
	}
	s.conn = conn
	now := s.now()
	s.lastByte, s.lastContent = now, now

	token := s.cfg.Token
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	if err := s.send("PASS " + token); err != nil {
		return err
	}
	if err := s.send("NICK " + s.cfg.Username); err != nil {
		return err
	}
	if err := s.await(ctx, "welcome", isWelcome); err != nil {
		return err
	}
	if err := s.send("JOIN #" + s.cfg.Channel); err != nil {
		return err
	}
	if err := s.await(ctx, "join", isNamesEnd); err != nil {
		return err
	}
	s.logger.Info("joined chat channel", slog.String("addr", s.cfg.Addr))
	return nil
}

func isWelcome(line string) bool {
	return strings.Contains(strings.ToLower(line), "welcome, glhf!")
}

func isNamesEnd(line string) bool {
	return strings.Contains(line, "End of /NAMES list")
}

func isAuthFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth")
}

// await consumes lines until match succeeds or HandshakeTimeout passes.
// Lines after the matching one stay queued for ReceiveLines.
func (s *Source) await(ctx context.Context, what string, match func(string) bool) error {
	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	for {
		for len(s.queue) > 0 {
			line := s.queue[0]
			s.queue = s.queue[1:]
			if s.answerPing(line) {
				continue
			}
			if isAuthFailure(line) {
				return ErrAuthRejected
			}
			if match(line) {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: waiting for %s", ErrHandshakeTimeout, what)
		}
		if err := s.fill(ctx, deadline); err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
}

// ReceiveLines waits up to PollInterval for complete lines. An idle poll
// returns (nil, nil). ErrSocketIdle is returned once nothing at all has
// arrived for IdleTimeout, and ErrRemoteDisconnect when the server hung up.
func (s *Source) ReceiveLines(ctx context.Context) ([]string, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrRemoteDisconnect)
	}
	if len(s.queue) == 0 {
		err := s.fill(ctx, time.Now().Add(s.cfg.PollInterval))
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case isTimeout(err):
			if s.now().Sub(s.lastByte) >= s.cfg.IdleTimeout {
				return nil, ErrSocketIdle
			}
			return nil, nil
		case len(s.queue) == 0:
			return nil, err
		}
	}
	lines := s.queue
	s.queue = nil
	return lines, nil
}

// fill performs one read and splits complete lines into the queue. Partial
// lines are kept until their terminator arrives.
func (s *Source) fill(ctx context.Context, deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return disconnectErr(err)
	}
	conn := s.conn
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 4096)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.lastByte = s.now()
		s.pending = append(s.pending, buf[:n]...)
		s.splitLines()
	}
	if err == nil && n == 0 {
		return ErrRemoteDisconnect
	}
	return disconnectErr(err)
}

// disconnectErr maps errors from a connection the peer has closed onto
// ErrRemoteDisconnect.
func disconnectErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", ErrRemoteDisconnect, err)
	}
	return err
}

func (s *Source) splitLines() {
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(s.pending[:i]), "\r")
		s.pending = s.pending[i+1:]
		if line != "" {
			s.queue = append(s.queue, line)
		}
	}
	if len(s.pending) > maxLineBytes {
		s.logger.Warn("discarding oversized partial line", slog.Int("bytes", len(s.pending)))
		s.pending = nil
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
}

// Listen connects if needed and then runs receive cycles until ctx is done
// or handle fails. Every cycle hands each announcer event to handle, then a
// nil tick, then pauses for CycleDelay. Transport failures and content
// staleness are recovered by reconnecting; only ErrAttemptsExhausted, auth
// rejection, ctx errors and handler errors are returned.
func (s *Source) Listen(ctx context.Context, handle Handler) error {
	defer s.Close()
	if s.conn == nil {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.now().Sub(s.lastContent) > s.cfg.StaleAfter {
			if err := s.reconnect(ctx, "stale_content", nil); err != nil {
				return err
			}
		}
		lines, err := s.ReceiveLines(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if Classify(err) == ErrorClassFatal {
				return err
			}
			if err := s.reconnect(ctx, reconnectReason(err), err); err != nil {
				return err
			}
			continue
		}
		for _, line := range lines {
			ev := s.decode(line)
			if ev == nil {
				continue
			}
			if err := handle(ctx, ev); err != nil {
				return err
			}
		}
		if err := handle(ctx, nil); err != nil {
			return err
		}
		if err := sleepCtx(ctx, s.cfg.CycleDelay); err != nil {
			return err
		}
	}
}

func (s *Source) reconnect(ctx context.Context, reason string, cause error) error {
	telemetry.ObserveReconnect(reason)
	s.logger.Warn("reconnecting to chat", slog.String("reason", reason), slog.Any("err", cause))
	s.closeConn()
	return s.Connect(ctx)
}

// decode answers pings and turns announcer PRIVMSGs into events. Anything
// else yields nil.
func (s *Source) decode(line string) protocol.Event {
	if s.answerPing(line) {
		return nil
	}
	msg, ok := twitch.ParseMessage(line).(*twitch.PrivateMessage)
	if !ok {
		return nil
	}
	if msg.Channel != s.cfg.Channel || !strings.EqualFold(msg.User.Name, s.cfg.Announcer) {
		return nil
	}
	s.lastContent = s.now()
	ev, err := protocol.Parse(msg.Message)
	if err != nil {
		telemetry.ObserveParseFailure()
		s.logger.Warn("dropping malformed announcer line", slog.String("line", msg.Message), slog.Any("err", err))
		return nil
	}
	if ev != nil {
		telemetry.ObserveEvent(ev.Kind())
		s.logger.Debug("announcer event", slog.String("kind", ev.Kind()))
	}
	return ev
}

// answerPing replies to a server PING and reports whether line was one.
func (s *Source) answerPing(line string) bool {
	ping, ok := twitch.ParseMessage(line).(*twitch.PingMessage)
	if !ok {
		return false
	}
	host := ping.Message
	if host == "" {
		host = "tmi.twitch.tv"
	}
	if err := s.send("PONG :" + host); err != nil {
		s.logger.Warn("pong failed", slog.Any("err", err))
	}
	return true
}

func (s *Source) send(line string) error {
	if s.conn == nil {
		return fmt.Errorf("%w: not connected", ErrRemoteDisconnect)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
		return fmt.Errorf("write %s: %w", strings.Fields(line)[0], err)
	}
	return nil
}

// Close drops the connection. It is safe to call more than once.
func (s *Source) Close() error {
	return s.closeConn()
}

func (s *Source) closeConn() error {
	s.pending, s.queue = nil, nil
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
