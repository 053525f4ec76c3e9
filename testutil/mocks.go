package testutil

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockIRCServer is an in-memory Twitch IRC endpoint. It satisfies the chat
// package's Dialer: every dial hands the client one end of a net.Pipe and
// publishes the server end on Conns.
type MockIRCServer struct {
	t testing.TB

	// Welcome, when true, answers NICK with the Twitch welcome numeric.
	Welcome bool
	// Join, when true, answers JOIN with the end of NAMES numeric.
	Join bool
	// RejectAuth, when true, answers NICK with a login failure notice.
	RejectAuth bool

	conns chan *MockIRCConn
	mu    sync.Mutex
	dials int
}

// NewMockIRCServer returns a server that completes handshakes.
func NewMockIRCServer(t testing.TB) *MockIRCServer {
	t.Helper()
	return &MockIRCServer{t: t, Welcome: true, Join: true, conns: make(chan *MockIRCConn, 16)}
}

// DialContext implements the chat Dialer.
func (m *MockIRCServer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	c := &MockIRCConn{conn: server, Received: make(chan string, 256)}
	m.mu.Lock()
	m.dials++
	welcome, join, reject := m.Welcome, m.Join, m.RejectAuth
	m.mu.Unlock()
	go c.serve(welcome, join, reject)
	m.t.Cleanup(func() { _ = server.Close() })
	m.conns <- c
	return client, nil
}

// Dials returns how many connections have been opened.
func (m *MockIRCServer) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// NextConn waits for the next dialed connection.
func (m *MockIRCServer) NextConn(timeout time.Duration) *MockIRCConn {
	m.t.Helper()
	select {
	case c := <-m.conns:
		return c
	case <-time.After(timeout):
		m.t.Fatalf("no connection dialed within %s", timeout)
		return nil
	}
}

// MockIRCConn is the server side of one dialed connection.
type MockIRCConn struct {
	conn net.Conn
	// Received carries every line the client sent, without CRLF.
	Received chan string
}

func (c *MockIRCConn) serve(welcome, join, reject bool) {
	sc := bufio.NewScanner(c.conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		select {
		case c.Received <- line:
		default:
		}
		switch {
		case strings.HasPrefix(line, "NICK ") && reject:
			_ = c.Send(":tmi.twitch.tv NOTICE * :Login authentication failed")
		case strings.HasPrefix(line, "NICK ") && welcome:
			nick := strings.TrimPrefix(line, "NICK ")
			_ = c.Send(":tmi.twitch.tv 001 " + nick + " :Welcome, GLHF!")
		case strings.HasPrefix(line, "JOIN ") && join:
			ch := strings.TrimPrefix(line, "JOIN ")
			_ = c.Send(":bot.tmi.twitch.tv 353 bot = " + ch + " :bot")
			_ = c.Send(":bot.tmi.twitch.tv 366 bot " + ch + " :End of /NAMES list")
		}
	}
}

// Send writes one CRLF-terminated line to the client.
func (c *MockIRCConn) Send(line string) error {
	return c.SendRaw(line + "\r\n")
}

// SendRaw writes raw bytes, which lets tests split a line across reads.
func (c *MockIRCConn) SendRaw(s string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := c.conn.Write([]byte(s))
	return err
}

// Announce sends a PRIVMSG from user to channel.
func (c *MockIRCConn) Announce(user, channel, body string) error {
	return c.Send(":" + user + "!" + user + "@" + user + ".tmi.twitch.tv PRIVMSG #" + channel + " :" + body)
}

// WaitFor blocks until the client sends a line with the given prefix.
func (c *MockIRCConn) WaitFor(t testing.TB, prefix string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line := <-c.Received:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("client did not send %q within %s", prefix, timeout)
			return ""
		}
	}
}

// Close hangs up, which the client sees as a remote disconnect.
func (c *MockIRCConn) Close() error { return c.conn.Close() }
