// Package chat is the event source: a Twitch IRC connection that yields the
// betting announcer's events.
//
// Source owns a raw TLS connection rather than a full IRC client so that
// every receive is a bounded wait. Inbound lines are decoded with
// go-twitch-irc's ParseMessage; PINGs are answered, PRIVMSGs from the
// configured announcer in the configured channel are handed to
// protocol.Parse, and everything else is ignored.
//
// Liveness is checked at two independent layers:
//   - IdleTimeout: no bytes at all on the socket (a dead transport).
//   - StaleAfter: no announcer line, even though the socket is alive.
//
// Either one forces a reconnect. Remote disconnects are recovered the same
// way. Handshakes (auth, join) are bounded by HandshakeTimeout and retried
// up to MaxAttempts; running out of attempts is fatal and surfaces from
// Listen so the process supervisor can restart the worker.
//
// Credentials: TWITCH_USERNAME and TWITCH_OAUTH_TOKEN (chat:read scope). The
// "oauth:" prefix is added when missing.
package chat
