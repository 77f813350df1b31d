package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ============================================================================
// LobbyFeed - Persistent Event Stream Connection
// ============================================================================
// LobbyFeed owns the single websocket to the device service, its reconnect
// policy, and the decode step. It feeds decoded events into the daemon's
// event channel; it never touches lobby state itself.
//
// State machine:
//
//	Disconnected -(Connect)-> Connecting -(open)-> Connected
//	Connected -(close|error)-> Disconnected -(timer)-> Connecting -> ...
//
// Teardown (Close) is the terminal exit: it cancels the pending reconnect
// timer and closes the active connection; no further attempts occur, even
// ones already scheduled.
// ============================================================================

// ConnState is the feed connection state. It is owned by LobbyFeed and never
// enters lobby state.
type ConnState int

const (
	FeedDisconnected ConnState = iota
	FeedConnecting
	FeedConnected
)

func (s ConnState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// feedConn is the subset of *websocket.Conn the feed uses; swapped for a
// fake in tests.
type feedConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// LobbyFeed manages the persistent event stream connection.
type LobbyFeed struct {
	url    string
	delay  time.Duration
	events chan<- Event
	logger *slog.Logger

	// Injection points for tests: dialing and timer creation.
	dial      func(url string) (feedConn, error)
	afterFunc func(d time.Duration, f func()) *time.Timer

	// OnStateChange, if set, is called (outside the lock) whenever the
	// connection state changes. Set before the first Connect.
	OnStateChange func(ConnState)

	mu     sync.Mutex
	conn   feedConn
	state  ConnState
	timer  *time.Timer
	closed bool
	connID string
}

// NewLobbyFeed validates the URL and returns a feed. Call Connect to start.
func NewLobbyFeed(wsURL string, delay time.Duration, events chan<- Event, logger *slog.Logger) (*LobbyFeed, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	return &LobbyFeed{
		url:    wsURL,
		delay:  delay,
		events: events,
		logger: logger,
		dial: func(u string) (feedConn, error) {
			d := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
			conn, _, err := d.Dial(u, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		afterFunc: time.AfterFunc,
	}, nil
}

// State reports the current connection state.
func (f *LobbyFeed) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Connect starts connection establishment. It is idempotent: a no-op if a
// connection is already open or being established, and after Close.
func (f *LobbyFeed) Connect() {
	f.mu.Lock()
	if f.closed || f.state != FeedDisconnected {
		f.mu.Unlock()
		return
	}
	f.state = FeedConnecting
	f.mu.Unlock()

	f.notifyState(FeedConnecting)
	go f.establish()
}

// establish performs one dial attempt. On failure it falls back to the same
// reconnect path a dropped connection takes.
func (f *LobbyFeed) establish() {
	conn, err := f.dial(f.url)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		f.state = FeedDisconnected
		f.scheduleReconnectLocked()
		f.mu.Unlock()

		f.notifyState(FeedDisconnected)
		f.logger.Warn("lobby feed connect failed; will retry", "error", err, "delay", f.delay)
		return
	}

	f.conn = conn
	f.state = FeedConnected
	f.connID = uuid.NewString()
	id := f.connID
	f.mu.Unlock()

	f.notifyState(FeedConnected)
	f.logger.Info("lobby feed connected", "url", f.url, "conn_id", id)

	go f.readLoop(conn, id)
}

// scheduleReconnectLocked arms the single reconnect timer. Fixed delay, no
// backoff growth, no retry cap. Caller holds f.mu.
func (f *LobbyFeed) scheduleReconnectLocked() {
	if f.closed || f.timer != nil {
		return
	}
	f.timer = f.afterFunc(f.delay, func() {
		f.mu.Lock()
		f.timer = nil
		if f.closed || f.state != FeedDisconnected {
			f.mu.Unlock()
			return
		}
		f.state = FeedConnecting
		f.mu.Unlock()

		f.notifyState(FeedConnecting)
		f.establish()
	})
}

// readLoop decodes inbound messages until the connection dies. Events are
// delivered in arrival order; the blocking channel send preserves the
// single-connection ordering guarantee.
func (f *LobbyFeed) readLoop(conn feedConn, connID string) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			f.handleClose(conn, connID, err)
			return
		}

		ev, decErr := UnmarshalEvent(payload)
		if decErr != nil {
			// Bad payloads never close the connection.
			f.logger.Warn("dropping malformed event", "error", decErr, "conn_id", connID)
			continue
		}
		if unk, ok := ev.(UnknownEvent); ok {
			f.logger.Debug("unrecognized event kind", "type", unk.Type, "conn_id", connID)
		}

		f.events <- ev
	}
}

// handleClose normalizes errors to closes: force-close the connection, then
// fall through to the standard reconnect scheduling.
func (f *LobbyFeed) handleClose(conn feedConn, connID string, err error) {
	conn.Close()

	f.mu.Lock()
	if f.conn != conn {
		// A newer connection superseded this one; nothing to do.
		f.mu.Unlock()
		return
	}
	f.conn = nil
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = FeedDisconnected
	f.scheduleReconnectLocked()
	f.mu.Unlock()

	f.notifyState(FeedDisconnected)
	f.logger.Warn("lobby feed disconnected; will retry", "error", err, "conn_id", connID, "delay", f.delay)
}

// Close tears the feed down: cancels any pending reconnect timer, closes the
// active connection, and prevents all future attempts.
func (f *LobbyFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	conn := f.conn
	f.conn = nil
	f.state = FeedDisconnected
	f.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (f *LobbyFeed) notifyState(s ConnState) {
	if f.OnStateChange != nil {
		f.OnStateChange(s)
	}
}
