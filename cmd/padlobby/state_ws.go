package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + relay
// ============================================================================
//
// This file implements:
//   - A Hub that tracks local consumer websocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - Relay of applied lobby events as {type, data} frames
//
// Design constraints (project architecture):
//   - LobbyState remains daemon-owned; never expose *LobbyState here.
//   - The initial snapshot on connect goes through the reducer/event loop
//     (SnapshotRequest -> CmdPublishSnapshot) so it is always coherent.
//   - Slow clients are disconnected when their send buffer fills.
//
// The initial message on connect is "state_init" with LobbySnapshot in data.
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// events feeds SnapshotRequests into the daemon loop.
	events chan<- Event

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig, events chan<- Event) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = defaultSendBuf
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = defaultBroadcastBuf
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		events:     events,
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled. It disconnects all
// clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("state ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("state ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("state ws client registered", "client_id", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("state ws client disconnected", "client_id", c.id, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON frame for fanout. It never
// blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("state ws broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	id         string
	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := defaultSendBuf
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// snapshotWait bounds how long a connecting client waits for the daemon
	// loop to publish its state_init snapshot.
	snapshotWait = 2 * time.Second
)

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket. It exits
// on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Debug("state ws write close", "client_id", c.id, "code", code, "text", text)
					} else {
						c.logger.Debug("state ws write error", "client_id", c.id, "error", err)
					}
				}
				c.hub.unregister <- c
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister <- c
				return
			}
		}
	}
}

// readPump drains inbound frames. Consumers are read-only; anything they
// send is discarded, but the read keeps pong handling alive and detects
// closes promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(1 << 16)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// ============================================================================
// HTTP endpoint
// ============================================================================

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-only listener; the daemon binds loopback by default.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request, registers the client, and requests its
// state_init snapshot through the reducer.
//
// Registration happens before the snapshot request: a broadcast reduced in
// between lands in the client's send queue and the later state_init
// supersedes it, so no frame can slip past a connecting client.
func (h *Hub) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("state ws upgrade failed", "error", err)
		return
	}

	c := NewClient(h, conn, r.RemoteAddr, h.logger)

	h.register <- c

	go c.writePump(ctx)
	go c.readPump()

	// Ask the daemon loop for a coherent snapshot; the reply is produced by
	// the reducer and delivered by the effects layer.
	reply := make(chan LobbySnapshot, 1)
	select {
	case h.events <- SnapshotRequest{Reply: reply}:
	default:
		h.logger.Warn("event queue full; dropping state ws connection")
		h.unregister <- c
		return
	}

	select {
	case snap := <-reply:
		frame, err := json.Marshal(EventEnvelope{Type: "state_init", Data: mustJSON(snap)})
		if err != nil {
			h.logger.Error("marshal state_init", "error", err)
			h.unregister <- c
			return
		}
		select {
		case c.send <- frame:
		default:
			// Already backed up before its first snapshot; drop it.
			h.unregister <- c
		}
	case <-time.After(snapshotWait):
		h.logger.Warn("snapshot timed out; dropping state ws connection")
		h.unregister <- c
	case <-ctx.Done():
		h.unregister <- c
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// LobbySnapshot contains only marshalable fields.
		panic(err)
	}
	return data
}

// runStateWSServer serves the hub's /ws endpoint until ctx is canceled.
func runStateWSServer(ctx context.Context, addr string, hub *Hub, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(ctx, w, r)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("state ws listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
