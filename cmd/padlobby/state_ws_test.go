package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T, cfg HubConfig) (*Hub, chan Event, context.CancelFunc) {
	t.Helper()
	events := make(chan Event, 16)
	hub := NewHub(slog.Default(), cfg, events)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, events, cancel
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// recv reads one frame from a client's send queue or fails the test.
func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	hub, _, _ := newTestHub(t, HubConfig{})

	var clients []*Client
	for i := 0; i < 3; i++ {
		c := NewClient(hub, nil, "test", slog.Default())
		hub.register <- c
		clients = append(clients, c)
	}
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 3 }, "clients not registered")

	frame := []byte(`{"type": "controller_connected", "data": {"unique_id": "A"}}`)
	hub.BroadcastBytes(frame)

	for i, c := range clients {
		if got := string(recv(t, c)); got != string(frame) {
			t.Errorf("client %d got %q, want %q", i, got, frame)
		}
	}
}

func TestHub_SlowClientIsEvicted(t *testing.T) {
	hub, _, _ := newTestHub(t, HubConfig{SendBuf: 2})

	slow := NewClient(hub, nil, "slow", slog.Default())
	fast := NewClient(hub, nil, "fast", slog.Default())
	hub.register <- slow
	hub.register <- fast
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 2 }, "clients not registered")

	// Fill the slow client's queue to capacity; the next fanout overflows
	// it while the healthy client still has room.
	slow.send <- []byte(`{"type": "stale"}`)
	slow.send <- []byte(`{"type": "stale"}`)

	hub.BroadcastBytes([]byte(`{"type": "a"}`))

	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 1 }, "slow client not evicted")

	// The healthy client keeps receiving after the eviction.
	recv(t, fast)
	hub.BroadcastBytes([]byte(`{"type": "b"}`))
	recv(t, fast)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub, _, _ := newTestHub(t, HubConfig{})

	c := NewClient(hub, nil, "test", slog.Default())
	hub.register <- c
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 1 }, "client not registered")

	hub.unregister <- c
	hub.unregister <- c
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 0 }, "client not removed")

	// The send channel is closed exactly once; reading reports closure.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Error("send channel not closed")
	}
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	hub, _, cancel := newTestHub(t, HubConfig{})

	c := NewClient(hub, nil, "test", slog.Default())
	hub.register <- c
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 1 }, "client not registered")

	cancel()
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 0 }, "clients not dropped on shutdown")
}

func TestServeWS_DeliversStateInitSnapshotFirst(t *testing.T) {
	hub, events, _ := newTestHub(t, HubConfig{})

	// Stand in for the daemon loop: answer snapshot requests from a fixed
	// state, exactly as the reducer/effects pair would.
	state := &LobbyState{
		Connected: []Controller{testController("A")},
		Ready:     []ReadyController{testReady("B", 0)},
	}
	go func() {
		for ev := range events {
			if req, ok := ev.(SnapshotRequest); ok {
				rr := Reduce(state, req)
				for _, cmd := range rr.Commands {
					runEffect(context.Background(), nil, nil, nil, cmd, slog.Default(), func(Event) {})
				}
			}
		}
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(context.Background(), w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read state_init: %v", err)
	}

	var env EventEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Type != "state_init" {
		t.Fatalf("first frame type = %q, want state_init", env.Type)
	}

	var snap LobbySnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Connected) != 1 || snap.Connected[0].UniqueID != "A" {
		t.Errorf("unexpected connected set: %+v", snap.Connected)
	}
	if len(snap.Ready) != 1 || snap.Ready[0].UniqueID != "B" {
		t.Errorf("unexpected ready set: %+v", snap.Ready)
	}

	// Subsequent broadcasts reach the new client after the snapshot.
	waitUntil(t, time.Second, func() bool { return hub.clientCount() == 1 }, "client not registered")
	hub.BroadcastBytes([]byte(`{"type": "controller_input", "data": {"unique_id": "B"}}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Type != "controller_input" {
		t.Errorf("expected controller_input frame, got %s (err %v)", frame, err)
	}
}

func TestServeWS_BroadcastDuringConnectIsNotLost(t *testing.T) {
	hub, events, _ := newTestHub(t, HubConfig{})

	state := &LobbyState{
		Connected: []Controller{testController("A")},
	}
	raced := []byte(`{"type": "controller_connected", "data": {"unique_id": "C", "name": "Late Pad"}}`)

	// Stand in for the daemon loop, but squeeze a broadcast in between the
	// client's registration and its snapshot delivery.
	go func() {
		for ev := range events {
			req, ok := ev.(SnapshotRequest)
			if !ok {
				continue
			}
			for hub.clientCount() == 0 {
				time.Sleep(time.Millisecond)
			}
			hub.BroadcastBytes(raced)

			rr := Reduce(state, req)
			for _, cmd := range rr.Commands {
				runEffect(context.Background(), nil, nil, nil, cmd, slog.Default(), func(Event) {})
			}
		}
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(context.Background(), w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Both frames must arrive; the snapshot supersedes the raced event if
	// it lands second, so either order leaves the client coherent.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		var env EventEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("unmarshal frame %d: %v", i, err)
		}
		got[env.Type] = true
	}

	if !got["state_init"] {
		t.Error("client never received state_init")
	}
	if !got["controller_connected"] {
		t.Error("broadcast during connect was lost")
	}
}

func TestHub_BroadcastNeverBlocksWhenQueueFull(t *testing.T) {
	// No Run loop draining the queue: the broadcast buffer fills and
	// further frames are dropped rather than blocking the daemon.
	events := make(chan Event, 1)
	hub := NewHub(slog.Default(), HubConfig{BroadcastBuf: 2}, events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.BroadcastBytes([]byte(`{"type": "x"}`))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastBytes blocked on a full queue")
	}
}
