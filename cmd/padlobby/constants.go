package main

import "time"

// Upstream device service defaults
const (
	defaultWsURL      = "ws://127.0.0.1:8000/ws"
	defaultAPIBaseURL = "http://127.0.0.1:8000"

	defaultRequestTimeoutMS = 3000 // control-plane request timeout (ms)
	defaultReconnectDelayMS = 2000 // fixed reconnect delay (ms), no backoff

	wsHandshakeTimeout = 2 * time.Second
)

// Local surfaces
const (
	defaultIPCSocketPath = "/tmp/padlobby.sock"
	defaultStateWSAddr   = "127.0.0.1:8765"

	// Event channel capacity. Feed, IPC, and hub snapshot requests all
	// funnel through one channel into the serialized daemon loop.
	defaultEventQueueSize = 64

	defaultSendBuf      = 32  // per-client state ws outbound queue
	defaultBroadcastBuf = 128 // hub inbound broadcast queue
)
