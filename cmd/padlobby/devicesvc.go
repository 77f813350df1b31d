package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DeviceServiceAPI defines the control-plane operations issued against the
// device service. This allows for mocking in tests.
type DeviceServiceAPI interface {
	ClearReady(ctx context.Context) error
	ApplyConfig(ctx context.Context, target string) error
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
	Pair(ctx context.Context, address string) error
}

// DeviceServiceClient issues control-plane requests over HTTP. The event
// stream is separate (LobbyFeed); this client only carries intents.
type DeviceServiceClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewDeviceServiceClient validates the base URL and returns a client.
func NewDeviceServiceClient(baseURL string, logger *slog.Logger, timeout time.Duration) (*DeviceServiceClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base URL scheme: %q", u.Scheme)
	}

	return &DeviceServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// serviceReply is the service's uniform response shape. The service reports
// application-level failures as {"error": "..."} with a 200 status.
type serviceReply struct {
	Error string `json:"error,omitempty"`
}

// do issues one JSON request and surfaces transport, status, and
// application-level errors uniformly.
func (c *DeviceServiceClient) do(ctx context.Context, method, path string, body any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	var reply serviceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		c.logger.Warn("unparseable service response", "path", path, "error", err)
		return nil // 200 with an odd body; treat as success
	}
	if reply.Error != "" {
		return fmt.Errorf("%s %s: %s", method, path, reply.Error)
	}

	c.logger.Debug("control-plane request", "method", method, "path", path)
	return nil
}

// ClearReady releases every ready slot (DELETE /api/controllers/ready).
func (c *DeviceServiceClient) ClearReady(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/controllers/ready", nil); err != nil {
		return fmt.Errorf("clear ready: %w", err)
	}
	return nil
}

// ApplyConfig writes the per-player configuration, optionally scoped to a
// named target program (POST /api/emulators/apply).
func (c *DeviceServiceClient) ApplyConfig(ctx context.Context, target string) error {
	body := map[string]any{"target": nil}
	if target != "" {
		body["target"] = target
	}
	if err := c.do(ctx, http.MethodPost, "/api/emulators/apply", body); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	return nil
}

// StartScan begins a bluetooth discovery scan (POST /api/bluetooth/scan).
func (c *DeviceServiceClient) StartScan(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/bluetooth/scan", nil); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	return nil
}

// StopScan stops an active scan (POST /api/bluetooth/stop-scan).
func (c *DeviceServiceClient) StopScan(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/bluetooth/stop-scan", nil); err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}
	return nil
}

// Pair pairs a discovered device (POST /api/bluetooth/pair).
func (c *DeviceServiceClient) Pair(ctx context.Context, address string) error {
	body := map[string]string{"address": address}
	if err := c.do(ctx, http.MethodPost, "/api/bluetooth/pair", body); err != nil {
		return fmt.Errorf("pair: %w", err)
	}
	return nil
}
