package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the padlobby daemon.
//
// Design goals:
// - Make the config file the primary configuration surface.
// - Keep flags for small overrides and for environments where a file is
//   awkward.
type Config struct {
	// Service is the upstream device service (event feed + control plane).
	Service ServiceConfig `yaml:"service"`

	// IPC configuration (lobbyctl and other local intent sources).
	IPC IPCConfig `yaml:"ipc"`

	// StateWS is the local fanout websocket for UI consumers.
	StateWS StateWSConfig `yaml:"state_ws"`

	// Sound configures ready-cue playback.
	Sound SoundConfig `yaml:"sound"`

	// Launcher is the host relaunch capability.
	Launcher LauncherConfig `yaml:"launcher"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type ServiceConfig struct {
	WsURL            string `yaml:"ws_url"`
	APIBaseURL       string `yaml:"api_base_url"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	Addr         string `yaml:"addr"`
	SendBuf      int    `yaml:"send_buf,omitempty"`
	BroadcastBuf int    `yaml:"broadcast_buf,omitempty"`
}

type SoundConfig struct {
	Enabled bool `yaml:"enabled"`
	// Player is the argv prefix of the external player command; the cue
	// path is appended as the last argument.
	Player   []string `yaml:"player,omitempty"`
	AssetDir string   `yaml:"asset_dir,omitempty"`
}

type LauncherConfig struct {
	// Command is the relaunch argv. Empty disables relaunching (apply-config
	// still works; the relaunch step logs and is skipped).
	Command []string `yaml:"command,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			WsURL:            defaultWsURL,
			APIBaseURL:       defaultAPIBaseURL,
			TimeoutMS:        defaultRequestTimeoutMS,
			ReconnectDelayMS: defaultReconnectDelayMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		StateWS: StateWSConfig{
			Addr:         defaultStateWSAddr,
			SendBuf:      defaultSendBuf,
			BroadcastBuf: defaultBroadcastBuf,
		},
		Sound: SoundConfig{
			Enabled: true,
			Player:  []string{"paplay"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path (if non-empty) over the defaults and validates the
// result. A missing file with an empty path is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config for well-formedness.
func (c *Config) Validate() error {
	if c.Service.WsURL == "" {
		return errors.New("service.ws_url must be set")
	}
	if c.Service.APIBaseURL == "" {
		return errors.New("service.api_base_url must be set")
	}
	if c.Service.TimeoutMS <= 0 {
		return errors.New("service.timeout_ms must be > 0")
	}
	if c.Service.ReconnectDelayMS <= 0 {
		return errors.New("service.reconnect_delay_ms must be > 0")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must be set")
	}
	if c.StateWS.Addr == "" {
		return errors.New("state_ws.addr must be set")
	}
	if c.Sound.Enabled && len(c.Sound.Player) == 0 {
		return errors.New("sound.player must be set when sound is enabled")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
