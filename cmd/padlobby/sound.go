package main

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
)

// CuePlayer plays controller ready cues. Exactly one cue may be audible at a
// time: starting a new cue stops and discards whatever was playing.
type CuePlayer interface {
	Play(cue string) error
	Stop()
}

// ExecCuePlayer shells out to a configured player command (paplay, mpv, ...)
// and owns the single active-cue slot. It is an explicit service object so
// tests can instantiate independent players.
type ExecCuePlayer struct {
	command  []string
	assetDir string
	logger   *slog.Logger

	mu     sync.Mutex
	active *exec.Cmd
}

// NewExecCuePlayer builds a player. command is the player argv prefix; the
// resolved cue path is appended as the final argument.
func NewExecCuePlayer(command []string, assetDir string, logger *slog.Logger) *ExecCuePlayer {
	return &ExecCuePlayer{
		command:  command,
		assetDir: assetDir,
		logger:   logger,
	}
}

// Play starts the named cue, killing any cue still playing. No queueing, no
// overlap.
func (p *ExecCuePlayer) Play(cue string) error {
	if len(p.command) == 0 {
		return fmt.Errorf("no cue player command configured")
	}

	path := cue
	if p.assetDir != "" && !filepath.IsAbs(cue) {
		path = filepath.Join(p.assetDir, cue)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := append(append([]string(nil), p.command[1:]...), path)
	cmd := exec.Command(p.command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start cue player: %w", err)
	}
	p.active = cmd
	p.logger.Debug("playing cue", "cue", path)

	// Reap the player process when it finishes on its own.
	go cmd.Wait()

	return nil
}

// Stop silences the active cue, if any.
func (p *ExecCuePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *ExecCuePlayer) stopLocked() {
	if p.active != nil && p.active.Process != nil {
		_ = p.active.Process.Kill()
	}
	p.active = nil
}

// NopCuePlayer is used when sound is disabled in the config.
type NopCuePlayer struct{}

func (NopCuePlayer) Play(string) error { return nil }
func (NopCuePlayer) Stop()             {}
