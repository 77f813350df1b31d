package main

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// Relauncher is the host environment's "request relaunch" capability: it
// terminates and restarts the foreground session. Opaque to this daemon;
// invoked with no arguments, and only after an apply-config request has
// been acknowledged successful.
type Relauncher interface {
	Relaunch() error
}

// ExecRelauncher runs a configured command (e.g. a session-restart script).
type ExecRelauncher struct {
	command []string
	logger  *slog.Logger
}

func NewExecRelauncher(command []string, logger *slog.Logger) *ExecRelauncher {
	return &ExecRelauncher{command: command, logger: logger}
}

func (r *ExecRelauncher) Relaunch() error {
	if len(r.command) == 0 {
		return fmt.Errorf("no relaunch command configured")
	}

	r.logger.Info("requesting relaunch", "command", r.command[0])
	cmd := exec.Command(r.command[0], r.command[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start relaunch command: %w", err)
	}

	go cmd.Wait()
	return nil
}
