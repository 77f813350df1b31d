package main

import (
	"context"
	"log/slog"
)

// runEffect executes a single reducer-emitted Command (side effect) against
// external systems (device service control plane, cue player, host relaunch)
// and emits observation Events via onEvent.
//
// Design rules:
//   - This function is allowed to perform I/O.
//   - It must never call Reduce() directly; it only emits Events to be
//     reduced by the daemon loop.
//   - ctx is the daemon's lifetime: once canceled, nothing here may trigger
//     a relaunch, however late an in-flight request completes.
func runEffect(
	ctx context.Context,
	svc DeviceServiceAPI,
	player CuePlayer,
	relauncher Relauncher,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	switch c := cmd.(type) {
	case CmdClearReady:
		if svc == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoService{}})
			return
		}
		if err := svc.ClearReady(ctx); err != nil {
			logger.Error("clear-ready request failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err})
			return
		}
		// Confirmation arrives as controller_unready events on the feed;
		// nothing to observe here.
		logger.Info("clear-ready requested")

	case CmdApplyConfig:
		if svc == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoService{}})
			return
		}
		if err := svc.ApplyConfig(ctx, c.Target); err != nil {
			logger.Error("apply-config request failed", "error", err, "target", c.Target)
			onEvent(CommandFailed{Command: cmd, Err: err})
			return
		}
		logger.Info("configuration applied", "target", c.Target)
		onEvent(ConfigApplied{Target: c.Target})

	case CmdRelaunch:
		// Guard against teardown races: a late ConfigApplied must never
		// restart the foreground session after shutdown began.
		if ctx.Err() != nil {
			logger.Warn("skipping relaunch (shutting down)")
			return
		}
		if relauncher == nil {
			logger.Warn("relaunch requested but no relauncher configured")
			return
		}
		if err := relauncher.Relaunch(); err != nil {
			logger.Error("relaunch failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err})
		}

	case CmdPlayCue:
		if player == nil {
			return
		}
		if err := player.Play(c.Cue); err != nil {
			logger.Warn("cue playback failed", "cue", c.Cue, "error", err)
		}

	case CmdStartScan:
		if svc == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoService{}})
			return
		}
		if err := svc.StartScan(ctx); err != nil {
			logger.Error("scan start failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err})
		}

	case CmdStopScan:
		if svc == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoService{}})
			return
		}
		if err := svc.StopScan(ctx); err != nil {
			logger.Error("scan stop failed", "error", err)
			onEvent(CommandFailed{Command: cmd, Err: err})
		}

	case CmdPair:
		if svc == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoService{}})
			return
		}
		if err := svc.Pair(ctx, c.Address); err != nil {
			logger.Error("pairing failed", "error", err, "address", c.Address)
			onEvent(CommandFailed{Command: cmd, Err: err})
		}

	case CmdPublishSnapshot:
		if c.Reply == nil {
			logger.Warn("snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(CommandFailed{Command: cmd, Err: errUnknownCommand{cmd: cmd}})
	}
}

// errNoService indicates a control-plane command ran without a client.
type errNoService struct{}

func (errNoService) Error() string { return "no device service client" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
