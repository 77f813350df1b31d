package main

import (
	"context"
	"log/slog"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven Lobby Brain
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands +
//     broadcasts.
//   - This loop is the only place that executes side effects (control-plane
//     requests, cue playback, relaunch, snapshot replies).
//   - Effect outcomes are turned into Events and fed back into the reducer.
//   - All mutation is serialized through this single goroutine: two event
//     applications can never interleave.
//
// Shutdown semantics:
//   - Exits when ctx is canceled or the events channel is closed.
//   - After exit no further events are reduced, so late effect completions
//     can neither mutate state nor trigger side effects.
// ============================================================================

// runDaemon consumes events (service feed, IPC intents, hub snapshot
// requests), reduces them, executes resulting commands, and relays applied
// events to the fanout hub.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	svc DeviceServiceAPI,
	player CuePlayer,
	relauncher Relauncher,
	hub *Hub,
	state *LobbyState,
	logger *slog.Logger,
) {
	if state == nil {
		state = &LobbyState{}
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}

	relay := func(evs []Event) {
		if hub == nil {
			return
		}
		for _, ev := range evs {
			frame, err := MarshalEvent(ev)
			if err != nil {
				logger.Error("marshal broadcast", "error", err)
				continue
			}
			hub.BroadcastBytes(frame)
		}
	}

	// Reduce all queued events, enqueuing any resulting commands and
	// relaying applied events to local consumers.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev)
			if rr.State != nil {
				state = rr.State
			}
			enqueueCommands(rr.Commands)
			relay(rr.Broadcasts)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(ctx, svc, player, relauncher, cmd, logger, func(obs Event) {
				enqueueEvent(obs)
			})

			// Observations are reduced promptly so follow-up commands
			// (notably the post-apply relaunch) run in order.
			flushEvents()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			enqueueEvent(ev)
			flushEvents()
			flushCommands()
		}
	}
}
