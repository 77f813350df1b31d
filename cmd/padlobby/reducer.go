package main

import "fmt"

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (service events, user actions, effect
//     observations)
//   - Commands: side effects requested by the reducer (control-plane
//     requests, cue playback, relaunch, snapshot delivery)
//   - Reduce(): computes next state + commands + broadcasts, without I/O
//
// The reducer must be pure. All lobby state lives in LobbyState; the daemon
// loop executes Commands and feeds observations back as Events.

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon
// loop via runEffect.
type Command interface {
	commandMarker()
	String() string
}

// CmdClearReady requests the service to release every ready slot. The
// service confirms with controller_unready events; no local mutation here.
type CmdClearReady struct{}

func (CmdClearReady) commandMarker() {}
func (CmdClearReady) String() string { return "CmdClearReady()" }

// CmdApplyConfig requests writing the per-player configuration.
type CmdApplyConfig struct {
	Target string
}

func (CmdApplyConfig) commandMarker() {}
func (c CmdApplyConfig) String() string {
	return fmt.Sprintf("CmdApplyConfig(target=%q)", c.Target)
}

// CmdRelaunch invokes the host relaunch capability. Emitted only in
// response to a ConfigApplied observation, which keeps the ordering
// contract structural: no relaunch before the apply succeeded.
type CmdRelaunch struct{}

func (CmdRelaunch) commandMarker() {}
func (CmdRelaunch) String() string { return "CmdRelaunch()" }

// CmdPlayCue plays a controller's ready cue.
type CmdPlayCue struct {
	Cue string
}

func (CmdPlayCue) commandMarker() {}
func (c CmdPlayCue) String() string { return fmt.Sprintf("CmdPlayCue(cue=%q)", c.Cue) }

// CmdStartScan requests a bluetooth discovery scan.
type CmdStartScan struct{}

func (CmdStartScan) commandMarker() {}
func (CmdStartScan) String() string { return "CmdStartScan()" }

// CmdStopScan stops an active bluetooth scan.
type CmdStopScan struct{}

func (CmdStopScan) commandMarker() {}
func (CmdStopScan) String() string { return "CmdStopScan()" }

// CmdPair pairs a discovered bluetooth device.
type CmdPair struct {
	Address string
}

func (CmdPair) commandMarker() {}
func (c CmdPair) String() string { return fmt.Sprintf("CmdPair(address=%q)", c.Address) }

// CmdPublishSnapshot delivers a reducer-produced snapshot to a requester.
// The channel send happens in the effects layer so the reducer stays pure.
type CmdPublishSnapshot struct {
	Snapshot LobbySnapshot
	Reply    chan<- LobbySnapshot
}

func (CmdPublishSnapshot) commandMarker() {}
func (CmdPublishSnapshot) String() string { return "CmdPublishSnapshot()" }

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state, commands to execute,
// and events to relay to local consumers over the fanout hub.
type ReduceResult struct {
	State      *LobbyState
	Commands   []Command
	Broadcasts []Event
}

// Reduce is the pure reducer.
//
// Rules:
//   - Must not perform I/O and must not block.
//   - Total: every event kind has a defined effect; anything else is a no-op.
//   - Idempotent per event: re-applying the identical event twice leaves the
//     same state as applying it once.
//
// The daemon loop must execute Commands, translate their outcomes into
// Events, and feed those back into Reduce().
func Reduce(s *LobbyState, e Event) ReduceResult {
	if s == nil {
		s = &LobbyState{}
	}

	var cmds []Command
	var bcasts []Event

	switch ev := e.(type) {
	case StateSnapshot:
		// Full authoritative replace of both sets. Scan projection is
		// untouched: snapshots carry session state only.
		s.Connected = append([]Controller(nil), ev.Connected...)
		s.Ready = append([]ReadyController(nil), ev.Ready...)
		bcasts = append(bcasts, ev)

	case ControllerConnected:
		// Idempotent on duplicate arrival. Deliberately checks only the
		// connected set: the service owns cross-set ordering, and a
		// snapshot repairs any transient double membership on reconnect.
		if s.indexOfConnected(ev.UniqueID) >= 0 {
			break
		}
		s.Connected = append(s.Connected, ev.Controller)
		bcasts = append(bcasts, ev)

	case ControllerDisconnected:
		removed := false
		if i := s.indexOfConnected(ev.UniqueID); i >= 0 {
			s.Connected = append(s.Connected[:i], s.Connected[i+1:]...)
			removed = true
		}
		if i := s.indexOfReady(ev.UniqueID); i >= 0 {
			s.Ready = append(s.Ready[:i], s.Ready[i+1:]...)
			removed = true
		}
		if removed {
			bcasts = append(bcasts, ev)
		}

	case ControllerReady:
		// Always drop the id from connected, independent of prior state.
		if i := s.indexOfConnected(ev.UniqueID); i >= 0 {
			s.Connected = append(s.Connected[:i], s.Connected[i+1:]...)
		}
		if s.indexOfReady(ev.UniqueID) >= 0 {
			break
		}
		s.Ready = append(s.Ready, ev.ReadyController)
		bcasts = append(bcasts, ev)

		// The cue fires only on this genuine insertion: duplicates break
		// out above, and snapshots never reach this branch.
		if ev.SndSrc != "" {
			cmds = append(cmds, CmdPlayCue{Cue: ev.SndSrc})
		}

	case ControllerUnready:
		i := s.indexOfReady(ev.UniqueID)
		if i < 0 {
			break
		}
		// Strip the slot assignment and component composition; the
		// embedded Controller fields survive unchanged. After out-of-order
		// delivery the id can already be back in connected; keep that
		// entry rather than appending a duplicate.
		if s.indexOfConnected(ev.UniqueID) < 0 {
			s.Connected = append(s.Connected, s.Ready[i].Controller)
		}
		s.Ready = append(s.Ready[:i], s.Ready[i+1:]...)
		bcasts = append(bcasts, ev)

	case BatteryUpdate:
		updated := false
		if i := s.indexOfConnected(ev.UniqueID); i >= 0 {
			pct := ev.BatteryPercent
			s.Connected[i].BatteryPercent = &pct
			updated = true
		}
		if i := s.indexOfReady(ev.UniqueID); i >= 0 {
			pct := ev.BatteryPercent
			s.Ready[i].BatteryPercent = &pct
			updated = true
		}
		if updated {
			bcasts = append(bcasts, ev)
		}

	case ControllerInput:
		// Activity signal only; relayed for local consumers.
		bcasts = append(bcasts, ev)

	case BluetoothScanStarted:
		s.Scan = ScanState{Scanning: true}
		bcasts = append(bcasts, ev)

	case BluetoothDeviceFound:
		dup := false
		for _, d := range s.Scan.Found {
			if d.Address == ev.Address {
				dup = true
				break
			}
		}
		if dup {
			break
		}
		s.Scan.Found = append(s.Scan.Found, FoundDevice{Name: ev.Name, Address: ev.Address})
		bcasts = append(bcasts, ev)

	case BluetoothScanComplete:
		s.Scan.Scanning = false
		bcasts = append(bcasts, ev)

	case Reassign:
		cmds = append(cmds, CmdClearReady{})

	case ApplyConfig:
		cmds = append(cmds, CmdApplyConfig{Target: ev.Target})

	case ScanStart:
		cmds = append(cmds, CmdStartScan{})

	case ScanStop:
		cmds = append(cmds, CmdStopScan{})

	case PairDevice:
		cmds = append(cmds, CmdPair{Address: ev.Address})

	case ConfigApplied:
		cmds = append(cmds, CmdRelaunch{})

	case SnapshotRequest:
		cmds = append(cmds, CmdPublishSnapshot{Snapshot: s.Snapshot(), Reply: ev.Reply})

	case CommandFailed:
		// Already logged by the effects layer. State stays as-is; for a
		// failed apply-config this is what skips the relaunch.

	case UnknownEvent:
		// Forward-compatibility: ignored, not an error.

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcasts,
	}
}
