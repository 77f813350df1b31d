package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Actions - User Intents
// ============================================================================
// Actions arrive over IPC (lobbyctl, scripts, UI shims) and are reduced like
// any other event. Local intents fold straight into state; remote intents
// emit commands and wait for the service's confirming event stream.
// ============================================================================

// Action is the marker interface for user intents.
//
// NOTE: Actions also implement the reducer's Event marker so they can be
// reduced directly by the daemon loop.
type Action interface {
	Event
	actionMarker()
}

// Reassign requests clearing every ready slot. It performs no local
// mutation: the service confirms by emitting controller_unready for each
// currently-ready controller.
type Reassign struct{}

func (Reassign) eventMarker()  {}
func (Reassign) actionMarker() {}

// ApplyConfig requests writing the per-player configuration, optionally
// scoped to a named target program. On confirmed success the host relaunch
// capability fires; on failure nothing is relaunched.
type ApplyConfig struct {
	Target string `json:"target,omitempty"`
}

func (ApplyConfig) eventMarker()  {}
func (ApplyConfig) actionMarker() {}

// ScanStart asks the service to begin a bluetooth discovery scan.
type ScanStart struct{}

func (ScanStart) eventMarker()  {}
func (ScanStart) actionMarker() {}

// ScanStop asks the service to stop an active bluetooth scan.
type ScanStop struct{}

func (ScanStop) eventMarker()  {}
func (ScanStop) actionMarker() {}

// PairDevice asks the service to pair a discovered bluetooth device.
type PairDevice struct {
	Address string `json:"address"`
}

func (PairDevice) eventMarker()  {}
func (PairDevice) actionMarker() {}

// UnmarshalAction decodes an IPC intent line ({type, data}) into an Action.
func UnmarshalAction(data []byte) (Action, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "reassign":
		return Reassign{}, nil

	case "apply_config":
		var a ApplyConfig
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal ApplyConfig: %w", err)
			}
		}
		return a, nil

	case "scan_start":
		return ScanStart{}, nil

	case "scan_stop":
		return ScanStop{}, nil

	case "pair":
		var a PairDevice
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal PairDevice: %w", err)
		}
		if a.Address == "" {
			return nil, fmt.Errorf("pair missing address")
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown action type: %q", env.Type)
	}
}

// MarshalAction serializes an Action into its IPC envelope.
func MarshalAction(a Action) ([]byte, error) {
	var env EventEnvelope

	switch a := a.(type) {
	case Reassign:
		env.Type = "reassign"
	case ApplyConfig:
		env.Type = "apply_config"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal ApplyConfig: %w", err)
		}
		env.Data = data
	case ScanStart:
		env.Type = "scan_start"
	case ScanStop:
		env.Type = "scan_stop"
	case PairDevice:
		env.Type = "pair"
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal PairDevice: %w", err)
		}
		env.Data = data
	default:
		return nil, fmt.Errorf("unsupported action type: %T", a)
	}

	return json.Marshal(env)
}
