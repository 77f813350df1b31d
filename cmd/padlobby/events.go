package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Lobby Events - Device Service Wire Protocol
// ============================================================================
// The device service pushes JSON messages shaped {type, data} over the
// persistent websocket. Each recognized type decodes into a concrete Event.
// The reducer consumes Events; nothing else mutates lobby state.
// ============================================================================

// Event is the marker interface for everything the reducer consumes:
// service events, user actions, and effect observations.
type Event interface {
	eventMarker()
}

// Controller is a detected input device that has not been assigned to a
// player slot. Field shapes mirror the device service exactly.
type Controller struct {
	UniqueID              string `json:"unique_id"`
	Name                  string `json:"name"`
	CustomName            string `json:"custom_name,omitempty"`
	ImgSrc                string `json:"img_src,omitempty"`
	SndSrc                string `json:"snd_src,omitempty"`
	ConnectionType        string `json:"connection_type,omitempty"` // "usb" or "bluetooth"
	BatteryPercent        *int   `json:"battery_percent,omitempty"`
	VendorID              *int   `json:"vendor_id,omitempty"`
	ProductID             *int   `json:"product_id,omitempty"`
	GUID                  string `json:"guid,omitempty"`
	Port                  *int   `json:"port,omitempty"`
	PairedButDisconnected bool   `json:"paired_but_disconnected,omitempty"`
}

// ReadyController is a Controller assigned to a player slot. The component
// fields are parallel sequences, populated by the service when several
// physical devices are composited into one logical player input.
type ReadyController struct {
	Controller
	SlotIndex          int      `json:"slot_index"`
	ComponentUniqueIDs []string `json:"component_unique_ids,omitempty"`
	ComponentNames     []string `json:"component_names,omitempty"`
	ComponentImgs      []string `json:"component_imgs,omitempty"`
}

// StateSnapshot is the full authoritative state push. The service sends one
// immediately after the websocket opens; it supersedes everything prior.
type StateSnapshot struct {
	Connected []Controller      `json:"connected"`
	Ready     []ReadyController `json:"ready"`
}

func (StateSnapshot) eventMarker() {}

// ControllerConnected announces a newly detected device.
type ControllerConnected struct {
	Controller
}

func (ControllerConnected) eventMarker() {}

// ControllerDisconnected announces a device removal. It applies to whichever
// set currently holds the id.
type ControllerDisconnected struct {
	UniqueID string `json:"unique_id"`
}

func (ControllerDisconnected) eventMarker() {}

// ControllerReady announces a slot assignment.
type ControllerReady struct {
	ReadyController
}

func (ControllerReady) eventMarker() {}

// ControllerUnready announces a slot release; the device returns to the
// connected set.
type ControllerUnready struct {
	UniqueID string `json:"unique_id"`
}

func (ControllerUnready) eventMarker() {}

// BatteryUpdate carries a fresh battery reading for a tracked device.
type BatteryUpdate struct {
	UniqueID       string `json:"unique_id"`
	BatteryPercent int    `json:"battery_percent"`
}

func (BatteryUpdate) eventMarker() {}

// ControllerInput signals activity on a device. It never touches session
// state; it exists so local consumers can flash the matching tile.
type ControllerInput struct {
	UniqueID string `json:"unique_id"`
}

func (ControllerInput) eventMarker() {}

// BluetoothScanStarted resets the scan projection.
type BluetoothScanStarted struct{}

func (BluetoothScanStarted) eventMarker() {}

// BluetoothDeviceFound reports a discovered device during an active scan.
type BluetoothDeviceFound struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (BluetoothDeviceFound) eventMarker() {}

// BluetoothScanComplete ends the active scan; found devices remain listed.
type BluetoothScanComplete struct{}

func (BluetoothScanComplete) eventMarker() {}

// UnknownEvent preserves messages with an unrecognized type tag. Newer
// service versions may emit kinds this client predates; the reducer ignores
// them, the log records them.
type UnknownEvent struct {
	Type string
	Data json.RawMessage
}

func (UnknownEvent) eventMarker() {}

// ============================================================================
// Effect Observations
// ============================================================================
// Emitted by runEffect after executing reducer commands, and fed back into
// the reducer by the daemon loop.
// ============================================================================

// ConfigApplied confirms the apply-configuration request succeeded. The
// reducer answers it with a relaunch command; this is the only path that can
// ever trigger a relaunch.
type ConfigApplied struct {
	Target string `json:"target,omitempty"`
}

func (ConfigApplied) eventMarker() {}

// CommandFailed reports a failed side effect. State is left untouched.
type CommandFailed struct {
	Command Command
	Err     error
}

func (CommandFailed) eventMarker() {}

// SnapshotRequest asks the reducer for a coherent copy of lobby state.
// The snapshot is delivered through the effects layer so the reducer stays
// pure and state never leaks to other goroutines.
type SnapshotRequest struct {
	Reply chan<- LobbySnapshot
}

func (SnapshotRequest) eventMarker() {}

// ============================================================================
// JSON Envelope Codec
// ============================================================================

// EventEnvelope is the wire format: a type discriminator plus raw payload.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent decodes one raw service message into a concrete Event.
//
// Malformed payloads (bad JSON, missing required fields) return an error;
// the read loop logs and drops them without closing the connection.
// Unrecognized type tags decode to UnknownEvent, never an error.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event missing type tag")
	}

	switch env.Type {
	case "state_snapshot":
		var e StateSnapshot
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal StateSnapshot: %w", err)
		}
		return e, nil

	case "controller_connected":
		var e ControllerConnected
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ControllerConnected: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("controller_connected missing unique_id")
		}
		return e, nil

	case "controller_disconnected":
		var e ControllerDisconnected
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ControllerDisconnected: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("controller_disconnected missing unique_id")
		}
		return e, nil

	case "controller_ready":
		var e ControllerReady
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ControllerReady: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("controller_ready missing unique_id")
		}
		return e, nil

	case "controller_unready":
		var e ControllerUnready
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ControllerUnready: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("controller_unready missing unique_id")
		}
		return e, nil

	case "battery_update":
		var e BatteryUpdate
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal BatteryUpdate: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("battery_update missing unique_id")
		}
		return e, nil

	case "controller_input":
		var e ControllerInput
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ControllerInput: %w", err)
		}
		if e.UniqueID == "" {
			return nil, fmt.Errorf("controller_input missing unique_id")
		}
		return e, nil

	case "bluetooth_scan_started":
		return BluetoothScanStarted{}, nil

	case "bluetooth_device_found":
		var e BluetoothDeviceFound
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal BluetoothDeviceFound: %w", err)
		}
		if e.Address == "" {
			return nil, fmt.Errorf("bluetooth_device_found missing address")
		}
		return e, nil

	case "bluetooth_scan_complete":
		return BluetoothScanComplete{}, nil

	default:
		// Forward compatibility: keep the tag and payload for logging.
		return UnknownEvent{Type: env.Type, Data: env.Data}, nil
	}
}

// MarshalEvent serializes a service event back into its JSON envelope.
// Used by the local fanout hub to relay applied events to consumers.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	marshal := func(typ string, payload any) error {
		env.Type = typ
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = data
		return nil
	}

	switch e := e.(type) {
	case StateSnapshot:
		if err := marshal("state_snapshot", e); err != nil {
			return nil, err
		}
	case ControllerConnected:
		if err := marshal("controller_connected", e); err != nil {
			return nil, err
		}
	case ControllerDisconnected:
		if err := marshal("controller_disconnected", e); err != nil {
			return nil, err
		}
	case ControllerReady:
		if err := marshal("controller_ready", e); err != nil {
			return nil, err
		}
	case ControllerUnready:
		if err := marshal("controller_unready", e); err != nil {
			return nil, err
		}
	case BatteryUpdate:
		if err := marshal("battery_update", e); err != nil {
			return nil, err
		}
	case ControllerInput:
		if err := marshal("controller_input", e); err != nil {
			return nil, err
		}
	case BluetoothScanStarted:
		env.Type = "bluetooth_scan_started"
	case BluetoothDeviceFound:
		if err := marshal("bluetooth_device_found", e); err != nil {
			return nil, err
		}
	case BluetoothScanComplete:
		env.Type = "bluetooth_scan_complete"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
