package main

// LobbyState is the daemon-owned state container.
//
// Goals:
//   - Keep all reducer-owned state in one place (pure reducer, no external
//     mutation).
//   - Mirror the device service's authoritative view: the reducer only ever
//     applies what the service pushed, never invents membership.
//   - Make it cheap to publish a coherent snapshot to local consumers.
//
// Slice order matters: the service assigns slots in arrival order, so both
// sets preserve insertion order rather than using maps.
type LobbyState struct {
	// Connected holds detected devices not yet assigned to a player slot.
	// unique_id is unique within this slice.
	Connected []Controller

	// Ready holds slot-assigned devices, in slot order as delivered.
	// unique_id is unique within this slice; slot_index values are unique
	// but need not be contiguous.
	Ready []ReadyController

	// Scan is the bluetooth discovery projection. It is not session state:
	// a state_snapshot never touches it, and a new scan resets it.
	Scan ScanState
}

// ScanState tracks an in-flight bluetooth discovery scan.
type ScanState struct {
	Scanning bool
	// Found is deduplicated by address, in discovery order.
	Found []FoundDevice
}

// FoundDevice is one bluetooth device reported during a scan.
type FoundDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// LobbySnapshot is a detached copy of lobby state, safe to hand to other
// goroutines. It is the payload of the hub's state_init frame.
type LobbySnapshot struct {
	Connected []Controller      `json:"connected"`
	Ready     []ReadyController `json:"ready"`
	Scanning  bool              `json:"scanning"`
	Found     []FoundDevice     `json:"found_devices,omitempty"`
}

// Snapshot copies the current state. The element structs contain only
// values and service-owned slices the reducer never mutates in place, so a
// top-level slice copy detaches the snapshot from future reductions.
func (s *LobbyState) Snapshot() LobbySnapshot {
	snap := LobbySnapshot{
		Connected: make([]Controller, len(s.Connected)),
		Ready:     make([]ReadyController, len(s.Ready)),
		Scanning:  s.Scan.Scanning,
	}
	copy(snap.Connected, s.Connected)
	copy(snap.Ready, s.Ready)
	if len(s.Scan.Found) > 0 {
		snap.Found = make([]FoundDevice, len(s.Scan.Found))
		copy(snap.Found, s.Scan.Found)
	}
	return snap
}

// indexOfConnected returns the position of id in the connected set, or -1.
func (s *LobbyState) indexOfConnected(id string) int {
	for i := range s.Connected {
		if s.Connected[i].UniqueID == id {
			return i
		}
	}
	return -1
}

// indexOfReady returns the position of id in the ready set, or -1.
func (s *LobbyState) indexOfReady(id string) int {
	for i := range s.Ready {
		if s.Ready[i].UniqueID == id {
			return i
		}
	}
	return -1
}
