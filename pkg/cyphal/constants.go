// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

// Package cyphal implements a UAVCAN/Cyphal-over-UDP node runtime: datagram
// encode/decode, fragment reassembly, transfer-ID discipline, strict priority
// scheduling, subscription-driven reception, heartbeat emission, and a
// lifecycle state machine with error isolation and recovery.
//
// The package is transport-complete: it owns the UDP socket, the multicast
// group membership, and the bounded-memory transmission pipeline. Everything
// above it (CLI plumbing, configuration files, host wiring) lives outside.
package cyphal

// Parameter ranges are inclusive; the lower bound is zero for all.
const (
	SubjectIDMax  = 8191
	ServiceIDMax  = 511
	NodeIDMax     = 127
	PriorityCount = 8

	// NodeIDUnset is the sentinel carried while dynamic allocation is pending.
	NodeIDUnset = 0
)

// Wire parameters for Cyphal/UDP.
const (
	DefaultUDPPort = 9382

	// Multicast endpoint bases. Subject endpoint = SubjectBase | subject_id;
	// service endpoint = ServiceBase | destination node_id.
	SubjectBase = 0xEF000000
	ServiceBase = 0xEF010000

	DefaultMTU = 1408
	MTUCeiling = 1500

	// MaxPayload is the largest application payload carried by one transfer.
	MaxPayload = 1024
)

// Datagram header layout (little-endian fields, HeaderCRC over the first
// HeaderSize-2 bytes).
const (
	HeaderVersion = 1
	HeaderSize    = 24

	// FrameIndexEnd marks the final datagram of a transfer in the
	// frame-index word.
	FrameIndexEnd  = 0x80000000
	FrameIndexMask = 0x7FFFFFFF
)

// Heartbeat (uavcan.node.Heartbeat.1.0 shape, fixed subject).
const (
	SubjectHeartbeat = 7509

	HeartbeatPayloadSize = 7

	DefaultHeartbeatIntervalMs = 1000
	MinHeartbeatIntervalMs     = 100
	MaxHeartbeatIntervalMs     = 60000
)

// Priority selects one of eight TX FIFOs; 0 is highest.
type Priority uint8

// Transfer priority level mnemonics per the Cyphal specification
// recommendations.
const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal // Nominal should be the default.
	PriorityLow
	PrioritySlow
	PriorityOptional
)

// IsValid reports whether p is one of the eight defined priority levels.
func (p Priority) IsValid() bool { return p < PriorityCount }

// String returns the standard mnemonic for the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityExceptional:
		return "EXCEPTIONAL"
	case PriorityImmediate:
		return "IMMEDIATE"
	case PriorityFast:
		return "FAST"
	case PriorityHigh:
		return "HIGH"
	case PriorityNominal:
		return "NOMINAL"
	case PriorityLow:
		return "LOW"
	case PrioritySlow:
		return "SLOW"
	case PriorityOptional:
		return "OPTIONAL"
	default:
		return "UNKNOWN"
	}
}

// NodeID identifies a node on the network. 0 is the unset/anonymous
// sentinel; concrete IDs occupy [1,127].
type NodeID uint8

// IsSet reports whether the node holds a concrete address.
func (n NodeID) IsSet() bool { return n >= 1 && n <= NodeIDMax }

// IsUnset reports whether the node is anonymous.
func (n NodeID) IsUnset() bool { return n == NodeIDUnset }

// IsValid reports whether n is assignable: the unset sentinel or [1,127].
func (n NodeID) IsValid() bool { return n <= NodeIDMax }

// Health is the node health field published in every heartbeat.
type Health uint8

// Health values per the heartbeat payload layout.
const (
	HealthNominal Health = iota
	HealthAdvisory
	HealthCaution
	HealthWarning
)

// String returns the heartbeat mnemonic for the health value.
func (h Health) String() string {
	switch h {
	case HealthNominal:
		return "NOMINAL"
	case HealthAdvisory:
		return "ADVISORY"
	case HealthCaution:
		return "CAUTION"
	case HealthWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// Mode is the node operating mode published in every heartbeat.
type Mode uint8

// Mode values per the heartbeat payload layout. Offline is the 3-bit
// ceiling, 7.
const (
	ModeOperational    Mode = 0
	ModeInitialization Mode = 1
	ModeMaintenance    Mode = 2
	ModeSoftwareUpdate Mode = 3
	ModeOffline        Mode = 7
)

// String returns the heartbeat mnemonic for the mode value.
func (m Mode) String() string {
	switch m {
	case ModeOperational:
		return "OPERATIONAL"
	case ModeInitialization:
		return "INITIALIZATION"
	case ModeMaintenance:
		return "MAINTENANCE"
	case ModeSoftwareUpdate:
		return "SOFTWARE_UPDATE"
	case ModeOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// State is the node lifecycle state.
type State uint8

// Lifecycle states. Transitions are enforced by the Node methods.
const (
	StateUninitialized State = iota
	StateInitializing
	StateOperational
	StateError
	StateOffline
)

// String returns a printable name for the lifecycle state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateOperational:
		return "OPERATIONAL"
	case StateError:
		return "ERROR"
	case StateOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}
