// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dynamic node-ID allocation parameters. The allocation exchange itself is
// reserved for future protocol compliance; the attempt/timeout machinery is
// live so exhaustion still degrades the node deterministically.
const (
	dynamicAttemptTimeout = 3 * time.Second
	dynamicAttemptMax     = 10
)

// NodeStatus is a printable snapshot of the node's identity and lifecycle.
type NodeStatus struct {
	State           State
	Health          Health
	Mode            Mode
	NodeID          NodeID
	UptimeSeconds   uint32
	DynamicEnabled  bool
	DynamicAttempts int
}

// Node owns the transport, the codec, the arena, and the lifecycle mutex.
// It is the only component allowed to reset the arena.
type Node struct {
	mu  sync.Mutex
	log zerolog.Logger

	udpPort   uint16
	mtu       int
	endpoints EndpointMap

	state  State
	health Health
	mode   Mode
	id     NodeID

	dynamic      bool
	dynAttempts  int
	dynDeadline  time.Time
	dynExhausted bool

	initAt time.Time
	uptime uint32

	transport *UDPTransport
	codec     *Codec
	arena     *Arena
}

// NewNode creates an uninitialized node. udpPort of zero selects the
// default; mtu of zero selects the default MTU.
func NewNode(log zerolog.Logger, udpPort uint16, mtu int) *Node {
	if udpPort == 0 {
		udpPort = DefaultUDPPort
	}
	if mtu == 0 {
		mtu = DefaultMTU
	}
	return &Node{
		log:       log.With().Str("component", "node").Logger(),
		udpPort:   udpPort,
		mtu:       mtu,
		endpoints: DefaultEndpoints(),
		state:     StateUninitialized,
		mode:      ModeOffline,
	}
}

// SetEndpoints overrides the multicast base pair. The bases are fixed once
// Init has joined its groups.
func (n *Node) SetEndpoints(e EndpointMap) error {
	if !e.Valid() {
		return fmt.Errorf("%w: endpoint bases 0x%08X/0x%08X", ErrInvalidConfig, e.Subject, e.Service)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateUninitialized {
		return fmt.Errorf("%w: endpoints fixed after init", ErrBadLifecycle)
	}
	n.endpoints = e
	return nil
}

// Endpoints returns the active multicast base pair.
func (n *Node) Endpoints() EndpointMap {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints
}

// Init brings the node from Uninitialized to Offline: reserve the arena,
// open the socket on ifaceName, join the subject base group, and stand up
// the codec.
func (n *Node) Init(ifaceName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateUninitialized {
		return fmt.Errorf("%w: init from %s", ErrBadLifecycle, n.state)
	}
	n.state = StateInitializing

	n.arena = NewArena()
	n.transport = NewUDPTransport()
	if err := n.transport.Init(ifaceName, n.udpPort, n.endpoints); err != nil {
		n.state = StateUninitialized
		n.arena = nil
		n.transport = nil
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	n.codec = NewCodec(n.arena, n.mtu)

	n.initAt = time.Now()
	n.uptime = 0
	n.state = StateOffline
	n.mode = ModeInitialization
	n.health = HealthNominal
	n.log.Info().Uint16("port", n.udpPort).Int("mtu", n.mtu).Msg("node initialized")
	return nil
}

// Deinit tears the node down from any state: close the socket, drop codec
// sessions, reset the arena, return to Uninitialized.
func (n *Node) Deinit() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.transport != nil {
		n.transport.Deinit()
	}
	if n.codec != nil {
		n.codec.Reset()
	}
	if n.arena != nil {
		n.arena.Reset()
	}
	n.transport = nil
	n.codec = nil
	n.arena = nil
	n.state = StateUninitialized
	n.mode = ModeOffline
	n.dynAttempts = 0
	n.dynDeadline = time.Time{}
	n.dynExhausted = false
	n.log.Info().Msg("node deinitialized")
	return nil
}

// Start moves Offline to Operational. It fails unless the node holds a
// concrete ID or dynamic allocation is enabled.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateOffline {
		return fmt.Errorf("%w: start from %s", ErrBadLifecycle, n.state)
	}
	if !n.id.IsSet() && !n.dynamic {
		return fmt.Errorf("%w: no node id and dynamic allocation disabled", ErrInvalidConfig)
	}
	n.state = StateOperational
	n.mode = ModeOperational
	if n.dynamic && !n.id.IsSet() {
		n.dynAttempts = 1
		n.dynDeadline = time.Now().Add(dynamicAttemptTimeout)
	}
	n.log.Info().Uint8("node_id", uint8(n.id)).Bool("dynamic", n.dynamic).Msg("node started")
	return nil
}

// Stop returns an Operational node to Offline. Identity and transport
// survive; a subsequent Start succeeds without reinit.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateOperational && n.state != StateError {
		return fmt.Errorf("%w: stop from %s", ErrBadLifecycle, n.state)
	}
	n.state = StateOffline
	n.mode = ModeOffline
	n.log.Info().Msg("node stopped")
	return nil
}

// RaiseError transitions an Operational node into the Error state.
func (n *Node) RaiseError(cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateOperational {
		n.state = StateError
		n.health = HealthWarning
		n.log.Error().Err(cause).Msg("node entered error state")
	}
}

// Recover returns an Error-state node to Operational.
func (n *Node) Recover() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateError {
		return fmt.Errorf("%w: recover from %s", ErrBadLifecycle, n.state)
	}
	n.state = StateOperational
	n.mode = ModeOperational
	n.health = HealthNominal
	n.dynExhausted = false
	n.log.Info().Msg("node recovered")
	return nil
}

// SetNodeID assigns a concrete node-ID, or unsets with 0. Assigning a
// concrete ID disables dynamic allocation.
func (n *Node) SetNodeID(id NodeID) error {
	if !id.IsValid() {
		return fmt.Errorf("%w: node id %d (valid: 0 or 1..%d)", ErrInvalidParameter, id, NodeIDMax)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.id = id
	if id.IsSet() {
		n.dynamic = false
		n.dynAttempts = 0
		n.dynDeadline = time.Time{}
	}
	return nil
}

// NodeID returns the current node-ID (0 when unset).
func (n *Node) NodeID() NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// EnableDynamicNodeID toggles dynamic allocation. Enabling clears any
// concrete ID; disabling leaves the ID as-is.
func (n *Node) EnableDynamicNodeID(enable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dynamic = enable
	if enable {
		n.id = NodeIDUnset
		n.dynAttempts = 0
		n.dynDeadline = time.Time{}
		n.dynExhausted = false
	}
}

// DynamicEnabled reports whether dynamic allocation is active.
func (n *Node) DynamicEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dynamic
}

// ProcessDynamicNodeID drives the allocation attempt counter: an expired
// attempt retries up to the maximum; exhaustion degrades the node to Error.
func (n *Node) ProcessDynamicNodeID(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dynamic || n.id.IsSet() || n.state != StateOperational || n.dynExhausted {
		return
	}
	if n.dynDeadline.IsZero() {
		n.dynAttempts = 1
		n.dynDeadline = now.Add(dynamicAttemptTimeout)
		return
	}
	if now.Before(n.dynDeadline) {
		return
	}
	if n.dynAttempts >= dynamicAttemptMax {
		n.dynExhausted = true
		n.state = StateError
		n.health = HealthWarning
		n.log.Error().Int("attempts", n.dynAttempts).Msg("dynamic node id allocation exhausted")
		return
	}
	n.dynAttempts++
	n.dynDeadline = now.Add(dynamicAttemptTimeout)
	n.log.Debug().Int("attempt", n.dynAttempts).Msg("dynamic node id allocation retry")
}

// CompleteDynamicNodeID lands an allocated address on the node. Exposed so
// a future allocation exchange (and the test harness) can finish the cycle.
func (n *Node) CompleteDynamicNodeID(id NodeID) error {
	if !id.IsSet() {
		return fmt.Errorf("%w: allocated id must be concrete", ErrInvalidParameter)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dynamic {
		return fmt.Errorf("%w: dynamic allocation not enabled", ErrBadLifecycle)
	}
	n.id = id
	n.dynDeadline = time.Time{}
	n.log.Info().Uint8("node_id", uint8(id)).Msg("dynamic node id acquired")
	return nil
}

// SetHealth updates the published health. Valid in any post-init state.
func (n *Node) SetHealth(h Health) error {
	if h > HealthWarning {
		return fmt.Errorf("%w: health %d", ErrInvalidParameter, h)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateUninitialized {
		return ErrNotInitialized
	}
	n.health = h
	return nil
}

// SetMode updates the published mode. Valid in any post-init state.
func (n *Node) SetMode(m Mode) error {
	switch m {
	case ModeOperational, ModeInitialization, ModeMaintenance, ModeSoftwareUpdate, ModeOffline:
	default:
		return fmt.Errorf("%w: mode %d", ErrInvalidParameter, m)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateUninitialized {
		return ErrNotInitialized
	}
	n.mode = m
	return nil
}

// UpdateUptime refreshes the monotonic uptime counter from the init time.
func (n *Node) UpdateUptime(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateUninitialized || n.initAt.IsZero() {
		return
	}
	if s := now.Sub(n.initAt); s > 0 {
		n.uptime = uint32(s / time.Second)
	}
}

// Status returns a consistent snapshot of the node fields.
func (n *Node) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NodeStatus{
		State:           n.state,
		Health:          n.health,
		Mode:            n.mode,
		NodeID:          n.id,
		UptimeSeconds:   n.uptime,
		DynamicEnabled:  n.dynamic,
		DynamicAttempts: n.dynAttempts,
	}
}

// State returns the lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Initialized reports whether Init has completed and Deinit has not.
func (n *Node) Initialized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state != StateUninitialized
}

// Started reports whether the node is currently Operational.
func (n *Node) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateOperational
}

// Transport exposes the exclusively owned UDP transport (nil before Init).
func (n *Node) Transport() *UDPTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transport
}

// Codec exposes the exclusively owned transfer codec (nil before Init).
func (n *Node) Codec() *Codec {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codec
}

// Arena exposes the node's bump allocator (nil before Init).
func (n *Node) Arena() *Arena {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.arena
}

// AllocScratch allocates from the node arena on behalf of a caller.
func (n *Node) AllocScratch(size int) ([]byte, error) {
	n.mu.Lock()
	a := n.arena
	n.mu.Unlock()
	if a == nil {
		return nil, ErrNotInitialized
	}
	return a.Alloc(size)
}
