// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestNode initializes a node on an ephemeral-ish port, skipping the test
// in environments without a multicast-capable interface.
func newTestNode(t *testing.T, port uint16) *Node {
	t.Helper()
	n := NewNode(zerolog.Nop(), port, 0)
	if err := n.Init(""); err != nil {
		t.Skipf("multicast networking unavailable: %v", err)
	}
	t.Cleanup(func() { n.Deinit() })
	return n
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestNode_LifecycleHappyPath(t *testing.T) {
	n := newTestNode(t, 29401)

	if n.State() != StateOffline {
		t.Fatalf("State after Init = %s, expected OFFLINE", n.State())
	}
	if err := n.SetNodeID(42); err != nil {
		t.Fatalf("SetNodeID failed: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n.State() != StateOperational || !n.Started() {
		t.Errorf("State after Start = %s", n.State())
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n.State() != StateOffline {
		t.Errorf("State after Stop = %s, expected OFFLINE", n.State())
	}

	// Identity survives Stop; Start succeeds again without reinit.
	if err := n.Start(); err != nil {
		t.Errorf("Restart failed: %v", err)
	}
}

func TestNode_BadTransitions(t *testing.T) {
	n := NewNode(zerolog.Nop(), 29402, 0)

	if err := n.Start(); !errors.Is(err, ErrBadLifecycle) {
		t.Errorf("Start before Init: expected ErrBadLifecycle, got %v", err)
	}
	if err := n.Stop(); !errors.Is(err, ErrBadLifecycle) {
		t.Errorf("Stop before Init: expected ErrBadLifecycle, got %v", err)
	}
	if err := n.SetHealth(HealthCaution); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetHealth before Init: expected ErrNotInitialized, got %v", err)
	}
	if err := n.Recover(); !errors.Is(err, ErrBadLifecycle) {
		t.Errorf("Recover before Init: expected ErrBadLifecycle, got %v", err)
	}
}

func TestNode_StartRequiresIdentity(t *testing.T) {
	n := newTestNode(t, 29403)
	err := n.Start()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Start without identity: expected ErrInvalidConfig, got %v", err)
	}
}

func TestNode_DeinitReinit(t *testing.T) {
	n := NewNode(zerolog.Nop(), 29404, 0)
	if err := n.Init(""); err != nil {
		t.Skipf("multicast networking unavailable: %v", err)
	}
	n.SetNodeID(7)
	if err := n.Deinit(); err != nil {
		t.Fatalf("Deinit failed: %v", err)
	}
	if n.Initialized() {
		t.Error("Node should not report initialized after Deinit")
	}
	if err := n.Init(""); err != nil {
		t.Fatalf("Reinit failed: %v", err)
	}
	defer n.Deinit()
	if n.State() != StateOffline {
		t.Errorf("State after reinit = %s", n.State())
	}
}

func TestNode_ErrorAndRecover(t *testing.T) {
	n := newTestNode(t, 29405)
	n.SetNodeID(42)
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	n.RaiseError(ErrSendFailed)
	if n.State() != StateError {
		t.Fatalf("State after RaiseError = %s, expected ERROR", n.State())
	}
	if n.Status().Health != HealthWarning {
		t.Errorf("Health after RaiseError = %s, expected WARNING", n.Status().Health)
	}

	if err := n.Recover(); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if n.State() != StateOperational || n.Status().Health != HealthNominal {
		t.Errorf("Recover should restore OPERATIONAL/NOMINAL, got %s/%s", n.State(), n.Status().Health)
	}
}

// ============================================================
// Identity Tests
// ============================================================

func TestNode_SetNodeIDDomain(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)

	if err := n.SetNodeID(128); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Node-ID 128: expected ErrInvalidParameter, got %v", err)
	}
	if err := n.SetNodeID(127); err != nil {
		t.Errorf("Node-ID 127 rejected: %v", err)
	}
	if err := n.SetNodeID(0); err != nil {
		t.Errorf("Unsetting with 0 rejected: %v", err)
	}
	if n.NodeID().IsSet() {
		t.Error("Node-ID should be unset after SetNodeID(0)")
	}
}

func TestNode_SetEndpoints(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)

	if got := n.Endpoints(); got != DefaultEndpoints() {
		t.Errorf("Endpoints = 0x%08X/0x%08X, expected the standard bases", got.Subject, got.Service)
	}

	custom := EndpointMap{Subject: 0xEA100000, Service: 0xEA110000}
	if err := n.SetEndpoints(custom); err != nil {
		t.Fatalf("SetEndpoints rejected a valid pair: %v", err)
	}
	if got := n.Endpoints(); got != custom {
		t.Errorf("Endpoints = 0x%08X/0x%08X, expected the custom bases", got.Subject, got.Service)
	}

	bad := EndpointMap{Subject: 0xEA100001, Service: 0xEA110000}
	if err := n.SetEndpoints(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Nonzero low half: expected ErrInvalidConfig, got %v", err)
	}
	if got := n.Endpoints(); got != custom {
		t.Error("Rejected pair should not replace the active bases")
	}
}

func TestNode_EndpointsFixedAfterInit(t *testing.T) {
	n := newTestNode(t, 29410)

	err := n.SetEndpoints(EndpointMap{Subject: 0xEA100000, Service: 0xEA110000})
	if !errors.Is(err, ErrBadLifecycle) {
		t.Errorf("SetEndpoints after Init: expected ErrBadLifecycle, got %v", err)
	}
}

func TestNode_DynamicInterlock(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)

	n.EnableDynamicNodeID(true)
	if !n.DynamicEnabled() {
		t.Fatal("Dynamic allocation should be enabled")
	}

	// A concrete assignment disables dynamic allocation.
	n.SetNodeID(42)
	if n.DynamicEnabled() {
		t.Error("Concrete ID should disable dynamic allocation")
	}

	// Enabling again clears the concrete ID.
	n.EnableDynamicNodeID(true)
	if n.NodeID().IsSet() {
		t.Error("Enabling dynamic allocation should clear the concrete ID")
	}
}

func TestNode_DynamicExhaustionDegrades(t *testing.T) {
	n := newTestNode(t, 29406)
	n.EnableDynamicNodeID(true)
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	now := time.Now()
	for i := 0; i < dynamicAttemptMax+1; i++ {
		now = now.Add(dynamicAttemptTimeout + time.Millisecond)
		n.ProcessDynamicNodeID(now)
	}
	if n.State() != StateError {
		t.Errorf("State after allocation exhaustion = %s, expected ERROR", n.State())
	}
}

func TestNode_CompleteDynamicNodeID(t *testing.T) {
	n := newTestNode(t, 29407)
	n.EnableDynamicNodeID(true)
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := n.CompleteDynamicNodeID(0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Completing with unset ID: expected ErrInvalidParameter, got %v", err)
	}
	if err := n.CompleteDynamicNodeID(55); err != nil {
		t.Fatalf("CompleteDynamicNodeID failed: %v", err)
	}
	if n.NodeID() != 55 {
		t.Errorf("Node-ID = %d, expected 55", n.NodeID())
	}
}

// ============================================================
// Status Tests
// ============================================================

func TestNode_HealthModeReadback(t *testing.T) {
	n := newTestNode(t, 29408)

	if err := n.SetHealth(HealthCaution); err != nil {
		t.Fatalf("SetHealth failed: %v", err)
	}
	if err := n.SetMode(ModeMaintenance); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	st := n.Status()
	if st.Health != HealthCaution || st.Mode != ModeMaintenance {
		t.Errorf("Readback = %s/%s, expected CAUTION/MAINTENANCE", st.Health, st.Mode)
	}

	if err := n.SetHealth(Health(4)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Health 4: expected ErrInvalidParameter, got %v", err)
	}
	if err := n.SetMode(Mode(5)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Mode 5: expected ErrInvalidParameter, got %v", err)
	}
}

func TestNode_UptimeAdvances(t *testing.T) {
	n := newTestNode(t, 29409)
	n.UpdateUptime(time.Now().Add(3 * time.Second))
	if got := n.Status().UptimeSeconds; got < 3 {
		t.Errorf("UptimeSeconds = %d, expected at least 3", got)
	}
}
