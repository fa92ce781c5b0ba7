// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================
// Payload Shape Tests
// ============================================================

func TestHeartbeat_PayloadShape(t *testing.T) {
	n := newTestNode(t, 29421)
	n.SetNodeID(42)
	n.SetHealth(HealthCaution)
	n.SetMode(ModeMaintenance)
	n.UpdateUptime(time.Now().Add(5 * time.Second))

	q := NewPriorityQueue()
	hb := NewHeartbeat(zerolog.Nop(), n, q)
	hb.SetVendorStatus(0x5A)

	if err := hb.SendNow(); err != nil {
		t.Fatalf("SendNow failed: %v", err)
	}

	m, err := q.Pop(0)
	if err != nil {
		t.Fatalf("Heartbeat not queued: %v", err)
	}
	if m.PortID != SubjectHeartbeat {
		t.Errorf("Subject = %d, expected %d", m.PortID, SubjectHeartbeat)
	}
	if m.Source != 42 {
		t.Errorf("Source = %d, expected 42", m.Source)
	}
	if m.Priority != PriorityNominal {
		t.Errorf("Priority = %s, expected NOMINAL", m.Priority)
	}
	if len(m.Payload) != HeartbeatPayloadSize {
		t.Fatalf("Payload length = %d, expected %d", len(m.Payload), HeartbeatPayloadSize)
	}
	if up := binary.LittleEndian.Uint32(m.Payload[0:4]); up < 5 {
		t.Errorf("Uptime = %d, expected at least 5", up)
	}
	if m.Payload[4] != uint8(HealthCaution) {
		t.Errorf("Health byte = %d, expected %d", m.Payload[4], HealthCaution)
	}
	if m.Payload[5] != uint8(ModeMaintenance) {
		t.Errorf("Mode byte = %d, expected %d", m.Payload[5], ModeMaintenance)
	}
	if m.Payload[6] != 0x5A {
		t.Errorf("Vendor byte = 0x%02X, expected 0x5A", m.Payload[6])
	}
}

func TestHeartbeat_SkippedWithoutIdentity(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)
	q := NewPriorityQueue()
	hb := NewHeartbeat(zerolog.Nop(), n, q)

	if err := hb.SendNow(); err != nil {
		t.Fatalf("SendNow on an anonymous node should be a silent no-op: %v", err)
	}
	if _, err := q.Pop(0); !errors.Is(err, ErrTimeout) {
		t.Error("Anonymous node must not queue heartbeats")
	}
	if hb.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, expected 1", hb.Stats().Skipped)
	}
}

// ============================================================
// Interval Tests
// ============================================================

func TestHeartbeat_IntervalValidation(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)
	hb := NewHeartbeat(zerolog.Nop(), n, NewPriorityQueue())

	if hb.Interval() != DefaultHeartbeatIntervalMs {
		t.Errorf("Default interval = %d, expected %d", hb.Interval(), DefaultHeartbeatIntervalMs)
	}

	tests := []struct {
		ms      int
		wantErr bool
	}{
		{MinHeartbeatIntervalMs, false},
		{MaxHeartbeatIntervalMs, false},
		{MinHeartbeatIntervalMs - 1, true},
		{MaxHeartbeatIntervalMs + 1, true},
	}
	for _, tt := range tests {
		err := hb.SetInterval(tt.ms)
		if tt.wantErr && !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("SetInterval(%d): expected ErrInvalidParameter, got %v", tt.ms, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("SetInterval(%d) rejected: %v", tt.ms, err)
		}
	}
}

func TestHeartbeat_PriorityValidation(t *testing.T) {
	hb := NewHeartbeat(zerolog.Nop(), NewNode(zerolog.Nop(), 0, 0), NewPriorityQueue())
	if err := hb.SetPriority(Priority(8)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SetPriority(8): expected ErrInvalidParameter, got %v", err)
	}
	if err := hb.SetPriority(PriorityImmediate); err != nil {
		t.Errorf("SetPriority(IMMEDIATE) rejected: %v", err)
	}
}

// ============================================================
// Service Lifecycle Tests
// ============================================================

func TestHeartbeat_StartRequiresInit(t *testing.T) {
	n := NewNode(zerolog.Nop(), 0, 0)
	hb := NewHeartbeat(zerolog.Nop(), n, NewPriorityQueue())
	if err := hb.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start before node init: expected ErrNotInitialized, got %v", err)
	}
}

func TestHeartbeat_PeriodicEmission(t *testing.T) {
	n := newTestNode(t, 29422)
	n.SetNodeID(9)

	q := NewPriorityQueue()
	hb := NewHeartbeat(zerolog.Nop(), n, q)
	hb.SetInterval(MinHeartbeatIntervalMs)

	if err := hb.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := hb.Start(); err != nil {
		t.Errorf("Start should be idempotent while running: %v", err)
	}
	defer hb.Stop()

	// 350 ms at a 100 ms cadence yields at least two ticks.
	time.Sleep(350 * time.Millisecond)
	hb.Stop()

	if sent := hb.Stats().Sent; sent < 2 {
		t.Errorf("Sent = %d, expected at least 2", sent)
	}
	if q.Len() < 2 {
		t.Errorf("Queue depth = %d, expected at least 2", q.Len())
	}
	if hb.Running() {
		t.Error("Heartbeat should not report running after Stop")
	}
}
