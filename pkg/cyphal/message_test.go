// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"bytes"
	"testing"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x29B1, // Standard CRC-16-CCITT check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

// ============================================================
// Message Construction Tests
// ============================================================

func TestNewMessage_Valid(t *testing.T) {
	payload := []byte{1, 2, 3}
	m, err := NewMessage(4567, PriorityHigh, 7, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if m.PortID != 4567 || m.Priority != PriorityHigh || m.TransferID != 7 {
		t.Errorf("Header mismatch: %+v", m.Header)
	}
	if !bytes.Equal(m.Payload, payload) {
		t.Errorf("Payload mismatch: %v", m.Payload)
	}
	if m.CRC != CalculateCRC(payload) {
		t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", CalculateCRC(payload), m.CRC)
	}
}

func TestNewMessage_CopiesPayload(t *testing.T) {
	payload := []byte{0xAA, 0xBB}
	m, err := NewMessage(1, PriorityNominal, 0, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	payload[0] = 0x00
	if m.Payload[0] != 0xAA {
		t.Error("Message should own a copy of the payload")
	}
}

func TestNewMessage_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		subject uint16
		prio    Priority
		payload []byte
	}{
		{"subject above max", SubjectIDMax + 1, PriorityNominal, nil},
		{"invalid priority", 100, Priority(8), nil},
		{"oversized payload", 100, PriorityNominal, make([]byte, MaxPayload+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMessage(tt.subject, tt.prio, 0, tt.payload); err == nil {
				t.Error("Expected rejection, got nil error")
			}
		})
	}
}

func TestNewMessage_MaxPayloadAccepted(t *testing.T) {
	m, err := NewMessage(100, PriorityNominal, 0, make([]byte, MaxPayload))
	if err != nil {
		t.Fatalf("Payload of exactly MaxPayload should be accepted: %v", err)
	}
	if len(m.Payload) != MaxPayload {
		t.Errorf("Payload length %d, expected %d", len(m.Payload), MaxPayload)
	}
}

func TestMessage_Equal(t *testing.T) {
	a, _ := NewMessage(10, PriorityNominal, 1, []byte{1, 2})
	b, _ := NewMessage(10, PriorityNominal, 1, []byte{1, 2})
	if !a.Equal(b) {
		t.Error("Identical messages should compare equal")
	}

	c, _ := NewMessage(10, PriorityNominal, 2, []byte{1, 2})
	if a.Equal(c) {
		t.Error("Differing transfer-IDs should compare unequal")
	}

	d, _ := NewMessage(10, PriorityNominal, 1, []byte{1, 3})
	if a.Equal(d) {
		t.Error("Differing payloads should compare unequal")
	}
}

// ============================================================
// Error Taxonomy Tests
// ============================================================

func TestErrorKind_Recoverable(t *testing.T) {
	recoverable := []ErrorKind{
		KindNetworkUnavailable, KindQueueFull, KindTimeout,
		KindSendFailed, KindReceiveFailed, KindTransportError,
	}
	fatal := []ErrorKind{
		KindInitFailed, KindInvalidConfig, KindInvalidParameter,
		KindMemoryAllocation, KindNodeIDConflict,
	}

	for _, k := range recoverable {
		if !k.Recoverable() {
			t.Errorf("%s should be recoverable", k)
		}
	}
	for _, k := range fatal {
		if k.Recoverable() {
			t.Errorf("%s should not be recoverable", k)
		}
	}
}

func TestKindOf_RoundTrip(t *testing.T) {
	kinds := []ErrorKind{
		KindInitFailed, KindNetworkUnavailable, KindSendFailed,
		KindReceiveFailed, KindQueueFull, KindInvalidConfig,
		KindInvalidParameter, KindTimeout, KindMemoryAllocation,
		KindNodeIDConflict, KindTransportError,
	}
	for _, k := range kinds {
		if got := KindOf(k.Err()); got != k {
			t.Errorf("KindOf(%s.Err()) = %s", k, got)
		}
	}
	if KindOf(nil) != KindNone {
		t.Error("KindOf(nil) should be KindNone")
	}
}

// ============================================================
// Identity Domain Tests
// ============================================================

func TestNodeID_Domain(t *testing.T) {
	if NodeID(0).IsSet() {
		t.Error("Node-ID 0 should be unset")
	}
	if !NodeID(0).IsValid() {
		t.Error("Node-ID 0 should be a valid (unset) value")
	}
	if !NodeID(1).IsValid() || !NodeID(127).IsValid() {
		t.Error("Node-IDs 1 and 127 should be valid")
	}
	if NodeID(128).IsValid() {
		t.Error("Node-ID 128 should be invalid")
	}
}

func TestPriority_Domain(t *testing.T) {
	for p := 0; p < PriorityCount; p++ {
		if !Priority(p).IsValid() {
			t.Errorf("Priority %d should be valid", p)
		}
	}
	if Priority(8).IsValid() {
		t.Error("Priority 8 should be invalid")
	}
	if PriorityExceptional != 0 || PriorityOptional != 7 {
		t.Error("Priority mnemonics disagree with the wire encoding")
	}
}
