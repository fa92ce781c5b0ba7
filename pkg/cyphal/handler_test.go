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

func newTestHandler(t *testing.T, port uint16) (*Node, *Handler, *PriorityQueue) {
	t.Helper()
	n := newTestNode(t, port)
	q := NewPriorityQueue()
	return n, NewHandler(zerolog.Nop(), n, q), q
}

// ============================================================
// Subscription Tests
// ============================================================

func TestHandler_SubscribeRejections(t *testing.T) {
	h := NewHandler(zerolog.Nop(), NewNode(zerolog.Nop(), 0, 0), NewPriorityQueue())

	if err := h.Subscribe(100, 64); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := h.Subscribe(100, 64); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Duplicate subject: expected ErrInvalidParameter, got %v", err)
	}
	if err := h.Subscribe(SubjectIDMax+1, 64); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Subject above max: expected ErrInvalidParameter, got %v", err)
	}
	if err := h.Subscribe(200, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Zero extent: expected ErrInvalidParameter, got %v", err)
	}
	if err := h.Subscribe(200, MaxPayload+1); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Extent above max: expected ErrInvalidParameter, got %v", err)
	}
}

func TestHandler_SubscriptionTableFull(t *testing.T) {
	h := NewHandler(zerolog.Nop(), NewNode(zerolog.Nop(), 0, 0), NewPriorityQueue())

	for i := 0; i < MaxSubscriptions; i++ {
		if err := h.Subscribe(uint16(100+i), 64); err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}
	if err := h.Subscribe(999, 64); !errors.Is(err, ErrMemory) {
		t.Errorf("Full table: expected ErrMemory, got %v", err)
	}

	// Unsubscribe frees a slot.
	h.Unsubscribe(100)
	if err := h.Subscribe(999, 64); err != nil {
		t.Errorf("Subscribe after Unsubscribe failed: %v", err)
	}
	if got := len(h.Subscriptions()); got != MaxSubscriptions {
		t.Errorf("Table size = %d, expected %d", got, MaxSubscriptions)
	}
}

// ============================================================
// Send Tests
// ============================================================

func TestHandler_SendStampsIdentity(t *testing.T) {
	n, h, q := newTestHandler(t, 29441)
	n.SetNodeID(42)
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	m, _ := NewMessage(500, PriorityNominal, 0, []byte{1})
	if err := h.Send(m, time.Time{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	queued, err := q.Pop(0)
	if err != nil {
		t.Fatalf("Message not queued: %v", err)
	}
	if queued.Source != 42 {
		t.Errorf("Source = %d, expected 42", queued.Source)
	}
	if h.Stats().Sent != 1 {
		t.Errorf("Sent = %d, expected 1", h.Stats().Sent)
	}
}

func TestHandler_SendRequiresStartedNode(t *testing.T) {
	h := NewHandler(zerolog.Nop(), NewNode(zerolog.Nop(), 0, 0), NewPriorityQueue())
	m, _ := NewMessage(500, PriorityNominal, 0, nil)
	if err := h.Send(m, time.Time{}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	if h.Stats().SendErrors != 1 {
		t.Errorf("SendErrors = %d, expected 1", h.Stats().SendErrors)
	}
}

func TestHandler_SendExpiredDeadline(t *testing.T) {
	n, h, _ := newTestHandler(t, 29442)
	n.SetNodeID(42)
	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m, _ := NewMessage(500, PriorityNominal, 0, nil)
	if err := h.Send(m, time.Now().Add(-time.Second)); !errors.Is(err, ErrTimeout) {
		t.Errorf("Expired deadline: expected ErrTimeout, got %v", err)
	}
}

// ============================================================
// Reception Tests
// ============================================================

// buildDatagram assembles a complete single-frame datagram for injection.
func buildDatagram(t *testing.T, src NodeID, subject uint16, tid uint64, payload []byte) []byte {
	t.Helper()
	dg := make([]byte, HeaderSize+len(payload))
	PutHeader(dg, &DatagramHeader{
		Version:    HeaderVersion,
		Priority:   PriorityNominal,
		Source:     src,
		PortID:     subject,
		TransferID: tid,
		EndOfTx:    true,
	})
	copy(dg[HeaderSize:], payload)
	return dg
}

func TestHandler_DispatchToSubscription(t *testing.T) {
	n, h, _ := newTestHandler(t, 29443)
	n.SetNodeID(42)
	if err := h.Subscribe(600, 64); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	dg := buildDatagram(t, 7, 600, 1, []byte{0xAB})
	if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
		t.Fatalf("ProcessDatagram failed: %v", err)
	}

	tr, err := h.Receive(0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if tr.PortID != 600 || tr.Source != 7 || len(tr.Payload) != 1 {
		t.Errorf("Unexpected transfer: %s", &tr.Message)
	}

	subs := h.Subscriptions()
	if subs[0].Count != 1 {
		t.Errorf("Subscription count = %d, expected 1", subs[0].Count)
	}
}

func TestHandler_UnsubscribedSubjectDropped(t *testing.T) {
	n, h, _ := newTestHandler(t, 29444)
	n.SetNodeID(42)

	dg := buildDatagram(t, 7, 601, 1, []byte{0xAB})
	if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
		t.Fatalf("Unsubscribed subject should drop silently: %v", err)
	}
	if _, err := h.Receive(0); !errors.Is(err, ErrTimeout) {
		t.Error("Nothing should have been dispatched")
	}
	if h.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, expected 1", h.Stats().Dropped)
	}
}

func TestHandler_ReceiveTimeout(t *testing.T) {
	h := NewHandler(zerolog.Nop(), NewNode(zerolog.Nop(), 0, 0), NewPriorityQueue())
	start := time.Now()
	if _, err := h.Receive(30 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Receive returned before the timeout elapsed")
	}
}

// ============================================================
// Discovery Tests
// ============================================================

func heartbeatPayload(uptime uint32, health Health, mode Mode, vendor uint8) []byte {
	p := make([]byte, HeartbeatPayloadSize)
	binary.LittleEndian.PutUint32(p[0:4], uptime)
	p[4] = uint8(health)
	p[5] = uint8(mode)
	p[6] = vendor
	return p
}

func TestHandler_HeartbeatDiscovery(t *testing.T) {
	n, h, _ := newTestHandler(t, 29445)
	n.SetNodeID(42)

	dg := buildDatagram(t, 7, SubjectHeartbeat, 1, heartbeatPayload(120, HealthAdvisory, ModeOperational, 3))
	if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
		t.Fatalf("ProcessDatagram failed: %v", err)
	}

	remotes := h.Remotes()
	if len(remotes) != 1 {
		t.Fatalf("Remotes = %d, expected 1", len(remotes))
	}
	r := remotes[0]
	if r.ID != 7 || r.UptimeSec != 120 || r.Health != HealthAdvisory || r.Mode != ModeOperational || r.VendorStatus != 3 {
		t.Errorf("Unexpected remote row: %+v", r)
	}

	// A second heartbeat refreshes the same row.
	dg = buildDatagram(t, 7, SubjectHeartbeat, 2, heartbeatPayload(121, HealthNominal, ModeOperational, 3))
	if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
		t.Fatalf("ProcessDatagram failed: %v", err)
	}
	remotes = h.Remotes()
	if len(remotes) != 1 || remotes[0].Heartbeats != 2 || remotes[0].UptimeSec != 121 {
		t.Errorf("Row not refreshed: %+v", remotes)
	}
}

func TestHandler_OwnHeartbeatIgnored(t *testing.T) {
	n, h, _ := newTestHandler(t, 29446)
	n.SetNodeID(42)

	dg := buildDatagram(t, 42, SubjectHeartbeat, 1, heartbeatPayload(1, HealthNominal, ModeOperational, 0))
	if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
		t.Fatalf("ProcessDatagram failed: %v", err)
	}
	if len(h.Remotes()) != 0 {
		t.Error("A looped-back own heartbeat must not enter the discovery table")
	}
}

func TestHandler_RxQueueBounded(t *testing.T) {
	n, h, _ := newTestHandler(t, 29447)
	n.SetNodeID(42)
	if err := h.Subscribe(700, 64); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var fullErr error
	for i := 0; i <= RxQueueDepth; i++ {
		dg := buildDatagram(t, 7, 700, uint64(i+1), []byte{byte(i)})
		if err := h.ProcessDatagram(dg, testSrcAddr, time.Now()); err != nil {
			fullErr = err
			break
		}
	}
	if !errors.Is(fullErr, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull past capacity, got %v", fullErr)
	}
}
