// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"time"
)

// Header carries the transfer addressing fields shared by every datagram of
// a transfer.
type Header struct {
	Priority    Priority
	Source      NodeID
	Destination NodeID
	// PortID is the subject-ID for messages or the service-ID for
	// request/response exchanges.
	PortID     uint16
	TransferID uint64
}

// Message is one application-level transfer: header, owned payload, and
// local reception/creation metadata.
type Message struct {
	Header

	// Payload is owned by the message. Size never exceeds MaxPayload.
	Payload []byte

	Timestamp time.Time
	CRC       uint16
}

// NewMessage builds a validated message addressed to a subject. The payload
// is copied so the caller may reuse its buffer.
func NewMessage(subject uint16, prio Priority, transferID uint64, payload []byte) (*Message, error) {
	if !prio.IsValid() {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidParameter, prio)
	}
	if subject > SubjectIDMax {
		return nil, fmt.Errorf("%w: subject id %d (max %d)", ErrInvalidParameter, subject, SubjectIDMax)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes (max %d)", ErrInvalidParameter, len(payload), MaxPayload)
	}
	owned := make([]byte, len(payload))
	copy(owned, payload)
	m := &Message{
		Header: Header{
			Priority:   prio,
			PortID:     subject,
			TransferID: transferID,
		},
		Payload:   owned,
		Timestamp: time.Now(),
	}
	m.CRC = CalculateCRC(owned)
	return m, nil
}

// Equal reports whether both messages agree in header and payload. Local
// metadata (timestamp) is excluded.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Header != o.Header || len(m.Payload) != len(o.Payload) {
		return false
	}
	for i := range m.Payload {
		if m.Payload[i] != o.Payload[i] {
			return false
		}
	}
	return true
}

// String returns a one-line summary used by diagnostics output.
func (m *Message) String() string {
	return fmt.Sprintf("subject=%d prio=%s src=%d tid=%d len=%d",
		m.PortID, m.Priority, m.Source, m.TransferID, len(m.Payload))
}

// Transfer is a completed reception: the reassembled message plus the
// session it arrived on.
type Transfer struct {
	Message

	// SourceAddr is the IPv4 address the first datagram arrived from,
	// network byte order.
	SourceAddr uint32
	// FirstFrameAt is the reception timestamp of the first datagram of the
	// transfer.
	FirstFrameAt time.Time
}
