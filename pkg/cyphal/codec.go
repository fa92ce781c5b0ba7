// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// DatagramHeader is the fixed 24-byte prefix of every Cyphal/UDP datagram.
//
//	offset  size  field
//	0       1     version (HeaderVersion)
//	1       1     priority
//	2       2     source node-id (LE)
//	4       2     destination node-id (LE)
//	6       2     subject/service id (LE)
//	8       8     transfer-id (LE)
//	16      4     frame index | end-of-transfer flag (LE)
//	20      2     user data (reserved, zero)
//	22      2     header CRC-16-CCITT over bytes [0,22) (LE)
type DatagramHeader struct {
	Version     uint8
	Priority    Priority
	Source      NodeID
	Destination NodeID
	PortID      uint16
	TransferID  uint64
	FrameIndex  uint32
	EndOfTx     bool
}

// PutHeader serializes h into buf, which must hold at least HeaderSize
// bytes, and returns HeaderSize.
func PutHeader(buf []byte, h *DatagramHeader) int {
	buf[0] = h.Version
	buf[1] = byte(h.Priority)
	binary.LittleEndian.PutUint16(buf[2:], uint16(h.Source))
	binary.LittleEndian.PutUint16(buf[4:], uint16(h.Destination))
	binary.LittleEndian.PutUint16(buf[6:], h.PortID)
	binary.LittleEndian.PutUint64(buf[8:], h.TransferID)
	fi := h.FrameIndex & FrameIndexMask
	if h.EndOfTx {
		fi |= FrameIndexEnd
	}
	binary.LittleEndian.PutUint32(buf[16:], fi)
	binary.LittleEndian.PutUint16(buf[20:], 0)
	binary.LittleEndian.PutUint16(buf[22:], CalculateCRC(buf[:22]))
	return HeaderSize
}

// ParseHeader validates and decodes the fixed prefix of a datagram.
func ParseHeader(data []byte) (DatagramHeader, error) {
	var h DatagramHeader
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: datagram %d bytes (header needs %d)", ErrReceiveFailed, len(data), HeaderSize)
	}
	if got, want := binary.LittleEndian.Uint16(data[22:]), CalculateCRC(data[:22]); got != want {
		return h, fmt.Errorf("%w: header CRC mismatch: expected 0x%04X, got 0x%04X", ErrReceiveFailed, want, got)
	}
	h.Version = data[0]
	if h.Version != HeaderVersion {
		return h, fmt.Errorf("%w: header version %d", ErrReceiveFailed, h.Version)
	}
	h.Priority = Priority(data[1])
	if !h.Priority.IsValid() {
		return h, fmt.Errorf("%w: priority %d", ErrReceiveFailed, data[1])
	}
	src := binary.LittleEndian.Uint16(data[2:])
	dst := binary.LittleEndian.Uint16(data[4:])
	if src > NodeIDMax || dst > NodeIDMax {
		return h, fmt.Errorf("%w: node id out of range (src=%d dst=%d)", ErrReceiveFailed, src, dst)
	}
	h.Source = NodeID(src)
	h.Destination = NodeID(dst)
	h.PortID = binary.LittleEndian.Uint16(data[6:])
	h.TransferID = binary.LittleEndian.Uint64(data[8:])
	fi := binary.LittleEndian.Uint32(data[16:])
	h.FrameIndex = fi & FrameIndexMask
	h.EndOfTx = fi&FrameIndexEnd != 0
	return h, nil
}

// sessionKey identifies one reassembly session: source IP plus port-ID.
// Datagrams of one transfer always originate from one socket.
type sessionKey struct {
	srcAddr uint32
	portID  uint16
}

// rxSession accumulates the fragments of one in-flight transfer.
type rxSession struct {
	transferID uint64
	nextFrame  uint32
	priority   Priority
	source     NodeID
	buf        []byte
	firstAt    time.Time
}

// CodecStats counts codec-level outcomes.
type CodecStats struct {
	TransfersEncoded  uint64
	DatagramsEncoded  uint64
	TransfersDecoded  uint64
	FragmentsAccepted uint64
	Rejected          uint64
	Duplicates        uint64
}

// Codec owns the transfer-ID counter, the MTU, and the reassembly sessions.
// Scratch buffers come from the node's bump arena; when the arena is
// exhausted, scratch falls back to the heap and the miss shows up in
// Arena.Stats().Failures.
type Codec struct {
	mu       sync.Mutex
	mtu      int
	nextTID  uint64
	arena    *Arena
	sessions map[sessionKey]*rxSession
	stats    CodecStats
}

// NewCodec creates a codec drawing scratch from arena. An out-of-range MTU
// is clamped to [HeaderSize+1, MTUCeiling].
func NewCodec(arena *Arena, mtu int) *Codec {
	if mtu <= HeaderSize {
		mtu = DefaultMTU
	}
	if mtu > MTUCeiling {
		mtu = MTUCeiling
	}
	return &Codec{
		mtu:      mtu,
		arena:    arena,
		sessions: make(map[sessionKey]*rxSession),
	}
}

// MTU returns the configured maximum datagram size.
func (c *Codec) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// NextTransferID returns the per-node monotonic counter value and advances
// it, wrapping at 2^64-1.
func (c *Codec) NextTransferID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	tid := c.nextTID
	c.nextTID++
	return tid
}

// Encode assigns the message its transfer-ID and serializes it into one or
// more datagrams subject to the MTU. The returned slices are backed by the
// arena when space permits.
func (c *Codec) Encode(m *Message) ([][]byte, error) {
	if m == nil {
		return nil, ErrInvalidParameter
	}
	if !m.Priority.IsValid() {
		return nil, fmt.Errorf("%w: priority %d", ErrInvalidParameter, m.Priority)
	}
	if len(m.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes (max %d)", ErrInvalidParameter, len(m.Payload), MaxPayload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m.TransferID = c.nextTID
	c.nextTID++

	chunk := c.mtu - HeaderSize
	n := len(m.Payload)
	frames := (n + chunk - 1) / chunk
	if frames == 0 {
		frames = 1 // empty payload still emits one datagram
	}

	out := make([][]byte, 0, frames)
	for i := 0; i < frames; i++ {
		lo := i * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		dg := c.scratch(HeaderSize + (hi - lo))
		h := DatagramHeader{
			Version:     HeaderVersion,
			Priority:    m.Priority,
			Source:      m.Source,
			Destination: m.Destination,
			PortID:      m.PortID,
			TransferID:  m.TransferID,
			FrameIndex:  uint32(i),
			EndOfTx:     i == frames-1,
		}
		PutHeader(dg, &h)
		copy(dg[HeaderSize:], m.Payload[lo:hi])
		out = append(out, dg)
		c.stats.DatagramsEncoded++
	}
	c.stats.TransfersEncoded++
	return out, nil
}

// scratch allocates from the arena, falling back to the heap when the
// region is exhausted so the TX pipeline degrades instead of failing.
func (c *Codec) scratch(n int) []byte {
	if b, err := c.arena.Alloc(n); err == nil {
		return b
	}
	return make([]byte, n)
}

// Accept consumes one datagram received at ts from srcAddr. extent is the
// subscriber's maximum accepted payload size. It returns a completed
// transfer, or nil while fragments accumulate.
func (c *Codec) Accept(data []byte, ts time.Time, srcAddr uint32, extent int) (*Transfer, error) {
	h, err := ParseHeader(data)
	if err != nil {
		c.mu.Lock()
		c.stats.Rejected++
		c.mu.Unlock()
		return nil, err
	}
	if extent > MaxPayload || extent <= 0 {
		extent = MaxPayload
	}
	payload := data[HeaderSize:]

	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey{srcAddr: srcAddr, portID: h.PortID}
	s := c.sessions[key]

	if h.FrameIndex == 0 {
		// Anti-duplication: a repeated transfer-ID on a fresh first frame is
		// a duplicate of a transfer already completed or in flight.
		if s != nil && h.TransferID <= s.transferID {
			c.stats.Duplicates++
			return nil, fmt.Errorf("%w: duplicate transfer id %d on port %d", ErrReceiveFailed, h.TransferID, h.PortID)
		}
		s = &rxSession{
			transferID: h.TransferID,
			priority:   h.Priority,
			source:     h.Source,
			firstAt:    ts,
		}
		c.sessions[key] = s
	} else {
		if s == nil || s.transferID != h.TransferID || s.nextFrame != h.FrameIndex {
			// Mid-transfer fragment without a matching session: wire
			// reordering or loss. Drop the transfer but keep the
			// transfer-ID watermark so replays of a completed transfer
			// still read as duplicates.
			if s != nil {
				c.sessions[key] = &rxSession{transferID: s.transferID}
			}
			c.stats.Rejected++
			return nil, fmt.Errorf("%w: orphan fragment %d of transfer %d on port %d", ErrReceiveFailed, h.FrameIndex, h.TransferID, h.PortID)
		}
	}

	if len(s.buf)+len(payload) > extent {
		c.sessions[key] = &rxSession{transferID: h.TransferID}
		c.stats.Rejected++
		return nil, fmt.Errorf("%w: transfer exceeds extent %d on port %d", ErrReceiveFailed, extent, h.PortID)
	}
	s.buf = append(s.buf, payload...)
	s.nextFrame = h.FrameIndex + 1
	c.stats.FragmentsAccepted++

	if !h.EndOfTx {
		return nil, nil
	}

	delete(c.sessions, key)
	// Keep the session's transfer-ID watermark so late duplicates of this
	// transfer are still recognized.
	c.sessions[key] = &rxSession{transferID: h.TransferID, nextFrame: 0}
	c.stats.TransfersDecoded++

	t := &Transfer{
		Message: Message{
			Header: Header{
				Priority:    h.Priority,
				Source:      h.Source,
				Destination: h.Destination,
				PortID:      h.PortID,
				TransferID:  h.TransferID,
			},
			Payload:   s.buf,
			Timestamp: ts,
			CRC:       CalculateCRC(s.buf),
		},
		SourceAddr:   srcAddr,
		FirstFrameAt: s.firstAt,
	}
	return t, nil
}

// Stats returns a snapshot of the codec counters.
func (c *Codec) Stats() CodecStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Reset drops all in-flight reassembly sessions and the transfer-ID
// watermarks. Called at node deinit.
func (c *Codec) Reset() {
	c.mu.Lock()
	c.sessions = make(map[sessionKey]*rxSession)
	c.mu.Unlock()
}
