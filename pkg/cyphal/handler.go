// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subscription table and RX queue capacities.
const (
	MaxSubscriptions = 16
	RxQueueDepth     = 32
)

// Subscription is one per-subject reception entry.
type Subscription struct {
	SubjectID uint16
	// Extent is the maximum accepted payload size for the subject.
	Extent   int
	Active   bool
	Count    uint64
	LastSeen time.Time
}

// HandlerStats counts handler-level outcomes.
type HandlerStats struct {
	Sent               uint64
	Received           uint64
	SendErrors         uint64
	ReceiveErrors      uint64
	SubscriptionErrors uint64
	Dropped            uint64
}

// RemoteNode is one row of the node-discovery table, refreshed by every
// heartbeat received on subject 7509.
type RemoteNode struct {
	ID           NodeID
	UptimeSec    uint32
	Health       Health
	Mode         Mode
	VendorStatus uint8
	LastHeard    time.Time
	Heartbeats   uint64
}

// Handler owns the subscription table, the bounded RX queue, and the
// discovery table. Outgoing messages flow through the priority queue; the
// TX task does the actual encode and socket write.
type Handler struct {
	mu   sync.Mutex
	log  zerolog.Logger
	node *Node
	txq  *PriorityQueue

	subs    []*Subscription
	rx      chan *Transfer
	remotes map[NodeID]*RemoteNode
	stats   HandlerStats
}

// NewHandler binds a handler to the node and the shared TX priority queue.
func NewHandler(log zerolog.Logger, node *Node, txq *PriorityQueue) *Handler {
	return &Handler{
		log:     log.With().Str("component", "handler").Logger(),
		node:    node,
		txq:     txq,
		rx:      make(chan *Transfer, RxQueueDepth),
		remotes: make(map[NodeID]*RemoteNode),
	}
}

// Subscribe registers reception for a subject. Duplicate subjects and a
// full table are rejected.
func (h *Handler) Subscribe(subject uint16, extent int) error {
	if subject > SubjectIDMax {
		return fmt.Errorf("%w: subject id %d", ErrInvalidParameter, subject)
	}
	if extent <= 0 || extent > MaxPayload {
		return fmt.Errorf("%w: extent %d (valid: 1..%d)", ErrInvalidParameter, extent, MaxPayload)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.SubjectID == subject {
			h.stats.SubscriptionErrors++
			return fmt.Errorf("%w: already subscribed to subject %d", ErrInvalidParameter, subject)
		}
	}
	if len(h.subs) >= MaxSubscriptions {
		h.stats.SubscriptionErrors++
		return fmt.Errorf("%w: subscription table full (%d)", ErrMemory, MaxSubscriptions)
	}
	h.subs = append(h.subs, &Subscription{SubjectID: subject, Extent: extent, Active: true})
	return nil
}

// Unsubscribe removes the subject from the table; unknown subjects are a
// no-op.
func (h *Handler) Unsubscribe(subject uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.SubjectID == subject {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Subscriptions returns a snapshot of the table.
func (h *Handler) Subscriptions() []Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Subscription, len(h.subs))
	for i, s := range h.subs {
		out[i] = *s
	}
	return out
}

func (h *Handler) lookup(subject uint16) *Subscription {
	for _, s := range h.subs {
		if s.SubjectID == subject && s.Active {
			return s
		}
	}
	return nil
}

// Send stamps the message with the node identity and enqueues it on the
// priority queue. The deadline is advisory; a full FIFO fails immediately
// with ErrQueueFull rather than blocking.
func (h *Handler) Send(m *Message, deadline time.Time) error {
	if m == nil {
		return ErrInvalidParameter
	}
	if !h.node.Started() {
		h.countSendErr()
		return ErrNotStarted
	}
	m.Source = h.node.NodeID()
	m.Timestamp = time.Now()
	if !deadline.IsZero() && m.Timestamp.After(deadline) {
		h.countSendErr()
		return ErrTimeout
	}
	if err := h.txq.Push(m); err != nil {
		h.countSendErr()
		return err
	}
	h.mu.Lock()
	h.stats.Sent++
	h.mu.Unlock()
	return nil
}

func (h *Handler) countSendErr() {
	h.mu.Lock()
	h.stats.SendErrors++
	h.mu.Unlock()
}

// Receive returns the next dispatched transfer, waiting at most timeout.
// A zero timeout polls without blocking.
func (h *Handler) Receive(timeout time.Duration) (*Transfer, error) {
	if timeout <= 0 {
		select {
		case t := <-h.rx:
			return t, nil
		default:
			return nil, ErrTimeout
		}
	}
	select {
	case t := <-h.rx:
		return t, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// ProcessDatagram feeds one received datagram through the codec and routes
// any completed transfer: heartbeats refresh the discovery table, other
// subjects go to the matching subscription.
func (h *Handler) ProcessDatagram(data []byte, srcAddr uint32, ts time.Time) error {
	hdr, err := ParseHeader(data)
	if err != nil {
		h.mu.Lock()
		h.stats.ReceiveErrors++
		h.mu.Unlock()
		return err
	}

	extent := MaxPayload
	if hdr.PortID != SubjectHeartbeat {
		h.mu.Lock()
		sub := h.lookup(hdr.PortID)
		h.mu.Unlock()
		if sub == nil {
			// Not subscribed: counted, not an error. Multicast delivery on
			// the shared base group makes this routine.
			h.mu.Lock()
			h.stats.Dropped++
			h.mu.Unlock()
			return nil
		}
		extent = sub.Extent
	}

	codec := h.node.Codec()
	if codec == nil {
		return ErrNotInitialized
	}
	tr, err := codec.Accept(data, ts, srcAddr, extent)
	if err != nil {
		h.mu.Lock()
		h.stats.ReceiveErrors++
		h.mu.Unlock()
		return err
	}
	if tr == nil {
		return nil // fragment accumulated
	}

	if tr.PortID == SubjectHeartbeat {
		h.noteHeartbeat(tr)
		return nil
	}
	return h.dispatch(tr)
}

func (h *Handler) dispatch(tr *Transfer) error {
	h.mu.Lock()
	sub := h.lookup(tr.PortID)
	if sub != nil {
		sub.Count++
		sub.LastSeen = tr.Timestamp
	}
	h.mu.Unlock()
	if sub == nil {
		h.mu.Lock()
		h.stats.Dropped++
		h.mu.Unlock()
		return nil
	}
	select {
	case h.rx <- tr:
		h.mu.Lock()
		h.stats.Received++
		h.mu.Unlock()
		return nil
	default:
		h.mu.Lock()
		h.stats.ReceiveErrors++
		h.mu.Unlock()
		return fmt.Errorf("%w: rx queue at capacity %d", ErrQueueFull, RxQueueDepth)
	}
}

// noteHeartbeat decodes a remote heartbeat payload and refreshes the
// discovery table. Malformed heartbeats are dropped with a counted error.
func (h *Handler) noteHeartbeat(tr *Transfer) {
	if len(tr.Payload) < HeartbeatPayloadSize || !tr.Source.IsSet() {
		h.mu.Lock()
		h.stats.ReceiveErrors++
		h.mu.Unlock()
		return
	}
	// Our own heartbeats loop back on the multicast group.
	if tr.Source == h.node.NodeID() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.remotes[tr.Source]
	if r == nil {
		r = &RemoteNode{ID: tr.Source}
		h.remotes[tr.Source] = r
	}
	r.UptimeSec = binary.LittleEndian.Uint32(tr.Payload[0:4])
	r.Health = Health(tr.Payload[4])
	r.Mode = Mode(tr.Payload[5])
	r.VendorStatus = tr.Payload[6]
	r.LastHeard = tr.Timestamp
	r.Heartbeats++
}

// Remotes returns a snapshot of the node-discovery table.
func (h *Handler) Remotes() []RemoteNode {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RemoteNode, 0, len(h.remotes))
	for _, r := range h.remotes {
		out = append(out, *r)
	}
	return out
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// ResetStats zeroes the handler counters.
func (h *Handler) ResetStats() {
	h.mu.Lock()
	h.stats = HandlerStats{}
	h.mu.Unlock()
}
