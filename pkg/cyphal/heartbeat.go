// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatStats counts heartbeat service outcomes.
type HeartbeatStats struct {
	Sent    uint64
	Skipped uint64
	Errors  uint64
	LastAt  time.Time
}

// Heartbeat periodically publishes the node's health, mode, and uptime on
// subject 7509. Ticks push onto the shared priority queue; the TX task does
// the wire work, so emission order follows tick order.
type Heartbeat struct {
	mu   sync.Mutex
	log  zerolog.Logger
	node *Node
	txq  *PriorityQueue

	interval     time.Duration
	priority     Priority
	vendorStatus uint8
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	stats        HeartbeatStats
}

// NewHeartbeat binds the service to a node and the shared TX queue with the
// default 1000 ms cadence.
func NewHeartbeat(log zerolog.Logger, node *Node, txq *PriorityQueue) *Heartbeat {
	return &Heartbeat{
		log:      log.With().Str("component", "heartbeat").Logger(),
		node:     node,
		txq:      txq,
		interval: DefaultHeartbeatIntervalMs * time.Millisecond,
		priority: PriorityNominal,
	}
}

// SetInterval updates the cadence. Valid range is [100,60000] ms.
func (hb *Heartbeat) SetInterval(ms int) error {
	if ms < MinHeartbeatIntervalMs || ms > MaxHeartbeatIntervalMs {
		return fmt.Errorf("%w: heartbeat interval %d ms (valid: %d..%d)",
			ErrInvalidParameter, ms, MinHeartbeatIntervalMs, MaxHeartbeatIntervalMs)
	}
	hb.mu.Lock()
	hb.interval = time.Duration(ms) * time.Millisecond
	hb.mu.Unlock()
	return nil
}

// Interval returns the cadence in milliseconds.
func (hb *Heartbeat) Interval() int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return int(hb.interval / time.Millisecond)
}

// SetPriority selects the priority class heartbeats are queued at.
func (hb *Heartbeat) SetPriority(p Priority) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidParameter, p)
	}
	hb.mu.Lock()
	hb.priority = p
	hb.mu.Unlock()
	return nil
}

// SetVendorStatus sets the vendor-specific status byte carried in the
// payload.
func (hb *Heartbeat) SetVendorStatus(v uint8) {
	hb.mu.Lock()
	hb.vendorStatus = v
	hb.mu.Unlock()
}

// Start launches the periodic tick. Idempotent while running.
func (hb *Heartbeat) Start() error {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.running {
		return nil
	}
	if !hb.node.Initialized() {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithCancel(context.Background())
	hb.cancel = cancel
	hb.done = make(chan struct{})
	hb.running = true
	go hb.run(ctx, hb.interval)
	hb.log.Info().Dur("interval", hb.interval).Msg("heartbeat started")
	return nil
}

// Stop halts the periodic tick and waits for the loop to exit.
func (hb *Heartbeat) Stop() {
	hb.mu.Lock()
	if !hb.running {
		hb.mu.Unlock()
		return
	}
	cancel, done := hb.cancel, hb.done
	hb.running = false
	hb.mu.Unlock()

	cancel()
	<-done
	hb.log.Info().Msg("heartbeat stopped")
}

// Running reports whether the periodic tick is live.
func (hb *Heartbeat) Running() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.running
}

func (hb *Heartbeat) run(ctx context.Context, interval time.Duration) {
	defer close(hb.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb.SendNow()
			// Pick up interval changes between ticks.
			hb.mu.Lock()
			if hb.interval != interval {
				interval = hb.interval
				ticker.Reset(interval)
			}
			hb.mu.Unlock()
		}
	}
}

// SendNow builds one heartbeat and pushes it to the priority queue. A node
// without a concrete ID makes the tick a no-op.
func (hb *Heartbeat) SendNow() error {
	st := hb.node.Status()
	if !st.NodeID.IsSet() {
		hb.mu.Lock()
		hb.stats.Skipped++
		hb.mu.Unlock()
		return nil
	}

	hb.mu.Lock()
	vendor := hb.vendorStatus
	prio := hb.priority
	hb.mu.Unlock()

	payload := make([]byte, HeartbeatPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], st.UptimeSeconds)
	payload[4] = uint8(st.Health)
	payload[5] = uint8(st.Mode)
	payload[6] = vendor

	m, err := NewMessage(SubjectHeartbeat, prio, 0, payload)
	if err != nil {
		hb.countError()
		return err
	}
	m.Source = st.NodeID
	if err := hb.txq.Push(m); err != nil {
		hb.countError()
		return err
	}

	hb.mu.Lock()
	hb.stats.Sent++
	hb.stats.LastAt = time.Now()
	hb.mu.Unlock()
	return nil
}

func (hb *Heartbeat) countError() {
	hb.mu.Lock()
	hb.stats.Errors++
	hb.mu.Unlock()
}

// Stats returns a snapshot of the service counters.
func (hb *Heartbeat) Stats() HeartbeatStats {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.stats
}
