// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"sync"
	"time"
)

// Per-priority FIFO depths. The high classes carry protocol-critical
// traffic and get the deepest queues.
var priorityQueueDepths = [PriorityCount]int{32, 32, 32, 16, 16, 16, 8, 8}

// QueueStats are the per-priority counters exported by the queue.
type QueueStats struct {
	Queued    uint64
	Dequeued  uint64
	Overflows uint64
	Discarded uint64
	Depth     int
	MaxDepth  int
}

// PriorityQueue is eight bounded FIFOs indexed by Cyphal priority with a
// strict-priority pop: the head of the lowest-numbered non-empty FIFO wins.
// Within one class the order is FIFO. There is no aging and no starvation
// protection; strict priority is required by the protocol.
type PriorityQueue struct {
	mu    sync.Mutex
	ready *sync.Cond

	fifos  [PriorityCount][]*Message
	stats  [PriorityCount]QueueStats
	closed bool
}

// NewPriorityQueue creates the queue with the standard per-priority depths.
func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Push enqueues m onto its priority FIFO. A full FIFO fails with
// ErrQueueFull and counts an overflow; it never blocks and never displaces
// an existing entry.
func (q *PriorityQueue) Push(m *Message) error {
	if m == nil {
		return ErrInvalidParameter
	}
	p := m.Priority
	if !p.IsValid() {
		return fmt.Errorf("%w: priority %d", ErrInvalidParameter, p)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrNotStarted
	}
	if len(q.fifos[p]) >= priorityQueueDepths[p] {
		q.stats[p].Overflows++
		return fmt.Errorf("%w: priority %d at capacity %d", ErrQueueFull, p, priorityQueueDepths[p])
	}
	q.fifos[p] = append(q.fifos[p], m)
	q.stats[p].Queued++
	if d := len(q.fifos[p]); d > q.stats[p].MaxDepth {
		q.stats[p].MaxDepth = d
	}
	q.ready.Signal()
	return nil
}

// Pop returns the head of the lowest-numbered non-empty FIFO. When all
// FIFOs are empty it waits up to timeout for a push, then fails with
// ErrTimeout. A zero timeout polls.
func (q *PriorityQueue) Pop(timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if m := q.popLocked(); m != nil {
			return m, nil
		}
		if q.closed {
			return nil, ErrNotStarted
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		// sync.Cond has no timed wait; arm a wakeup for the remainder so
		// the strict-priority scan can retry or give up.
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.ready.Broadcast()
			q.mu.Unlock()
		})
		q.ready.Wait()
		timer.Stop()
	}
}

func (q *PriorityQueue) popLocked() *Message {
	for p := 0; p < PriorityCount; p++ {
		if len(q.fifos[p]) == 0 {
			continue
		}
		m := q.fifos[p][0]
		q.fifos[p][0] = nil
		q.fifos[p] = q.fifos[p][1:]
		q.stats[p].Dequeued++
		return m
	}
	return nil
}

// Len returns the total number of queued messages across all priorities.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for p := range q.fifos {
		total += len(q.fifos[p])
	}
	return total
}

// Flush empties every FIFO and returns the number of discarded messages.
func (q *PriorityQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for p := range q.fifos {
		total += q.flushLocked(Priority(p))
	}
	return total
}

// FlushPriority empties one FIFO and returns the number of discarded
// messages.
func (q *PriorityQueue) FlushPriority(p Priority) (int, error) {
	if !p.IsValid() {
		return 0, fmt.Errorf("%w: priority %d", ErrInvalidParameter, p)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushLocked(p), nil
}

func (q *PriorityQueue) flushLocked(p Priority) int {
	n := len(q.fifos[p])
	q.fifos[p] = nil
	q.stats[p].Discarded += uint64(n)
	return n
}

// Stats returns a snapshot of the per-priority counters.
func (q *PriorityQueue) Stats() [PriorityCount]QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.stats
	for p := range q.fifos {
		out[p].Depth = len(q.fifos[p])
	}
	return out
}

// Close rejects further pushes and wakes every blocked Pop.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.ready.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the closed flag after a Close, preserving statistics.
func (q *PriorityQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}
