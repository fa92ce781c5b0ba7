// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

// Package cli implements the dual-transport command-line mediator: byte
// stream buffers between transports and readers, a single command
// interpreter, the console arbiter that keeps output from the two
// transports from interleaving, and the serial/telnet transports
// themselves.
package cli

import (
	"sync"
	"time"
)

// Stream is a single-producer/single-consumer byte FIFO with a trigger
// level. The consumer blocks until at least trigger bytes are present or
// its timeout expires; producers either wait briefly for space or drop with
// a counted discard. It is the wake-on-write channel between transport
// goroutines (the ISR analog) and the reader tasks.
type Stream struct {
	mu    sync.Mutex
	avail *sync.Cond
	space *sync.Cond

	buf        []byte
	head, tail int
	count      int
	trigger    int

	discards uint64
	closed   bool
}

// NewStream creates a stream with the given capacity and trigger level.
// A trigger of 1 wakes the consumer on every byte.
func NewStream(capacity, trigger int) *Stream {
	if capacity <= 0 {
		capacity = 64
	}
	if trigger <= 0 || trigger > capacity {
		trigger = 1
	}
	s := &Stream{buf: make([]byte, capacity), trigger: trigger}
	s.avail = sync.NewCond(&s.mu)
	s.space = sync.NewCond(&s.mu)
	return s
}

// timedWait waits on c until broadcast or the deadline passes. The caller
// holds the stream mutex. A zero deadline waits indefinitely.
func (s *Stream) timedWait(c *sync.Cond, deadline time.Time) {
	if deadline.IsZero() {
		c.Wait()
		return
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	t := time.AfterFunc(remaining, func() {
		s.mu.Lock()
		c.Broadcast()
		s.mu.Unlock()
	})
	c.Wait()
	t.Stop()
}

// Write copies p into the stream, waiting up to wait for space. It returns
// the number of bytes accepted; the shortfall is counted as discarded.
func (s *Stream) Write(p []byte, wait time.Duration) int {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for written < len(p) {
		if s.closed {
			break
		}
		if s.count == len(s.buf) {
			if wait <= 0 || (!deadline.IsZero() && !time.Now().Before(deadline)) {
				break
			}
			s.timedWait(s.space, deadline)
			continue
		}
		s.buf[s.tail] = p[written]
		s.tail = (s.tail + 1) % len(s.buf)
		s.count++
		written++
	}
	if written > 0 && s.count >= s.trigger {
		s.avail.Broadcast()
	}
	if short := len(p) - written; short > 0 {
		s.discards += uint64(short)
	}
	return written
}

// TryWrite is the ISR-safe producer path: it never blocks, accepting what
// fits and dropping the rest with a counted discard.
func (s *Stream) TryWrite(p []byte) int {
	return s.Write(p, 0)
}

// Read copies up to len(p) bytes out of the stream. It blocks until the
// trigger level is reached or timeout expires (whatever bytes are present
// are returned then). A negative timeout waits indefinitely; zero polls.
func (s *Stream) Read(p []byte, timeout time.Duration) int {
	var deadline time.Time
	indefinite := timeout < 0
	if !indefinite {
		deadline = time.Now().Add(timeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.count < s.trigger && !s.closed {
		if indefinite {
			s.timedWait(s.avail, time.Time{})
			continue
		}
		if !time.Now().Before(deadline) {
			break
		}
		s.timedWait(s.avail, deadline)
	}
	n := 0
	for n < len(p) && s.count > 0 {
		p[n] = s.buf[s.head]
		s.head = (s.head + 1) % len(s.buf)
		s.count--
		n++
	}
	if n > 0 {
		s.space.Broadcast()
	}
	return n
}

// Len returns the number of buffered bytes.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Discards returns the count of bytes dropped by producers.
func (s *Stream) Discards() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discards
}

// Close wakes all waiters; blocked reads drain and then return zero.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.avail.Broadcast()
	s.space.Broadcast()
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
