// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cli

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Console arbiter parameters.
const (
	// consoleAcquireWait is how long a reader waits for the interpreter
	// before giving up and emitting only a prompt.
	consoleAcquireWait = 100 * time.Millisecond

	// LineBufferSize is the per-reader input line buffer; the write index
	// wraps to zero on overflow.
	LineBufferSize = 128

	// readerPollTimeout bounds the RX wait so reader loops can observe
	// cancellation during shutdown.
	readerPollTimeout = 250 * time.Millisecond
)

// Prompt strings per transport. The leading terminator differs so each
// terminal renders a clean new line.
const (
	PromptTelnet = "\r>"
	PromptSerial = "\n\r>"
)

// Transport is one {RX, TX} stream pair a reader services.
type Transport struct {
	Name   string
	RX     *Stream
	TX     *Stream
	Prompt string
}

// ConsoleStats counts arbiter outcomes.
type ConsoleStats struct {
	LinesProcessed uint64
	LinesRejected  uint64
}

// Console multiplexes one interpreter across two transports under a
// mutual-exclusion arbiter. At any moment at most one reader holds the
// console; command output from one transport can never be interleaved
// mid-fragment with output from the other.
type Console struct {
	log    zerolog.Logger
	interp *Interpreter

	// sem is the console mutex: a one-slot semaphore so acquisition can
	// carry a timeout.
	sem chan struct{}

	processed atomic.Uint64
	rejected  atomic.Uint64
}

// NewConsole creates the arbiter around a shared interpreter.
func NewConsole(log zerolog.Logger, interp *Interpreter) *Console {
	c := &Console{
		log:    log.With().Str("component", "console").Logger(),
		interp: interp,
		sem:    make(chan struct{}, 1),
	}
	c.sem <- struct{}{}
	return c
}

// Interpreter exposes the shared command registry.
func (c *Console) Interpreter() *Interpreter { return c.interp }

// Acquire takes the console mutex, waiting at most wait.
func (c *Console) Acquire(wait time.Duration) bool {
	select {
	case <-c.sem:
		return true
	case <-time.After(wait):
		return false
	}
}

// Release returns the console mutex.
func (c *Console) Release() {
	select {
	case c.sem <- struct{}{}:
	default:
		// Double release indicates a reader bug; keep the semaphore sane.
	}
}

// Stats returns a snapshot of the arbiter counters.
func (c *Console) Stats() ConsoleStats {
	return ConsoleStats{
		LinesProcessed: c.processed.Load(),
		LinesRejected:  c.rejected.Load(),
	}
}

// isPrintable reports whether b is echoed back to the sender.
func isPrintable(b byte) bool {
	return b >= 0x20 && b < 0x7F
}

// RunReader services one transport until ctx is cancelled: accumulate a
// line, echo printables, and hand complete lines to the interpreter under
// the console mutex.
func (c *Console) RunReader(ctx context.Context, t Transport) {
	line := make([]byte, LineBufferSize)
	idx := 0
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n := t.RX.Read(buf, readerPollTimeout)
		if n == 0 {
			if t.RX.Closed() {
				return
			}
			continue
		}
		b := buf[0]

		// Echo policy: printables echo on the same TX stream; CR, LF, and
		// the prompt character are suppressed to avoid double-echo.
		if isPrintable(b) && b != '>' {
			t.TX.TryWrite([]byte{b})
		}

		if b == '\r' || b == '\n' {
			text := string(line[:idx])
			idx = 0
			c.handleLine(t, text)
			continue
		}
		if !isPrintable(b) {
			continue
		}
		line[idx] = b
		idx++
		if idx >= len(line) {
			idx = 0 // input buffer wraps to zero on overflow
		}
	}
}

// handleLine runs one complete line through the interpreter. Failure to
// take the console within the fixed wait discards the line and emits only
// the transport's prompt.
func (c *Console) handleLine(t Transport, text string) {
	if text == "" {
		t.TX.Write([]byte(t.Prompt), consoleAcquireWait)
		return
	}
	if !c.Acquire(consoleAcquireWait) {
		c.rejected.Add(1)
		t.TX.Write([]byte(t.Prompt), consoleAcquireWait)
		return
	}
	defer c.Release()

	c.interp.Process(text, func(fragment []byte) {
		t.TX.Write(fragment, time.Second)
	})
	t.TX.Write([]byte(t.Prompt), consoleAcquireWait)
	c.processed.Add(1)
}
