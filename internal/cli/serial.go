// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Serial transport parameters.
const (
	serialReadChunk = 64
	// serialReopenDelay paces reopen attempts after a UART error.
	serialReopenDelay = 500 * time.Millisecond
	// serialTxWait is the back-pressure bound: a full TX path blocks the
	// writer this long before the byte is dropped with a counted error.
	serialTxWait = 100 * time.Millisecond
)

// SerialStats counts transport outcomes.
type SerialStats struct {
	BytesIn      uint64
	BytesOut     uint64
	RxDrops      uint64
	PortErrors   uint64
	PortReopens  uint64
	WriteErrors  uint64
	WriteRetries uint64
}

// SerialTransport relays the UART to the CLI stream pair: a reader
// goroutine copies received bytes into the RX stream (the circular-DMA +
// idle-interrupt analog), and a writer goroutine drains the TX stream one
// byte at a time under the port mutex.
type SerialTransport struct {
	mu  sync.Mutex // the UART mutex: serializes writes and reopen
	log zerolog.Logger

	portName string
	baud     int
	port     serial.Port

	rx, tx *Stream

	statsMu sync.Mutex
	stats   SerialStats
}

// NewSerialTransport prepares the transport around an existing stream pair.
// Open establishes the port.
func NewSerialTransport(log zerolog.Logger, portName string, baud int, rx, tx *Stream) *SerialTransport {
	return &SerialTransport{
		log:      log.With().Str("component", "serial").Str("port", portName).Logger(),
		portName: portName,
		baud:     baud,
		rx:       rx,
		tx:       tx,
	}
}

// Open configures and opens the UART.
func (s *SerialTransport) Open() error {
	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.portName, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	return nil
}

// Close shuts the UART; the relay goroutines drain out on their next error.
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Run launches the RX and TX relay loops and blocks until ctx is cancelled.
func (s *SerialTransport) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.rxLoop(ctx) }()
	go func() { defer wg.Done(); s.txLoop(ctx) }()
	<-ctx.Done()
	s.Close()
	wg.Wait()
}

// rxLoop copies port bytes into the RX stream without ever blocking on the
// consumer: a full stream drops with a counted error, matching the ISR
// discipline on the embedded side.
func (s *SerialTransport) rxLoop(ctx context.Context) {
	buf := make([]byte, serialReadChunk)
	for ctx.Err() == nil {
		s.mu.Lock()
		port := s.port
		s.mu.Unlock()
		if port == nil {
			if !s.reopen(ctx) {
				return
			}
			continue
		}
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.countPortError()
			if !s.reopen(ctx) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		accepted := s.rx.TryWrite(buf[:n])
		s.statsMu.Lock()
		s.stats.BytesIn += uint64(accepted)
		s.stats.RxDrops += uint64(n - accepted)
		s.statsMu.Unlock()
	}
}

// txLoop drains the TX stream one byte at a time, performing a synchronous
// transmit under the UART mutex.
func (s *SerialTransport) txLoop(ctx context.Context) {
	b := make([]byte, 1)
	for ctx.Err() == nil {
		n := s.tx.Read(b, serialTxWait)
		if n == 0 {
			if s.tx.Closed() {
				return
			}
			continue
		}
		s.mu.Lock()
		port := s.port
		var err error
		if port != nil {
			_, err = port.Write(b[:1])
		}
		s.mu.Unlock()
		if err != nil {
			s.statsMu.Lock()
			s.stats.WriteErrors++
			s.statsMu.Unlock()
			continue // soft failure; never escalates past the transport
		}
		s.statsMu.Lock()
		s.stats.BytesOut++
		s.statsMu.Unlock()
	}
}

// reopen re-initializes the UART after an error, pacing attempts until the
// context ends. UART failures stay inside the transport.
func (s *SerialTransport) reopen(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(serialReopenDelay):
	}
	if err := s.Open(); err != nil {
		s.log.Warn().Err(err).Msg("serial reopen failed")
		return ctx.Err() == nil
	}
	s.statsMu.Lock()
	s.stats.PortReopens++
	s.statsMu.Unlock()
	s.log.Info().Msg("serial port reopened")
	return true
}

func (s *SerialTransport) countPortError() {
	s.statsMu.Lock()
	s.stats.PortErrors++
	s.statsMu.Unlock()
}

// Stats returns a snapshot of the transport counters.
func (s *SerialTransport) Stats() SerialStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
