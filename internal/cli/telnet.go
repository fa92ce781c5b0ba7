// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cli

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Telnet transport parameters. Option negotiation is not performed; IAC
// sequences arriving on the socket are forwarded transparently.
const (
	DefaultTelnetPort = 23

	telnetReadChunk = 256
	telnetTxChunk   = 256
	telnetTxPoll    = 50 * time.Millisecond
)

// TelnetStats counts listener and relay outcomes.
type TelnetStats struct {
	Connections  uint64
	BytesIn      uint64
	BytesOut     uint64
	RxDrops      uint64
	SocketErrors uint64
}

// TelnetTransport serves the CLI stream pair over plain TCP, one client at
// a time. Per connection it runs a relay loop: socket bytes flow into the
// RX stream; TX stream bytes are chunked back onto the socket. TCP
// back-pressure naturally limits the relay by blocking the socket send.
type TelnetTransport struct {
	log  zerolog.Logger
	port uint16
	rx   *Stream
	tx   *Stream

	mu       sync.Mutex
	listener net.Listener
	stats    TelnetStats
}

// NewTelnetTransport prepares the listener around an existing stream pair.
func NewTelnetTransport(log zerolog.Logger, port uint16, rx, tx *Stream) *TelnetTransport {
	if port == 0 {
		port = DefaultTelnetPort
	}
	return &TelnetTransport{
		log:  log.With().Str("component", "telnet").Uint16("port", port).Logger(),
		port: port,
		rx:   rx,
		tx:   tx,
	}
}

// Run binds the TCP port and serially accepts clients until ctx ends.
func (t *TelnetTransport) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("telnet listen :%d: %w", t.port, err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	t.log.Info().Msg("telnet listener up")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.countSocketError()
			continue
		}
		t.mu.Lock()
		t.stats.Connections++
		t.mu.Unlock()
		t.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
		t.serve(ctx, conn)
		t.log.Info().Msg("client disconnected")
	}
}

// serve relays one connection until the socket errors or ctx ends, then
// returns to accept.
func (t *TelnetTransport) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// A synthetic carriage-return elicits the prompt for the new client.
	t.rx.TryWrite([]byte{'\r'})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writeLoop(connCtx, conn)
	}()

	buf := make([]byte, telnetReadChunk)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if connCtx.Err() == nil {
				t.countSocketError()
			}
			break
		}
		// IAC sequences pass through untouched; the interpreter only acts
		// on printable bytes and line terminators.
		accepted := t.rx.TryWrite(buf[:n])
		t.mu.Lock()
		t.stats.BytesIn += uint64(accepted)
		t.stats.RxDrops += uint64(n - accepted)
		t.mu.Unlock()
	}
	cancel()
	wg.Wait()
}

// writeLoop drains the TX stream onto the socket in chunks. A blocked send
// is the intended back-pressure against a slow client.
func (t *TelnetTransport) writeLoop(ctx context.Context, conn net.Conn) {
	chunk := make([]byte, telnetTxChunk)
	for ctx.Err() == nil {
		n := t.tx.Read(chunk, telnetTxPoll)
		if n == 0 {
			if t.tx.Closed() {
				return
			}
			continue
		}
		if _, err := conn.Write(chunk[:n]); err != nil {
			t.countSocketError()
			return
		}
		t.mu.Lock()
		t.stats.BytesOut += uint64(n)
		t.mu.Unlock()
	}
}

func (t *TelnetTransport) countSocketError() {
	t.mu.Lock()
	t.stats.SocketErrors++
	t.mu.Unlock()
}

// Stats returns a snapshot of the transport counters.
func (t *TelnetTransport) Stats() TelnetStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Addr returns the bound listener address, or nil before Run.
func (t *TelnetTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}
