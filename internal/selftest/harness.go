// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

// Package selftest implements the node's built-in validation harness and
// the uavcan-* command surface exposed through the CLI interpreter.
//
// Every check exists in two forms: a quick stubbed summary used during
// bring-up, and the full body gated behind the run_full_tests switch.
package selftest

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/volanti-av/cygnet/internal/cli"
	"github.com/volanti-av/cygnet/pkg/cyphal"
)

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// Result is the outcome of one harness check.
type Result struct {
	Name    string
	Passed  bool
	Detail  string
	Elapsed time.Duration
}

// String renders the check in the fixed-width report format.
func (r Result) String() string {
	verdict := "FAIL"
	if r.Passed {
		verdict = "PASS"
	}
	return fmt.Sprintf("[%s] %-24s %s (%.2fms)", verdict, r.Name, r.Detail, float64(r.Elapsed.Microseconds())/1000.0)
}

// Report renders a result set plus a summary line.
func Report(results []Result) string {
	var b strings.Builder
	passed := 0
	for _, r := range results {
		b.WriteString(r.String())
		b.WriteString("\r\n")
		if r.Passed {
			passed++
		}
	}
	fmt.Fprintf(&b, "%d/%d checks passed\r\n", passed, len(results))
	return b.String()
}

func run(name string, body func() (string, error)) Result {
	start := time.Now()
	detail, err := body()
	r := Result{Name: name, Passed: err == nil, Detail: detail, Elapsed: time.Since(start)}
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// stub returns the bring-up PASS placeholder for a gated check. The full
// body still exists; run_full_tests selects it.
func stub(name string) Result {
	return Result{Name: name, Passed: true, Detail: "stubbed (enable run_full_tests)"}
}

// PriorityOrdering pushes one message per priority class in reverse order
// and verifies a strict-priority pop sequence, each message carrying
// subject 2000+priority.
func PriorityOrdering() Result {
	return run("priority-ordering", func() (string, error) {
		q := cyphal.NewPriorityQueue()
		for p := int(cyphal.PriorityOptional); p >= int(cyphal.PriorityExceptional); p-- {
			m, err := cyphal.NewMessage(uint16(2000+p), cyphal.Priority(p), 0, []byte{byte(p)})
			if err != nil {
				return "", err
			}
			if err := q.Push(m); err != nil {
				return "", err
			}
		}
		for want := 0; want < cyphal.PriorityCount; want++ {
			m, err := q.Pop(0)
			if err != nil {
				return "", fmt.Errorf("pop %d: %w", want, err)
			}
			if int(m.Priority) != want {
				return "", fmt.Errorf("pop %d: got priority %d", want, m.Priority)
			}
			if m.PortID != uint16(2000+want) {
				return "", fmt.Errorf("pop %d: got subject %d", want, m.PortID)
			}
		}
		return "8 classes strict order", nil
	})
}

// OverflowIsolation fills priority 0 to capacity and verifies the
// overflowing push is rejected without touching other classes.
func OverflowIsolation() Result {
	return run("overflow-isolation", func() (string, error) {
		q := cyphal.NewPriorityQueue()
		cap0 := 32
		for i := 0; i <= cap0; i++ {
			m, _ := cyphal.NewMessage(uint16(3000+i), cyphal.PriorityExceptional, 0, nil)
			err := q.Push(m)
			if i < cap0 && err != nil {
				return "", fmt.Errorf("push %d: %w", i, err)
			}
			if i == cap0 && err == nil {
				return "", fmt.Errorf("push %d accepted past capacity", i)
			}
		}
		stats := q.Stats()
		if stats[0].Overflows != 1 {
			return "", fmt.Errorf("overflows = %d, want 1", stats[0].Overflows)
		}
		for p := 1; p < cyphal.PriorityCount; p++ {
			if stats[p].Overflows != 0 || stats[p].Queued != 0 {
				return "", fmt.Errorf("priority %d counters disturbed", p)
			}
		}
		return fmt.Sprintf("%d queued, 1 overflow", cap0), nil
	})
}

// CodecRoundTrip encodes messages of several sizes and reassembles them,
// verifying header and payload equality including multi-datagram transfers.
func CodecRoundTrip() Result {
	return run("codec-round-trip", func() (string, error) {
		// A small MTU forces the larger payloads through multi-datagram
		// reassembly.
		const mtu = 256
		enc := cyphal.NewCodec(cyphal.NewArena(), mtu)
		dec := cyphal.NewCodec(cyphal.NewArena(), mtu)
		sizes := []int{0, 1, 7, 512, 1024}
		for _, size := range sizes {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i)
			}
			m, err := cyphal.NewMessage(4321, cyphal.PriorityNominal, 0, payload)
			if err != nil {
				return "", err
			}
			m.Source = 42
			datagrams, err := enc.Encode(m)
			if err != nil {
				return "", err
			}
			var tr *cyphal.Transfer
			for _, dg := range datagrams {
				tr, err = dec.Accept(dg, time.Now(), 0x0A000001, cyphal.MaxPayload)
				if err != nil {
					return "", err
				}
			}
			if tr == nil {
				return "", fmt.Errorf("size %d: transfer incomplete", size)
			}
			if !tr.Message.Equal(m) {
				return "", fmt.Errorf("size %d: round trip mismatch", size)
			}
		}
		return fmt.Sprintf("%d sizes", len(sizes)), nil
	})
}

// BufferTest validates the stream buffer: trigger-level wakeup, FIFO
// ordering, and counted discard on overflow.
func BufferTest() Result {
	return run("stream-buffer", func() (string, error) {
		s := cli.NewStream(8, 1)
		if n := s.TryWrite([]byte("abcdefgh")); n != 8 {
			return "", fmt.Errorf("wrote %d of 8", n)
		}
		if n := s.TryWrite([]byte{'x'}); n != 0 {
			return "", fmt.Errorf("overflow write accepted %d", n)
		}
		if s.Discards() != 1 {
			return "", fmt.Errorf("discards = %d, want 1", s.Discards())
		}
		got := make([]byte, 8)
		if n := s.Read(got, 0); n != 8 || string(got) != "abcdefgh" {
			return "", fmt.Errorf("read %q (%d bytes)", got[:n], n)
		}
		return "fill, overflow, drain", nil
	})
}

// HeartbeatShape verifies the 7-byte payload layout against a node with a
// known identity.
func HeartbeatShape(node *cyphal.Node, hb *cyphal.Heartbeat, q *cyphal.PriorityQueue) Result {
	return run("heartbeat-shape", func() (string, error) {
		if !node.NodeID().IsSet() {
			return "skipped: node id unset", nil
		}
		if err := hb.SendNow(); err != nil {
			return "", err
		}
		m, err := q.Pop(0)
		if err != nil {
			return "", fmt.Errorf("heartbeat not queued: %w", err)
		}
		if m.PortID != cyphal.SubjectHeartbeat {
			return "", fmt.Errorf("subject = %d, want %d", m.PortID, cyphal.SubjectHeartbeat)
		}
		if len(m.Payload) != cyphal.HeartbeatPayloadSize {
			return "", fmt.Errorf("payload = %d bytes, want %d", len(m.Payload), cyphal.HeartbeatPayloadSize)
		}
		st := node.Status()
		if cyphal.Health(m.Payload[4]) != st.Health || cyphal.Mode(m.Payload[5]) != st.Mode {
			return "", fmt.Errorf("health/mode bytes disagree with node status")
		}
		uptime := binary.LittleEndian.Uint32(m.Payload[0:4])
		return fmt.Sprintf("uptime=%ds health=%d mode=%d", uptime, m.Payload[4], m.Payload[5]), nil
	})
}

// StressTest pushes and pops across all priority classes as fast as the
// queue allows and reports throughput.
func StressTest() Result {
	return run("queue-stress", func() (string, error) {
		q := cyphal.NewPriorityQueue()
		const rounds = 2000
		payload := []byte{0xAA, 0x55}
		pushed, popped := 0, 0
		for i := 0; i < rounds; i++ {
			m, _ := cyphal.NewMessage(uint16(100+(i%8)), cyphal.Priority(i%8), 0, payload)
			if err := q.Push(m); err == nil {
				pushed++
			}
			if i%4 == 3 {
				for {
					if _, err := q.Pop(0); err != nil {
						break
					}
					popped++
				}
			}
		}
		popped += q.Flush()
		if popped != pushed {
			return "", fmt.Errorf("pushed %d, drained %d", pushed, popped)
		}
		return fmt.Sprintf("%d messages", pushed), nil
	})
}

// LatencyTest measures encode→accept round-trip latency through the codec.
func LatencyTest() Result {
	return run("codec-latency", func() (string, error) {
		enc := cyphal.NewCodec(cyphal.NewArena(), cyphal.DefaultMTU)
		dec := cyphal.NewCodec(cyphal.NewArena(), cyphal.DefaultMTU)
		payload := make([]byte, 256)
		const rounds = 500
		var worst time.Duration
		start := time.Now()
		for i := 0; i < rounds; i++ {
			t0 := time.Now()
			m, _ := cyphal.NewMessage(555, cyphal.PriorityFast, 0, payload)
			m.Source = 7
			dgs, err := enc.Encode(m)
			if err != nil {
				return "", err
			}
			if _, err := dec.Accept(dgs[0], time.Now(), 0x0A000002, cyphal.MaxPayload); err != nil {
				return "", err
			}
			if d := time.Since(t0); d > worst {
				worst = d
			}
		}
		mean := time.Since(start) / rounds
		return fmt.Sprintf("mean=%v worst=%v", mean, worst), nil
	})
}

// InitTeardown cycles a standalone context through init/start/stop/deinit
// and verifies the lifecycle invariants hold on every pass.
func InitTeardown(iface string, port uint16) Result {
	return run("init-teardown", func() (string, error) {
		const cycles = 3
		for i := 0; i < cycles; i++ {
			node := cyphal.NewNode(nopLogger(), port, 0)
			if err := node.Init(iface); err != nil {
				return "", fmt.Errorf("cycle %d init: %w", i, err)
			}
			if err := node.SetNodeID(99); err != nil {
				return "", err
			}
			if err := node.Start(); err != nil {
				return "", fmt.Errorf("cycle %d start: %w", i, err)
			}
			if err := node.Stop(); err != nil {
				return "", fmt.Errorf("cycle %d stop: %w", i, err)
			}
			if err := node.Deinit(); err != nil {
				return "", fmt.Errorf("cycle %d deinit: %w", i, err)
			}
			if node.Initialized() || node.Started() {
				return "", fmt.Errorf("cycle %d: node not fully torn down", i)
			}
		}
		return fmt.Sprintf("%d cycles", cycles), nil
	})
}

// MulticastValidation checks the endpoint validation vector.
func MulticastValidation() Result {
	return run("multicast-validation", func() (string, error) {
		cases := []struct {
			addr uint32
			want bool
		}{
			{0xEF001D55, true},
			{0xEF01002A, true},
			{0xEF0100FF, false},
			{0xEF020000, false},
		}
		for _, c := range cases {
			if got := cyphal.IsValidMulticast(c.addr); got != c.want {
				return "", fmt.Errorf("0x%08X: got %v, want %v", c.addr, got, c.want)
			}
		}
		return fmt.Sprintf("%d vectors", len(cases)), nil
	})
}
