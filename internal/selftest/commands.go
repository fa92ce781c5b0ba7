// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package selftest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/volanti-av/cygnet/internal/cli"
	"github.com/volanti-av/cygnet/internal/config"
	"github.com/volanti-av/cygnet/pkg/cyphal"
)

// TestPayload is the structured body of uavcan-send-test messages. CBOR
// keeps the encoding self-describing so a bench listener can decode it
// without the sender's schema.
type TestPayload struct {
	Seq    uint64 `cbor:"seq"`
	Note   string `cbor:"note"`
	SentAt int64  `cbor:"timestamp"`
}

// Registry binds the uavcan-* CLI commands to a running node context.
type Registry struct {
	log zerolog.Logger
	ctx *cyphal.Context
	cfg *config.Config

	mu         sync.Mutex
	sendSeq    uint64
	monitorOn  bool
	monitorCtx context.CancelFunc
	logLevel   *zerolog.Level
}

// NewRegistry creates the command registry. logLevel, when non-nil, is the
// process-wide level that uavcan-log-level adjusts.
func NewRegistry(log zerolog.Logger, ctx *cyphal.Context, cfg *config.Config, logLevel *zerolog.Level) *Registry {
	return &Registry{
		log:      log.With().Str("component", "selftest").Logger(),
		ctx:      ctx,
		cfg:      cfg,
		logLevel: logLevel,
	}
}

// Register installs every uavcan-* command on the interpreter.
func (r *Registry) Register(in *cli.Interpreter) {
	in.Register("uavcan-test", "uavcan-test: runs the basic node validation checks", r.page(r.cmdTest))
	in.Register("uavcan-system-test", "uavcan-system-test: runs the full system validation suite", r.page(r.cmdSystemTest))
	in.Register("uavcan-status", "uavcan-status: prints the node and transport status", r.page(r.cmdStatus))
	in.Register("uavcan-verify-requirements", "uavcan-verify-requirements: checks protocol constants and limits", r.page(r.cmdVerifyRequirements))
	in.Register("uavcan-simple-verify", "uavcan-simple-verify: one-line liveness check", r.page(r.cmdSimpleVerify))
	in.Register("uavcan-test-buffer", "uavcan-test-buffer: exercises the CLI stream buffers", r.page(r.cmdTestBuffer))
	in.Register("uavcan-config", "uavcan-config [full-tests on|off]: shows or adjusts test configuration", r.page(r.cmdConfig))
	in.Register("uavcan-heartbeat", "uavcan-heartbeat <start|stop|send|status>: controls the heartbeat service", r.page(r.cmdHeartbeat))
	in.Register("uavcan-send-test", "uavcan-send-test [subject] [priority] [note]: publishes a CBOR test message", r.page(r.cmdSendTest))
	in.Register("uavcan-monitor", "uavcan-monitor <on|off|status>: logs received transfers", r.page(r.cmdMonitor))
	in.Register("uavcan-nodes", "uavcan-nodes: lists remote nodes seen via heartbeat", r.page(r.cmdNodes))
	in.Register("uavcan-show-config", "uavcan-show-config: dumps the active configuration", r.page(r.cmdShowConfig))
	in.Register("uavcan-diag", "uavcan-diag <network|stats|reset-stats|test-priorities|tasks>: diagnostic detail", r.page(r.cmdDiag))
	in.Register("uavcan-log-level", "uavcan-log-level [0..5 or level name]: shows or sets verbosity", r.page(r.cmdLogLevel))
}

// page adapts a build-the-whole-reply function to the fragment protocol:
// the first call renders the reply, subsequent calls drain it in
// OutputBufferSize pieces. The console arbiter serializes command
// execution, so one remainder per command is safe.
func (r *Registry) page(build func(cmd string) string) cli.HandlerFunc {
	var rem []byte
	return func(out []byte, cmd string) (int, bool) {
		if rem == nil {
			rem = []byte(build(cmd))
		}
		n := copy(out, rem)
		rem = rem[n:]
		if len(rem) == 0 {
			rem = nil
			return n, false
		}
		return n, true
	}
}

func (r *Registry) cmdTest(string) string {
	if !r.cfg.RunFullTests {
		return Report([]Result{
			stub("priority-ordering"),
			stub("overflow-isolation"),
			stub("multicast-validation"),
		})
	}
	return Report([]Result{
		PriorityOrdering(),
		OverflowIsolation(),
		MulticastValidation(),
	})
}

func (r *Registry) cmdSystemTest(string) string {
	if !r.cfg.RunFullTests {
		return Report([]Result{
			stub("init-teardown"),
			stub("codec-round-trip"),
			stub("heartbeat-shape"),
			stub("queue-stress"),
			stub("codec-latency"),
		})
	}
	results := []Result{
		CodecRoundTrip(),
		HeartbeatShape(r.ctx.Node, r.ctx.Heartbeat, r.ctx.Queue),
		StressTest(),
		LatencyTest(),
	}
	if r.ctx.Started() {
		// The live node holds the UDP port; cycling a second node on the
		// same interface while running would collide with it.
		results = append(results, Result{Name: "init-teardown", Passed: true, Detail: "skipped: node running"})
	} else {
		results = append(results, InitTeardown(r.cfg.NetInterface, r.cfg.UDPPort))
	}
	return Report(results)
}

func (r *Registry) cmdStatus(string) string {
	return r.ctx.StatusString()
}

func (r *Registry) cmdVerifyRequirements(string) string {
	checks := []struct {
		name string
		ok   bool
		got  string
	}{
		{"udp port", cyphal.DefaultUDPPort == 9382, fmt.Sprintf("%d", cyphal.DefaultUDPPort)},
		{"subject base", cyphal.SubjectBase == 0xEF000000, fmt.Sprintf("0x%08X", uint32(cyphal.SubjectBase))},
		{"service base", cyphal.ServiceBase == 0xEF010000, fmt.Sprintf("0x%08X", uint32(cyphal.ServiceBase))},
		{"mtu", cyphal.DefaultMTU == 1408 && cyphal.MTUCeiling == 1500, fmt.Sprintf("%d/%d", cyphal.DefaultMTU, cyphal.MTUCeiling)},
		{"max payload", cyphal.MaxPayload == 1024, fmt.Sprintf("%d", cyphal.MaxPayload)},
		{"node id range", cyphal.NodeID(1).IsValid() && cyphal.NodeID(127).IsValid() && !cyphal.NodeID(128).IsValid(), "1..127"},
		{"priority classes", cyphal.PriorityCount == 8, fmt.Sprintf("%d", cyphal.PriorityCount)},
		{"heartbeat subject", cyphal.SubjectHeartbeat == 7509, fmt.Sprintf("%d", cyphal.SubjectHeartbeat)},
		{"header size", cyphal.HeaderSize == 24, fmt.Sprintf("%d", cyphal.HeaderSize)},
	}
	var b strings.Builder
	passed := 0
	for _, c := range checks {
		verdict := "FAIL"
		if c.ok {
			verdict = "PASS"
			passed++
		}
		fmt.Fprintf(&b, "[%s] %-20s %s\r\n", verdict, c.name, c.got)
	}
	fmt.Fprintf(&b, "%d/%d requirements satisfied\r\n", passed, len(checks))
	return b.String()
}

func (r *Registry) cmdSimpleVerify(string) string {
	st := r.ctx.Node.Status()
	return fmt.Sprintf("node %d: state=%s health=%s init=%v started=%v\r\n",
		st.NodeID, st.State, st.Health, r.ctx.Initialized(), r.ctx.Started())
}

func (r *Registry) cmdTestBuffer(string) string {
	return Report([]Result{BufferTest()})
}

func (r *Registry) cmdConfig(cmd string) string {
	switch cli.Arg(cmd, 1) {
	case "":
		return fmt.Sprintf("run_full_tests=%v debug=%v auto_start=%v\r\n",
			r.cfg.RunFullTests, r.cfg.DebugEnabled, r.cfg.AutoStart)
	case "full-tests":
		switch cli.Arg(cmd, 2) {
		case "on":
			r.cfg.RunFullTests = true
			return "run_full_tests=true\r\n"
		case "off":
			r.cfg.RunFullTests = false
			return "run_full_tests=false\r\n"
		}
	}
	return "usage: uavcan-config [full-tests on|off]\r\n"
}

func (r *Registry) cmdHeartbeat(cmd string) string {
	switch cli.Arg(cmd, 1) {
	case "start":
		if err := r.ctx.Heartbeat.Start(); err != nil {
			return fmt.Sprintf("heartbeat start failed: %v\r\n", err)
		}
		return "heartbeat started\r\n"
	case "stop":
		r.ctx.Heartbeat.Stop()
		return "heartbeat stopped\r\n"
	case "send":
		if err := r.ctx.Heartbeat.SendNow(); err != nil {
			return fmt.Sprintf("heartbeat send failed: %v\r\n", err)
		}
		return "heartbeat queued\r\n"
	case "status", "":
		hs := r.ctx.Heartbeat.Stats()
		return fmt.Sprintf("running=%v interval=%dms sent=%d skipped=%d errors=%d\r\n",
			r.ctx.Heartbeat.Running(), r.ctx.Heartbeat.Interval(), hs.Sent, hs.Skipped, hs.Errors)
	}
	return "usage: uavcan-heartbeat <start|stop|send|status>\r\n"
}

func (r *Registry) cmdSendTest(cmd string) string {
	subject := uint16(4567)
	if s := cli.Arg(cmd, 1); s != "" {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil || v > cyphal.SubjectIDMax {
			return fmt.Sprintf("bad subject %q\r\n", s)
		}
		subject = uint16(v)
	}
	prio := cyphal.PriorityNominal
	if s := cli.Arg(cmd, 2); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || !cyphal.Priority(v).IsValid() {
			return fmt.Sprintf("bad priority %q\r\n", s)
		}
		prio = cyphal.Priority(v)
	}
	note := cli.Arg(cmd, 3)
	if note == "" {
		note = "cygnet test"
	}

	r.mu.Lock()
	r.sendSeq++
	seq := r.sendSeq
	r.mu.Unlock()

	body, err := cbor.Marshal(TestPayload{Seq: seq, Note: note, SentAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Sprintf("encode failed: %v\r\n", err)
	}
	m, err := cyphal.NewMessage(subject, prio, 0, body)
	if err != nil {
		return fmt.Sprintf("build failed: %v\r\n", err)
	}
	if err := r.ctx.Handler.Send(m, time.Now().Add(time.Second)); err != nil {
		return fmt.Sprintf("send failed: %v\r\n", err)
	}
	return fmt.Sprintf("queued seq=%d subject=%d priority=%s (%d bytes)\r\n", seq, subject, prio, len(body))
}

func (r *Registry) cmdMonitor(cmd string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch cli.Arg(cmd, 1) {
	case "on":
		if r.monitorOn {
			return "monitor already running\r\n"
		}
		ctx, cancel := context.WithCancel(context.Background())
		r.monitorCtx = cancel
		r.monitorOn = true
		go r.monitorLoop(ctx)
		return "monitor on\r\n"
	case "off":
		if !r.monitorOn {
			return "monitor not running\r\n"
		}
		r.monitorCtx()
		r.monitorCtx = nil
		r.monitorOn = false
		return "monitor off\r\n"
	case "status", "":
		return fmt.Sprintf("monitor=%v\r\n", r.monitorOn)
	}
	return "usage: uavcan-monitor <on|off|status>\r\n"
}

// monitorLoop drains received transfers and logs them until cancelled.
// It competes with no one: application consumption of Receive and the
// monitor are alternatives, not concurrent readers.
func (r *Registry) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		tr, err := r.ctx.Handler.Receive(200 * time.Millisecond)
		if err != nil || tr == nil {
			continue
		}
		r.log.Info().
			Uint16("subject", tr.PortID).
			Uint8("source", uint8(tr.Source)).
			Uint64("tid", tr.TransferID).
			Int("bytes", len(tr.Payload)).
			Msg("transfer received")
	}
}

func (r *Registry) cmdNodes(string) string {
	remotes := r.ctx.Handler.Remotes()
	if len(remotes) == 0 {
		return "no remote nodes seen\r\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-10s %-14s %-8s %-6s %s\r\n", "id", "health", "mode", "uptime", "beats", "last heard")
	for _, rn := range remotes {
		fmt.Fprintf(&b, "%-5d %-10s %-14s %-8d %-6d %s\r\n",
			rn.ID, rn.Health, rn.Mode, rn.UptimeSec, rn.Heartbeats, rn.LastHeard.Format("15:04:05"))
	}
	return b.String()
}

func (r *Registry) cmdShowConfig(string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "node_id:               %d\r\n", r.cfg.NodeID)
	fmt.Fprintf(&b, "udp_port:              %d\r\n", r.cfg.UDPPort)
	fmt.Fprintf(&b, "subject_base:          0x%08X\r\n", r.cfg.MulticastSubjectBase)
	fmt.Fprintf(&b, "service_base:          0x%08X\r\n", r.cfg.MulticastServiceBase)
	fmt.Fprintf(&b, "heartbeat_interval_ms: %d\r\n", r.cfg.HeartbeatIntervalMs)
	fmt.Fprintf(&b, "net_interface:         %s\r\n", r.cfg.NetInterface)
	fmt.Fprintf(&b, "telnet_port:           %d\r\n", r.cfg.TelnetPort)
	fmt.Fprintf(&b, "serial_port:           %s\r\n", r.cfg.SerialPort)
	fmt.Fprintf(&b, "serial_baud:           %d\r\n", r.cfg.SerialBaud)
	fmt.Fprintf(&b, "debug_enabled:         %v\r\n", r.cfg.DebugEnabled)
	fmt.Fprintf(&b, "auto_start:            %v\r\n", r.cfg.AutoStart)
	fmt.Fprintf(&b, "run_full_tests:        %v\r\n", r.cfg.RunFullTests)
	return b.String()
}

func (r *Registry) cmdDiag(cmd string) string {
	now := time.Now()
	switch cli.Arg(cmd, 1) {
	case "network":
		ts := r.ctx.Node.Transport().Stats()
		return fmt.Sprintf("datagrams: sent=%d received=%d send_err=%d recv_err=%d timeouts=%d joined=%d left=%d\r\n",
			ts.DatagramsSent, ts.DatagramsReceived, ts.SendErrors, ts.RecvErrors, ts.RecvTimeouts, ts.GroupsJoined, ts.GroupsLeft)
	case "stats":
		var b strings.Builder
		cs := r.ctx.Node.Codec().Stats()
		as := r.ctx.Node.Arena().Stats()
		fmt.Fprintf(&b, "codec:   encoded=%d decoded=%d duplicates=%d rejected=%d\r\n",
			cs.TransfersEncoded, cs.TransfersDecoded, cs.Duplicates, cs.Rejected)
		fmt.Fprintf(&b, "arena:   used=%d/%d peak=%d allocs=%d failures=%d\r\n",
			as.Used, as.Size, as.Peak, as.Allocs, as.Failures)
		for p, qs := range r.ctx.Queue.Stats() {
			if qs.Queued == 0 && qs.Overflows == 0 {
				continue
			}
			fmt.Fprintf(&b, "queue %d: queued=%d dequeued=%d overflows=%d depth=%d/%d\r\n",
				p, qs.Queued, qs.Dequeued, qs.Overflows, qs.Depth, qs.MaxDepth)
		}
		return b.String()
	case "reset-stats":
		r.ctx.Handler.ResetStats()
		r.ctx.Stability.ResetStats()
		return "statistics reset\r\n"
	case "tasks":
		var b strings.Builder
		for _, th := range r.ctx.Stability.Tasks() {
			fmt.Fprintf(&b, "%-12s period=%s missed=%d timeouts=%d healthy=%v last=%s\r\n",
				th.Name, th.Period, th.Missed, th.Watchdog.Timeouts, th.Healthy, now.Sub(th.LastBeat).Truncate(time.Millisecond))
		}
		if b.Len() == 0 {
			return "no tasks registered\r\n"
		}
		return b.String()
	case "test-priorities":
		return Report([]Result{PriorityOrdering(), OverflowIsolation()})
	}
	return "usage: uavcan-diag <network|stats|reset-stats|test-priorities|tasks>\r\n"
}

func (r *Registry) cmdLogLevel(cmd string) string {
	if r.logLevel == nil {
		return "log level not adjustable\r\n"
	}
	arg := cli.Arg(cmd, 1)
	if arg == "" {
		return fmt.Sprintf("log level: %s\r\n", r.logLevel.String())
	}
	// Numeric 0..5 maps onto zerolog's debug..panic scale; names work too.
	var lvl zerolog.Level
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 0 || n > 5 {
			return fmt.Sprintf("unknown level %q\r\n", arg)
		}
		lvl = zerolog.Level(n)
	} else if lvl, err = zerolog.ParseLevel(arg); err != nil {
		return fmt.Sprintf("unknown level %q\r\n", arg)
	}
	*r.logLevel = lvl
	zerolog.SetGlobalLevel(lvl)
	return fmt.Sprintf("log level: %s\r\n", lvl.String())
}
