// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Context is the single owned integration value binding the node, the
// handler, the heartbeat service, the priority queue, the stability
// manager, and the task supervisor. Create one at program start and thread
// it through; there are no hidden globals.
type Context struct {
	mu  sync.Mutex
	log zerolog.Logger

	Node      *Node
	Handler   *Handler
	Heartbeat *Heartbeat
	Queue     *PriorityQueue
	Stability *Stability
	Tasks     *Supervisor

	initialized bool
	started     bool
}

// ContextOptions carries the construction-time knobs of the facade.
type ContextOptions struct {
	UDPPort             uint16
	MTU                 int
	SubjectBase         uint32
	ServiceBase         uint32
	HeartbeatIntervalMs int
	FailureThreshold    uint64
	RecoveryTimeout     time.Duration
}

// NewContext builds the component graph in dependency order. Nothing
// touches the network until Init.
func NewContext(log zerolog.Logger, opts ContextOptions) *Context {
	now := time.Now()
	node := NewNode(log, opts.UDPPort, opts.MTU)
	if opts.SubjectBase != 0 || opts.ServiceBase != 0 {
		e := DefaultEndpoints()
		if opts.SubjectBase != 0 {
			e.Subject = opts.SubjectBase
		}
		if opts.ServiceBase != 0 {
			e.Service = opts.ServiceBase
		}
		if err := node.SetEndpoints(e); err != nil {
			log.Warn().Err(err).Msg("endpoint bases rejected; keeping defaults")
		}
	}
	queue := NewPriorityQueue()
	handler := NewHandler(log, node, queue)
	heartbeat := NewHeartbeat(log, node, queue)
	stability := NewStability(log, now)
	if opts.HeartbeatIntervalMs != 0 {
		heartbeat.SetInterval(opts.HeartbeatIntervalMs)
	}
	if opts.FailureThreshold != 0 {
		stability.SetFailureThreshold(opts.FailureThreshold)
	}
	if opts.RecoveryTimeout != 0 {
		stability.SetRecoveryTimeout(opts.RecoveryTimeout)
	}
	return &Context{
		log:       log.With().Str("component", "integration").Logger(),
		Node:      node,
		Handler:   handler,
		Heartbeat: heartbeat,
		Queue:     queue,
		Stability: stability,
		Tasks:     NewSupervisor(log, node, handler, queue, stability),
	}
}

// Init brings the node up on the named interface and assigns the identity.
// nodeID of 0 enables dynamic allocation instead.
func (c *Context) Init(ifaceName string, nodeID NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return fmt.Errorf("%w: context already initialized", ErrInitFailed)
	}
	if err := c.Node.Init(ifaceName); err != nil {
		return err
	}
	if nodeID.IsSet() {
		if err := c.Node.SetNodeID(nodeID); err != nil {
			c.Node.Deinit()
			return err
		}
	} else {
		c.Node.EnableDynamicNodeID(true)
	}
	c.initialized = true
	return nil
}

// Start starts the node, the task loops, and the heartbeat service.
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	if c.started {
		return nil
	}
	if err := c.Node.Start(); err != nil {
		return err
	}
	if err := c.Tasks.Start(); err != nil {
		c.Node.Stop()
		return err
	}
	if err := c.Heartbeat.Start(); err != nil {
		c.Tasks.Stop()
		c.Node.Stop()
		return err
	}
	c.started = true
	return nil
}

// Stop halts the heartbeat and the task loops and returns the node to
// Offline. Identity survives; Start succeeds again without reinit.
func (c *Context) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.Heartbeat.Stop()
	err := c.Tasks.Stop()
	if c.Node.Started() {
		c.Node.Stop()
	}
	c.started = false
	return err
}

// Deinit stops everything and reclaims the node's resources.
func (c *Context) Deinit() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		c.Stop()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.Node.Deinit()
	c.Queue.Flush()
	c.initialized = false
	return err
}

// Initialized reports whether Init has completed and Deinit has not.
func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Started reports whether Start has completed and Stop has not.
func (c *Context) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// updatePumpBudget caps the TX drains and RX polls one Update tick performs
// when the task loops are not running.
const updatePumpBudget = 16

// Update is the idempotent periodic tick: drive the stability manager,
// dynamic-ID progress, and the uptime counter, and, when the task loops are
// not running, flush pending TX messages and drain the socket. A host that
// skips Start and ticks the node itself gets a complete pump.
func (c *Context) Update(now time.Time) {
	c.Stability.Update(now)
	c.Node.UpdateUptime(now)
	c.Node.ProcessDynamicNodeID(now)
	if !c.Tasks.Running() {
		c.Tasks.PumpTX(updatePumpBudget)
		c.Tasks.PumpRX(updatePumpBudget)
	}
}

// StatusString renders a printable snapshot for the CLI.
func (c *Context) StatusString() string {
	st := c.Node.Status()
	now := time.Now()
	ss := c.Stability.Stats(now)
	qs := c.Queue.Stats()
	hs := c.Handler.Stats()
	ts := c.Tasks.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "node:      id=%d state=%s health=%s mode=%s uptime=%ds\r\n",
		st.NodeID, st.State, st.Health, st.Mode, st.UptimeSeconds)
	fmt.Fprintf(&b, "stability: %s errors=%d isolations=%d recoveries=%d\r\n",
		ss.State, ss.ErrorCount, ss.IsolationEvents, ss.SuccessfulRecoveries)
	fmt.Fprintf(&b, "traffic:   sent=%d received=%d send_err=%d recv_err=%d\r\n",
		ts.MessagesSent, ts.MessagesReceived, hs.SendErrors, hs.ReceiveErrors)
	depth := 0
	overflows := uint64(0)
	for _, q := range qs {
		depth += q.Depth
		overflows += q.Overflows
	}
	fmt.Fprintf(&b, "tx queue:  depth=%d overflows=%d\r\n", depth, overflows)
	fmt.Fprintf(&b, "heartbeat: running=%v interval=%dms sent=%d\r\n",
		c.Heartbeat.Running(), c.Heartbeat.Interval(), c.Heartbeat.Stats().Sent)
	return b.String()
}
