// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskState is the lifecycle of one supervised loop.
type TaskState uint8

// Task states exported through the supervisor accessor.
const (
	TaskStopped TaskState = iota
	TaskInitializing
	TaskRunning
	TaskError
	TaskStopping
)

// String returns a printable name for the task state.
func (t TaskState) String() string {
	switch t {
	case TaskStopped:
		return "STOPPED"
	case TaskInitializing:
		return "INITIALIZING"
	case TaskRunning:
		return "RUNNING"
	case TaskError:
		return "ERROR"
	case TaskStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Command is an inbound instruction for the node task.
type Command uint8

// Node task commands.
const (
	CmdStart Command = iota
	CmdStop
	CmdRestart
	CmdHealthCheck
	CmdUpdateConfig
)

// Task cadences and the TX retry policy.
const (
	nodeTaskPeriod = 100 * time.Millisecond // ~10 Hz
	txTaskPeriod   = 10 * time.Millisecond  // ~100 Hz
	rxRecvTimeout  = 100 * time.Millisecond // bounded recv, stop checks stay live

	txSendRetries = 3
	txRetryDelay  = 5 * time.Millisecond

	stopDrainTimeout = 5 * time.Second
	commandQueueCap  = 8
)

// Supervisor task names, also the stability-record keys.
const (
	TaskNameNode = "node"
	TaskNameTX   = "tx"
	TaskNameRX   = "rx"
)

// SupervisorStats counts supervisor-level outcomes.
type SupervisorStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	SendRetries      uint64
	SendFailures     uint64
	RxDropped        uint64
	CommandsHandled  uint64
}

// Supervisor schedules the Node, TX, and RX loops and wires their watchdog
// kicks into the stability manager.
type Supervisor struct {
	mu  sync.Mutex
	log zerolog.Logger

	node      *Node
	handler   *Handler
	txq       *PriorityQueue
	stability *Stability

	states map[string]TaskState
	cmds   chan Command

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   SupervisorStats
}

// NewSupervisor binds the three task loops to their collaborators. The
// heartbeat service runs its own ticker and is not scheduled here.
func NewSupervisor(log zerolog.Logger, node *Node, handler *Handler, txq *PriorityQueue, stability *Stability) *Supervisor {
	return &Supervisor{
		log:       log.With().Str("component", "supervisor").Logger(),
		node:      node,
		handler:   handler,
		txq:       txq,
		stability: stability,
		states: map[string]TaskState{
			TaskNameNode: TaskStopped,
			TaskNameTX:   TaskStopped,
			TaskNameRX:   TaskStopped,
		},
		cmds: make(chan Command, commandQueueCap),
	}
}

// Start launches the three loops and registers their stability records.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.node.Initialized() {
		return ErrNotInitialized
	}

	now := time.Now()
	s.stability.RegisterTask(TaskNameNode, nodeTaskPeriod, now)
	s.stability.RegisterTask(TaskNameTX, txTaskPeriod, now)
	s.stability.RegisterTask(TaskNameRX, rxRecvTimeout, now)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.setState(TaskNameNode, TaskInitializing)
	s.setState(TaskNameTX, TaskInitializing)
	s.setState(TaskNameRX, TaskInitializing)

	s.wg.Add(3)
	go s.nodeTask(ctx)
	go s.txTask(ctx)
	go s.rxTask(ctx)
	s.log.Info().Msg("task supervisor started")
	return nil
}

// Stop cancels the loops and waits up to 5 s for them to drain; on timeout
// the goroutines are abandoned and the queue closed underneath them.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	// Let the node task see the stop command first, then cancel.
	select {
	case s.cmds <- CmdStop:
	default:
	}
	cancel()
	s.txq.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(stopDrainTimeout):
		s.log.Error().Msg("task drain timed out; abandoning loops")
		err = ErrTimeout
	}
	s.txq.Reopen()
	s.log.Info().Msg("task supervisor stopped")
	return err
}

// Submit enqueues a command for the node task. A full command queue fails
// with ErrQueueFull.
func (s *Supervisor) Submit(cmd Command) error {
	select {
	case s.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Supervisor) setState(name string, st TaskState) {
	s.states[name] = st
}

// SetTaskState updates one task's exported state under the supervisor mutex.
func (s *Supervisor) SetTaskState(name string, st TaskState) {
	s.mu.Lock()
	s.setState(name, st)
	s.mu.Unlock()
}

// TaskStates returns a snapshot of the exported task states.
func (s *Supervisor) TaskStates() map[string]TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Running reports whether the loops are live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of the supervisor counters.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PumpTX drains up to budget queued messages through the transmit path.
// Hosts driving the node from their own tick instead of the task loops use
// this together with PumpRX.
func (s *Supervisor) PumpTX(budget int) int {
	drained := 0
	for i := 0; i < budget; i++ {
		m, err := s.txq.Pop(0)
		if err != nil {
			break
		}
		drained++
		if s.stability.Isolated() || !s.node.Started() {
			continue // surface halted while isolated; message dropped
		}
		s.transmit(m)
	}
	return drained
}

// PumpRX polls the socket up to budget times and routes completed
// transfers, returning after the first empty read.
func (s *Supervisor) PumpRX(budget int) int {
	tp := s.node.Transport()
	if tp == nil || !tp.Initialized() {
		return 0
	}
	buf := make([]byte, MTUCeiling)
	received := 0
	for i := 0; i < budget; i++ {
		n, src, _, err := tp.Recv(buf, 0)
		if err != nil {
			break
		}
		if s.stability.Isolated() {
			s.mu.Lock()
			s.stats.RxDropped++
			s.mu.Unlock()
			continue
		}
		dg := make([]byte, n)
		copy(dg, buf[:n])
		if err := s.handler.ProcessDatagram(dg, src, time.Now()); err != nil {
			s.mu.Lock()
			s.stats.RxDropped++
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.stats.MessagesReceived++
		s.mu.Unlock()
		received++
	}
	return received
}

// nodeTask runs at ~10 Hz: drain inbound commands, refresh uptime, drive
// dynamic-ID progress, periodic health check.
func (s *Supervisor) nodeTask(ctx context.Context) {
	defer s.wg.Done()
	s.SetTaskState(TaskNameNode, TaskRunning)
	defer s.SetTaskState(TaskNameNode, TaskStopped)

	ticker := time.NewTicker(nodeTaskPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case <-ticker.C:
			now := time.Now()
			s.node.UpdateUptime(now)
			s.node.ProcessDynamicNodeID(now)
			s.healthCheck()
			s.stability.Kick(TaskNameNode, now)
		}
	}
}

func (s *Supervisor) handleCommand(cmd Command) {
	s.mu.Lock()
	s.stats.CommandsHandled++
	s.mu.Unlock()
	switch cmd {
	case CmdStart:
		if err := s.node.Start(); err != nil {
			s.log.Warn().Err(err).Msg("start command rejected")
		}
	case CmdStop:
		if s.node.Started() {
			s.node.Stop()
		}
	case CmdRestart:
		if s.node.Started() {
			s.node.Stop()
		}
		if err := s.node.Start(); err != nil {
			s.log.Warn().Err(err).Msg("restart command rejected")
		}
	case CmdHealthCheck:
		s.healthCheck()
	case CmdUpdateConfig:
		// Configuration is immutable while running; the command exists so
		// a future hot-reload can land without a queue change.
		s.log.Debug().Msg("update-config command acknowledged")
	}
}

// healthCheck degrades the published health when the transport disappears
// underneath an operational node.
func (s *Supervisor) healthCheck() {
	if !s.node.Started() {
		return
	}
	tp := s.node.Transport()
	if tp == nil || !tp.Initialized() {
		s.node.SetHealth(HealthWarning)
		s.stability.RecordError(KindNetworkUnavailable, TaskNameNode, time.Now())
	}
}

// txTask runs at ~100 Hz: pop the next highest-priority message, encode,
// transmit. Send failures retry up to 3 times with a short backoff, then
// report Advisory health.
func (s *Supervisor) txTask(ctx context.Context) {
	defer s.wg.Done()
	s.SetTaskState(TaskNameTX, TaskRunning)
	defer s.SetTaskState(TaskNameTX, TaskStopped)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.stability.Kick(TaskNameTX, time.Now())

		m, err := s.txq.Pop(txTaskPeriod)
		if err != nil {
			continue // empty queue; cadence comes from the bounded wait
		}
		if s.stability.Isolated() || !s.node.Started() {
			continue // surface halted while isolated; message dropped
		}
		s.transmit(m)
	}
}

func (s *Supervisor) transmit(m *Message) {
	codec := s.node.Codec()
	tp := s.node.Transport()
	if codec == nil || tp == nil {
		return
	}
	datagrams, err := codec.Encode(m)
	if err != nil {
		s.log.Warn().Err(err).Str("msg", m.String()).Msg("encode failed")
		s.stability.RecordError(KindOf(err), TaskNameTX, time.Now())
		return
	}

	eps := s.node.Endpoints()
	dest := eps.SubjectEndpoint(m.PortID)
	if m.Destination.IsSet() {
		dest = eps.ServiceEndpoint(m.Destination)
	}

	for _, dg := range datagrams {
		var sendErr error
		for attempt := 0; attempt <= txSendRetries; attempt++ {
			if attempt > 0 {
				s.mu.Lock()
				s.stats.SendRetries++
				s.mu.Unlock()
				time.Sleep(txRetryDelay)
			}
			if sendErr = tp.Send(dg, dest, tp.Port()); sendErr == nil {
				break
			}
		}
		if sendErr != nil {
			s.mu.Lock()
			s.stats.SendFailures++
			s.mu.Unlock()
			s.node.SetHealth(HealthAdvisory)
			s.stability.RecordError(KindSendFailed, TaskNameTX, time.Now())
			s.log.Warn().Err(sendErr).Str("msg", m.String()).Msg("send failed after retries")
			return
		}
	}
	s.mu.Lock()
	s.stats.MessagesSent++
	s.mu.Unlock()
}

// rxTask loops on a bounded socket receive (100 ms) so stop signals stay
// live, parses with the codec, and routes completed transfers.
func (s *Supervisor) rxTask(ctx context.Context) {
	defer s.wg.Done()
	s.SetTaskState(TaskNameRX, TaskRunning)
	defer s.SetTaskState(TaskNameRX, TaskStopped)

	buf := make([]byte, MTUCeiling)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.stability.Kick(TaskNameRX, time.Now())

		tp := s.node.Transport()
		if tp == nil || !tp.Initialized() {
			time.Sleep(rxRecvTimeout)
			continue
		}
		n, src, _, err := tp.Recv(buf, rxRecvTimeout)
		if err != nil {
			if err == ErrTimeout || err == ErrNotInitialized {
				continue
			}
			s.stability.RecordError(KindReceiveFailed, TaskNameRX, time.Now())
			continue
		}
		if s.stability.Isolated() {
			s.mu.Lock()
			s.stats.RxDropped++
			s.mu.Unlock()
			continue
		}

		dg := make([]byte, n)
		copy(dg, buf[:n])
		if err := s.handler.ProcessDatagram(dg, src, time.Now()); err != nil {
			s.mu.Lock()
			s.stats.RxDropped++
			s.mu.Unlock()
			s.log.Debug().Err(err).Msg("datagram dropped")
			continue
		}
		s.mu.Lock()
		s.stats.MessagesReceived++
		s.mu.Unlock()
	}
}
