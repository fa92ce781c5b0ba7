// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stability manager tunables.
const (
	MaxTaskRecords          = 4
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// StabilityState classifies overall system health.
type StabilityState uint8

// Stability states. Isolated means the UAVCAN surface is deliberately
// halted until recovery.
const (
	StabilityNormal StabilityState = iota
	StabilityDegraded
	StabilityIsolated
	StabilityFailed
)

// String returns a printable name for the stability state.
func (s StabilityState) String() string {
	switch s {
	case StabilityNormal:
		return "NORMAL"
	case StabilityDegraded:
		return "DEGRADED"
	case StabilityIsolated:
		return "ISOLATED"
	case StabilityFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Watchdog is a liveness timeout kicked by the owning task.
type Watchdog struct {
	Timeout  time.Duration
	LastKick time.Time
	Enabled  bool
	Timeouts uint64
}

// TaskHealth is one supervised task record.
type TaskHealth struct {
	Name     string
	Period   time.Duration
	LastBeat time.Time
	Missed   uint64
	Healthy  bool
	Watchdog Watchdog
}

// ErrorEvent is the typed event the stability manager consumes instead of a
// raw callback pointer.
type ErrorEvent struct {
	Kind ErrorKind
	Task string
	At   time.Time
}

// StabilityStats is a snapshot of the manager's counters.
type StabilityStats struct {
	State                StabilityState
	TotalUptime          time.Duration
	DegradedTime         time.Duration
	IsolationEvents      uint64
	RecoveryAttempts     uint64
	SuccessfulRecoveries uint64
	ErrorCount           uint64
	ErrorsByKind         map[ErrorKind]uint64
}

// Stability supervises task health records and drives the
// Normal/Degraded/Isolated state machine with automatic recovery.
type Stability struct {
	mu  sync.Mutex
	log zerolog.Logger

	state            StabilityState
	tasks            map[string]*TaskHealth
	order            []string
	events           chan ErrorEvent
	failureThreshold uint64
	recoveryTimeout  time.Duration

	startedAt  time.Time
	degradedAt time.Time
	isolatedAt time.Time

	degradedTotal time.Duration
	errorCount    uint64
	errorsByKind  map[ErrorKind]uint64

	isolationEvents      uint64
	recoveryAttempts     uint64
	successfulRecoveries uint64
}

// NewStability creates a manager in the Normal state with defaults.
func NewStability(log zerolog.Logger, now time.Time) *Stability {
	return &Stability{
		log:              log.With().Str("component", "stability").Logger(),
		state:            StabilityNormal,
		tasks:            make(map[string]*TaskHealth),
		events:           make(chan ErrorEvent, 16),
		failureThreshold: DefaultFailureThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
		startedAt:        now,
		errorsByKind:     make(map[ErrorKind]uint64),
	}
}

// SetFailureThreshold overrides the cumulative recoverable-error count that
// forces isolation.
func (s *Stability) SetFailureThreshold(n uint64) {
	s.mu.Lock()
	s.failureThreshold = n
	s.mu.Unlock()
}

// SetRecoveryTimeout overrides the wait before automatic recovery from
// isolation.
func (s *Stability) SetRecoveryTimeout(d time.Duration) {
	s.mu.Lock()
	s.recoveryTimeout = d
	s.mu.Unlock()
}

// RegisterTask adds a supervised record. At most MaxTaskRecords tasks.
func (s *Stability) RegisterTask(name string, period time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: task %q already registered", ErrInvalidParameter, name)
	}
	if len(s.tasks) >= MaxTaskRecords {
		return fmt.Errorf("%w: task table full (%d)", ErrMemory, MaxTaskRecords)
	}
	s.tasks[name] = &TaskHealth{
		Name:     name,
		Period:   period,
		LastBeat: now,
		Healthy:  true,
		Watchdog: Watchdog{Timeout: 2 * period, LastKick: now, Enabled: true},
	}
	s.order = append(s.order, name)
	return nil
}

// Kick records a task heartbeat: the last-beat timestamp is refreshed and
// the watchdog reset.
func (s *Stability) Kick(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[name]
	if t == nil {
		return
	}
	t.LastBeat = now
	t.Watchdog.LastKick = now
}

// RecordError feeds one taxonomy error into the manager. Non-recoverable
// kinds isolate immediately; recoverable kinds accumulate toward the
// failure threshold.
func (s *Stability) RecordError(kind ErrorKind, task string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.errorsByKind[kind]++

	select {
	case s.events <- ErrorEvent{Kind: kind, Task: task, At: now}:
	default:
		// Event consumers lag; counters above remain authoritative.
	}

	if !kind.Recoverable() {
		s.isolateLocked(now, fmt.Sprintf("non-recoverable %s from %s", kind, task))
		return
	}
	if s.errorCount >= s.failureThreshold && s.state != StabilityIsolated {
		s.isolateLocked(now, fmt.Sprintf("error count %d reached threshold %d", s.errorCount, s.failureThreshold))
	}
}

// Events exposes the typed error stream consumed by the supervisor.
func (s *Stability) Events() <-chan ErrorEvent {
	return s.events
}

func (s *Stability) isolateLocked(now time.Time, reason string) {
	if s.state == StabilityIsolated {
		return
	}
	if s.state == StabilityDegraded && !s.degradedAt.IsZero() {
		s.degradedTotal += now.Sub(s.degradedAt)
		s.degradedAt = time.Time{}
	}
	s.state = StabilityIsolated
	s.isolatedAt = now
	s.isolationEvents++
	s.log.Warn().Str("reason", reason).Msg("isolating UAVCAN surface")
}

// Update is the supervisor tick: stale tasks are marked unhealthy, the
// Normal/Degraded transition follows task health, and isolation recovers
// automatically after the recovery timeout.
func (s *Stability) Update(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unhealthy := 0
	for _, name := range s.order {
		t := s.tasks[name]
		stale := now.Sub(t.LastBeat) > 2*t.Period
		if stale && t.Healthy {
			t.Healthy = false
			t.Missed++
			s.log.Warn().Str("task", t.Name).Msg("task heartbeat stale")
		} else if !stale && !t.Healthy {
			t.Healthy = true
		}
		if t.Watchdog.Enabled && now.Sub(t.Watchdog.LastKick) > t.Watchdog.Timeout {
			t.Watchdog.Timeouts++
			t.Watchdog.LastKick = now
		}
		if !t.Healthy {
			unhealthy++
		}
	}

	switch s.state {
	case StabilityNormal:
		if unhealthy > 0 {
			s.state = StabilityDegraded
			s.degradedAt = now
			s.log.Warn().Int("unhealthy", unhealthy).Msg("entering degraded state")
		}
	case StabilityDegraded:
		if unhealthy == 0 {
			s.state = StabilityNormal
			if !s.degradedAt.IsZero() {
				s.degradedTotal += now.Sub(s.degradedAt)
				s.degradedAt = time.Time{}
			}
			s.log.Info().Msg("degraded state cleared")
		}
	case StabilityIsolated:
		if now.Sub(s.isolatedAt) >= s.recoveryTimeout {
			s.recoverLocked(now)
		}
	}
}

// recoverLocked resets watchdogs, task health flags, and error statistics,
// and returns the state to Normal.
func (s *Stability) recoverLocked(now time.Time) {
	s.recoveryAttempts++
	for _, t := range s.tasks {
		t.Healthy = true
		t.Missed = 0
		t.LastBeat = now
		t.Watchdog.LastKick = now
		t.Watchdog.Timeouts = 0
	}
	s.errorCount = 0
	s.errorsByKind = make(map[ErrorKind]uint64)
	s.state = StabilityNormal
	s.successfulRecoveries++
	s.log.Info().Uint64("recoveries", s.successfulRecoveries).Msg("recovered from isolation")
}

// Isolated reports whether UAVCAN-surface operations should be skipped.
func (s *Stability) Isolated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StabilityIsolated
}

// State returns the current stability state.
func (s *Stability) State() StabilityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tasks returns a snapshot of the supervised task records.
func (s *Stability) Tasks() []TaskHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskHealth, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.tasks[name])
	}
	return out
}

// Stats returns a snapshot of the manager counters as of now.
func (s *Stability) Stats(now time.Time) StabilityStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	degraded := s.degradedTotal
	if s.state == StabilityDegraded && !s.degradedAt.IsZero() {
		degraded += now.Sub(s.degradedAt)
	}
	byKind := make(map[ErrorKind]uint64, len(s.errorsByKind))
	for k, v := range s.errorsByKind {
		byKind[k] = v
	}
	return StabilityStats{
		State:                s.state,
		TotalUptime:          now.Sub(s.startedAt),
		DegradedTime:         degraded,
		IsolationEvents:      s.isolationEvents,
		RecoveryAttempts:     s.recoveryAttempts,
		SuccessfulRecoveries: s.successfulRecoveries,
		ErrorCount:           s.errorCount,
		ErrorsByKind:         byKind,
	}
}

// ResetStats clears the error counters without touching the state machine.
func (s *Stability) ResetStats() {
	s.mu.Lock()
	s.errorCount = 0
	s.errorsByKind = make(map[ErrorKind]uint64)
	s.mu.Unlock()
}
