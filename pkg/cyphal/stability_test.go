// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStability(now time.Time) *Stability {
	return NewStability(zerolog.Nop(), now)
}

// ============================================================
// Task Registration Tests
// ============================================================

func TestStability_RegisterTaskLimits(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)

	for i := 0; i < MaxTaskRecords; i++ {
		name := string(rune('a' + i))
		if err := s.RegisterTask(name, 100*time.Millisecond, now); err != nil {
			t.Fatalf("RegisterTask %d failed: %v", i, err)
		}
	}
	if err := s.RegisterTask("overflow", 100*time.Millisecond, now); err == nil {
		t.Error("Expected rejection past MaxTaskRecords")
	}
	if err := s.RegisterTask("a", 100*time.Millisecond, now); err == nil {
		t.Error("Expected rejection of a duplicate name")
	}
	if got := len(s.Tasks()); got != MaxTaskRecords {
		t.Errorf("Task count = %d, expected %d", got, MaxTaskRecords)
	}
}

// ============================================================
// Degradation Tests
// ============================================================

func TestStability_StaleTaskDegrades(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)
	s.RegisterTask("rx", 100*time.Millisecond, now)

	// Fresh beat: still normal.
	s.Update(now.Add(150 * time.Millisecond))
	if s.State() != StabilityNormal {
		t.Fatalf("State = %s, expected NORMAL within 2x period", s.State())
	}

	// Past 2x the period without a kick: degraded.
	now = now.Add(250 * time.Millisecond)
	s.Update(now)
	if s.State() != StabilityDegraded {
		t.Fatalf("State = %s, expected DEGRADED", s.State())
	}

	// A kick clears it on the next tick.
	s.Kick("rx", now)
	s.Update(now.Add(10 * time.Millisecond))
	if s.State() != StabilityNormal {
		t.Errorf("State = %s, expected NORMAL after kick", s.State())
	}
}

// ============================================================
// Isolation Tests
// ============================================================

func TestStability_ThresholdIsolates(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		s.RecordError(KindSendFailed, "tx", now)
		if s.Isolated() {
			t.Fatalf("Isolated after %d recoverable errors, threshold is %d", i+1, DefaultFailureThreshold)
		}
	}
	s.RecordError(KindSendFailed, "tx", now)
	if !s.Isolated() {
		t.Fatal("Expected isolation at the failure threshold")
	}

	st := s.Stats(now)
	if st.IsolationEvents != 1 {
		t.Errorf("IsolationEvents = %d, expected 1", st.IsolationEvents)
	}
	if st.ErrorsByKind[KindSendFailed] != DefaultFailureThreshold {
		t.Errorf("ErrorsByKind[send-failed] = %d, expected %d", st.ErrorsByKind[KindSendFailed], DefaultFailureThreshold)
	}
}

func TestStability_NonRecoverableIsolatesImmediately(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)

	s.RecordError(KindMemoryAllocation, "node", now)
	if !s.Isolated() {
		t.Error("A non-recoverable error should isolate on the first occurrence")
	}
}

func TestStability_ErrorEventsDelivered(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)
	s.RecordError(KindTimeout, "rx", now)

	select {
	case ev := <-s.Events():
		if ev.Kind != KindTimeout || ev.Task != "rx" {
			t.Errorf("Unexpected event: %+v", ev)
		}
	default:
		t.Error("Expected a queued error event")
	}
}

// ============================================================
// Recovery Tests
// ============================================================

func TestStability_AutomaticRecovery(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)
	s.RegisterTask("tx", 10*time.Millisecond, now)

	for i := 0; i < DefaultFailureThreshold; i++ {
		s.RecordError(KindSendFailed, "tx", now)
	}
	if !s.Isolated() {
		t.Fatal("Setup: expected isolation")
	}

	// Before the recovery timeout nothing changes.
	s.Update(now.Add(DefaultRecoveryTimeout - time.Second))
	if !s.Isolated() {
		t.Fatal("Recovery fired before the timeout elapsed")
	}

	// At the timeout the manager recovers and resets error statistics.
	recovered := now.Add(DefaultRecoveryTimeout)
	s.Update(recovered)
	if s.Isolated() {
		t.Fatal("Expected recovery after the timeout")
	}
	st := s.Stats(recovered)
	if st.State != StabilityNormal {
		t.Errorf("State = %s, expected NORMAL", st.State)
	}
	if st.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, expected 0 after recovery", st.ErrorCount)
	}
	if st.RecoveryAttempts != 1 || st.SuccessfulRecoveries != 1 {
		t.Errorf("Recovery counters = %d/%d, expected 1/1", st.RecoveryAttempts, st.SuccessfulRecoveries)
	}

	for _, task := range s.Tasks() {
		if !task.Healthy || task.Watchdog.Timeouts != 0 {
			t.Errorf("Task %s not reset on recovery: %+v", task.Name, task)
		}
	}
}

func TestStability_CustomThresholdAndTimeout(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)
	s.SetFailureThreshold(2)
	s.SetRecoveryTimeout(time.Minute)

	s.RecordError(KindQueueFull, "tx", now)
	s.RecordError(KindQueueFull, "tx", now)
	if !s.Isolated() {
		t.Fatal("Expected isolation at the custom threshold")
	}

	s.Update(now.Add(DefaultRecoveryTimeout))
	if !s.Isolated() {
		t.Error("Recovery fired before the custom timeout")
	}
	s.Update(now.Add(time.Minute))
	if s.Isolated() {
		t.Error("Expected recovery at the custom timeout")
	}
}

// ============================================================
// Degraded-Time Accounting Tests
// ============================================================

func TestStability_DegradedTimeAccrues(t *testing.T) {
	now := time.Now()
	s := newTestStability(now)
	s.RegisterTask("node", 10*time.Millisecond, now)

	degradedAt := now.Add(100 * time.Millisecond)
	s.Update(degradedAt)
	if s.State() != StabilityDegraded {
		t.Fatalf("Setup: expected DEGRADED, got %s", s.State())
	}

	st := s.Stats(degradedAt.Add(2 * time.Second))
	if st.DegradedTime < 2*time.Second {
		t.Errorf("DegradedTime = %v, expected at least 2s", st.DegradedTime)
	}
}
