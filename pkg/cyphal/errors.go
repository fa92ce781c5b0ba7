// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import "errors"

// Sentinel errors for the node runtime. Callers match with errors.Is.
var (
	ErrInitFailed       = errors.New("cyphal: initialization failed")
	ErrNetworkUnavail   = errors.New("cyphal: network unavailable")
	ErrSendFailed       = errors.New("cyphal: send failed")
	ErrReceiveFailed    = errors.New("cyphal: receive failed")
	ErrQueueFull        = errors.New("cyphal: queue full")
	ErrInvalidConfig    = errors.New("cyphal: invalid configuration")
	ErrInvalidParameter = errors.New("cyphal: invalid parameter")
	ErrTimeout          = errors.New("cyphal: timeout")
	ErrMemory           = errors.New("cyphal: memory allocation failed")
	ErrNodeIDConflict   = errors.New("cyphal: node id conflict")
	ErrTransport        = errors.New("cyphal: transport error")

	ErrNotInitialized = errors.New("cyphal: node not initialized")
	ErrNotStarted     = errors.New("cyphal: node not started")
	ErrBadLifecycle   = errors.New("cyphal: operation not valid in current state")
)

// ErrorKind is the closed taxonomy every runtime failure belongs to.
type ErrorKind uint8

// Error kinds. The recoverable subset may be retried locally; the rest
// surfaces immediately and drives the stability manager toward isolation.
const (
	KindNone ErrorKind = iota
	KindInitFailed
	KindNetworkUnavailable
	KindSendFailed
	KindReceiveFailed
	KindQueueFull
	KindInvalidConfig
	KindInvalidParameter
	KindTimeout
	KindMemoryAllocation
	KindNodeIDConflict
	KindTransportError
)

// Recoverable reports whether local retry is permitted for the kind.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindNetworkUnavailable, KindQueueFull, KindTimeout,
		KindSendFailed, KindReceiveFailed, KindTransportError:
		return true
	}
	return false
}

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInitFailed:
		return "init-failed"
	case KindNetworkUnavailable:
		return "network-unavailable"
	case KindSendFailed:
		return "send-failed"
	case KindReceiveFailed:
		return "receive-failed"
	case KindQueueFull:
		return "queue-full"
	case KindInvalidConfig:
		return "invalid-config"
	case KindInvalidParameter:
		return "invalid-parameter"
	case KindTimeout:
		return "timeout"
	case KindMemoryAllocation:
		return "memory-allocation"
	case KindNodeIDConflict:
		return "node-id-conflict"
	case KindTransportError:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error associated with the kind, or nil for
// KindNone.
func (k ErrorKind) Err() error {
	switch k {
	case KindInitFailed:
		return ErrInitFailed
	case KindNetworkUnavailable:
		return ErrNetworkUnavail
	case KindSendFailed:
		return ErrSendFailed
	case KindReceiveFailed:
		return ErrReceiveFailed
	case KindQueueFull:
		return ErrQueueFull
	case KindInvalidConfig:
		return ErrInvalidConfig
	case KindInvalidParameter:
		return ErrInvalidParameter
	case KindTimeout:
		return ErrTimeout
	case KindMemoryAllocation:
		return ErrMemory
	case KindNodeIDConflict:
		return ErrNodeIDConflict
	case KindTransportError:
		return ErrTransport
	default:
		return nil
	}
}

// KindOf maps an error back into the taxonomy. Unrecognized errors classify
// as transport errors so they stay in the recoverable bucket.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInitFailed):
		return KindInitFailed
	case errors.Is(err, ErrNetworkUnavail):
		return KindNetworkUnavailable
	case errors.Is(err, ErrSendFailed):
		return KindSendFailed
	case errors.Is(err, ErrReceiveFailed):
		return KindReceiveFailed
	case errors.Is(err, ErrQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrInvalidConfig):
		return KindInvalidConfig
	case errors.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMemory):
		return KindMemoryAllocation
	case errors.Is(err, ErrNodeIDConflict):
		return KindNodeIDConflict
	default:
		return KindTransportError
	}
}
