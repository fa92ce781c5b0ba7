// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Volanti Avionics

package cyphal

import "sync"

// ArenaSize is the fixed region backing codec scratch and per-transfer
// state. Sized for the worst-case concurrent in-flight transfer set
// (32 TX + 16 RX).
const ArenaSize = 8 * 1024

// Arena is a bump allocator over a fixed region. Alloc advances a cursor,
// Free is a no-op, and Reset happens only at node init/deinit. The hot path
// therefore sees deterministic latency and zero fragmentation.
type Arena struct {
	mu      sync.Mutex
	region  []byte
	cursor  int
	allocs  uint64
	fails   uint64
	peak    int
}

// ArenaStats is a snapshot of allocator counters.
type ArenaStats struct {
	Size     int
	Used     int
	Peak     int
	Allocs   uint64
	Failures uint64
}

// NewArena creates an arena over a freshly reserved region.
func NewArena() *Arena {
	return &Arena{region: make([]byte, ArenaSize)}
}

// Alloc reserves n bytes and returns the slice, or nil with ErrMemory when
// the region cannot satisfy the request.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrInvalidParameter
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	// Round to 8-byte boundaries so successive allocations stay aligned.
	rounded := (n + 7) &^ 7
	if a.cursor+rounded > len(a.region) {
		a.fails++
		return nil, ErrMemory
	}
	out := a.region[a.cursor : a.cursor+n : a.cursor+n]
	a.cursor += rounded
	a.allocs++
	if a.cursor > a.peak {
		a.peak = a.cursor
	}
	return out, nil
}

// Free is a no-op: arena storage lives until the next Reset.
func (a *Arena) Free([]byte) {}

// Reset reclaims the whole region. Only node init/deinit may call this;
// outstanding slices become invalid.
func (a *Arena) Reset() {
	a.mu.Lock()
	a.cursor = 0
	a.mu.Unlock()
}

// Stats returns a snapshot of the allocator counters.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArenaStats{
		Size:     len(a.region),
		Used:     a.cursor,
		Peak:     a.peak,
		Allocs:   a.allocs,
		Failures: a.fails,
	}
}
