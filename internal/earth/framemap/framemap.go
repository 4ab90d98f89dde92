// Package framemap implements the physical frame allocator backing C3's
// page tables: a flat table of fixed-size frames, each owned by at most
// one process and optionally pinned against eviction. It is the Go
// analog of cpu_mmu.c's core_map — the MMU acquires a frame whenever a
// page table needs a new root, leaf, or (on platforms with enough
// DRAM) a data page, and flushes every frame a process owns when that
// process exits.
package framemap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
)

// ErrOutOfFrames is returned when no frame is free to acquire.
var ErrOutOfFrames = errors.New("framemap: out of frames")

// Frame mirrors cpu_mmu.c's struct frame: in_use, pid, pinned, plus the
// page-sized backing storage that a real platform would address
// directly as physical memory.
type Frame struct {
	InUse  bool
	Pid    int
	Pinned bool
	Data   [addr.PageSize]byte
}

// Map is the core frame table. One Map instance represents the entire
// simulated physical address space available to page tables.
type Map struct {
	mu     sync.Mutex
	frames []Frame
	log    debug.Debug
}

// New allocates a frame map with nframes entries, all initially free.
func New(nframes int, log debug.Debug) *Map {
	if log == nil {
		log = debug.WithSource("earth.framemap")
	}
	return &Map{frames: make([]Frame, nframes), log: log}
}

// NumFrames reports the table's fixed size.
func (m *Map) NumFrames() int {
	return len(m.frames)
}

// Acquire finds the first free frame, marks it owned by pid, and
// returns its id. Matches frame_acquire's linear free-list scan.
func (m *Map) Acquire(pid int, pinned bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		if !m.frames[i].InUse {
			m.frames[i] = Frame{InUse: true, Pid: pid, Pinned: pinned}
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %d frames all in use", ErrOutOfFrames, len(m.frames))
}

// Flush releases every frame owned by pid, zeroing its contents —
// frame_flush's memset of page-table pages so a reused frame never
// leaks a prior process's mappings.
func (m *Map) Flush(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		if m.frames[i].InUse && m.frames[i].Pid == pid {
			m.frames[i] = Frame{}
		}
	}
}

// Bytes returns the live backing storage for frameID, letting the MMU
// read or write page table entries in place.
func (m *Map) Bytes(frameID int) []byte {
	return m.frames[frameID].Data[:]
}

// Owner reports the pid and pin state of frameID, or ok=false if the
// frame is currently free.
func (m *Map) Owner(frameID int) (pid int, pinned bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := m.frames[frameID]
	return f.Pid, f.Pinned, f.InUse
}
