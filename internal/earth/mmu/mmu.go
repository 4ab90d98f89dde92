// Package mmu implements C3: the Sv32-style two-level MMU manager. It
// owns one root page table per process and walks/builds the tree on
// demand, following cpu_mmu.c's pagetable_map. Physical addresses in
// this simulation are frame indices into an internal/earth/framemap
// Map rather than real RAM offsets: a frame id doubles as a page table
// page when it holds PTEs and as a data page when it holds process
// memory, exactly as the reference firmware's core_map is reused for
// both.
package mmu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/earth/framemap"
)

const (
	vpnMask  = 0x3FF
	vpnBits  = 10
	pageBits = 12

	pteValid = 1
	ptePPNShift = 10

	// RWX is the permission bits installed on leaf (data) PTEs; interior
	// (root→leaf) PTEs carry no permission bits of their own.
	RWX = 0b1110
)

// identityPaddr marks a pagetableMap call where the caller supplied a
// concrete physical target (an OS/ROM/capability identity mapping)
// rather than asking for an arbitrary frame.
type identityPaddr struct {
	paddr uint32
	set   bool
}

// Manager owns the per-process root page tables.
type Manager struct {
	mu     sync.Mutex
	frames *framemap.Map
	roots  map[int]int // pid -> root frame id
	log    debug.Debug
}

// New builds a manager backed by frames.
func New(frames *framemap.Map, log debug.Debug) *Manager {
	if log == nil {
		log = debug.WithSource("earth.mmu")
	}
	return &Manager{frames: frames, roots: make(map[int]int), log: log}
}

func pteAt(table []byte, idx uint32) uint32 {
	return binary.LittleEndian.Uint32(table[idx*4:])
}

func setPTEAt(table []byte, idx uint32, v uint32) {
	binary.LittleEndian.PutUint32(table[idx*4:], v)
}

// updatePTE installs or reuses the PTE at index idx of the table held
// in frame tableFrame. If dst carries a concrete physical target, that
// ppn is installed outright; otherwise an existing valid PTE is reused,
// and a fresh frame is acquired only if the PTE was invalid.
func (m *Manager) updatePTE(pid, tableFrame int, idx uint32, dst identityPaddr, rwx uint32, pinned bool) (uint32, error) {
	table := m.frames.Bytes(tableFrame)
	pte := pteAt(table, idx)

	ppn := dst.paddr >> pageBits
	if !dst.set {
		if pte&pteValid != 0 {
			ppn = pte >> ptePPNShift
		} else {
			frameID, err := m.frames.Acquire(pid, pinned)
			if err != nil {
				return 0, fmt.Errorf("mmu: %w", err)
			}
			ppn = uint32(frameID)
		}
	}

	setPTEAt(table, idx, (ppn<<ptePPNShift)|rwx|pteValid)
	return ppn, nil
}

// pagetableMap is the Go analog of cpu_mmu.c's pagetable_map: walk (and
// extend) pid's two-level table for vaddr, installing dst as the leaf
// target when given, or reusing/allocating an arbitrary frame
// otherwise. It returns the resulting page's frame id.
func (m *Manager) pagetableMap(pid int, vaddr uint32, dst identityPaddr, rwx uint32, pinned bool) (uint32, error) {
	vpn1 := (vaddr >> 22) & vpnMask
	vpn0 := (vaddr >> 12) & vpnMask

	root, ok := m.roots[pid]
	if !ok {
		frameID, err := m.frames.Acquire(pid, true)
		if err != nil {
			return 0, fmt.Errorf("mmu: allocate root for pid %d: %w", pid, err)
		}
		m.roots[pid] = frameID
		root = frameID
	}

	leafFrame, err := m.updatePTE(pid, root, vpn1, identityPaddr{}, 0, pinned)
	if err != nil {
		return 0, err
	}

	return m.updatePTE(pid, int(leafFrame), vpn0, dst, rwx, pinned)
}

// identityMap installs vaddr→vaddr (ppn derived straight from vaddr) —
// used for the OS, ROM, and capability regions, which are never
// materialized through the frame allocator.
func (m *Manager) identityMap(pid int, vaddr uint32, pinned bool) error {
	_, err := m.pagetableMap(pid, vaddr, identityPaddr{paddr: vaddr, set: true}, RWX, pinned)
	return err
}

// Map walks pid's table for vaddr, installing an arbitrary unpinned
// frame if no valid leaf PTE exists yet, and returns the frame id.
func (m *Manager) Map(pid int, vaddr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pagetableMap(pid, vaddr, identityPaddr{}, RWX, false)
}

// Find behaves exactly like Map: the reference firmware's mmu_find and
// mmu_map both bottom out in the same idempotent pagetable_map call, so
// an existing mapping is always reused rather than replaced.
func (m *Manager) Find(pid int, vaddr uint32) (uint32, error) {
	return m.Map(pid, vaddr)
}

// Bytes returns the writable backing storage for the frame id a
// previous Map/Find call returned, letting callers (the ELF loader,
// the syscall layer) fill or read the page contents directly.
func (m *Manager) Bytes(frameID uint32) []byte {
	return m.frames.Bytes(int(frameID))
}

// Switch writes pid's satp-equivalent state. On real RISC-V hardware
// this is a single CSR write; here it is a no-op beyond bookkeeping,
// since every Map/Find call already addresses the right process by pid.
func (m *Manager) Switch(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Writef("switch satp to pid %d", pid)
}

// Free marks every frame owned by pid free (including its page table
// frames) and forgets its root.
func (m *Manager) Free(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Writef("free all frames for pid %d", pid)
	m.frames.Flush(pid)
	delete(m.roots, pid)
}

// AllocFixed installs the fixed kernel/loader mappings a freshly
// allocated process needs before it can run: the loader's entry and
// stack pages, the syscall argument page, the grass/earth capability
// pages, the OS code/data region, and the ROM region. All are pinned.
func (m *Manager) AllocFixed(pid int, layout FixedLayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range layout.IdentityPages() {
		if err := m.identityMap(pid, p, true); err != nil {
			return err
		}
	}
	for _, v := range layout.AnonPages() {
		if _, err := m.pagetableMap(pid, v, identityPaddr{}, RWX, true); err != nil {
			return err
		}
	}
	return nil
}

// FixedLayout describes the address ranges AllocFixed must map for
// every process; internal/addr supplies the concrete values so this
// package stays address-layout agnostic.
type FixedLayout struct {
	LoaderEntryPages []uint32
	LoaderStackPages []uint32 // includes the loader's saved-state page
	SyscallArgPage   uint32
	AppsArgPage      uint32
	GrassStructPage  uint32
	EarthStructPage  uint32
	OSRegionPages    []uint32
	ROMPages         []uint32
}

// IdentityPages returns the pages mapped vaddr→vaddr: the OS image, the
// ROM window, the loader's two entry pages, and the capability pages.
func (l FixedLayout) IdentityPages() []uint32 {
	pages := append([]uint32{}, l.LoaderEntryPages...)
	pages = append(pages, l.GrassStructPage, l.EarthStructPage)
	pages = append(pages, l.OSRegionPages...)
	pages = append(pages, l.ROMPages...)
	return pages
}

// AnonPages returns the pages mapped to an arbitrary allocated frame:
// the loader's saved-state/stack pages, the syscall argument page, and
// the argc/argv page.
func (l FixedLayout) AnonPages() []uint32 {
	pages := append([]uint32{}, l.LoaderStackPages...)
	pages = append(pages, l.SyscallArgPage, l.AppsArgPage)
	return pages
}

func pageRange(start uint32, size uint32) []uint32 {
	var pages []uint32
	for p := start; p < start+size; p += addr.PageSize {
		pages = append(pages, p)
	}
	return pages
}

// DefaultLayout builds the FixedLayout for the reference address map in
// internal/addr.
func DefaultLayout() FixedLayout {
	return FixedLayout{
		LoaderEntryPages: []uint32{addr.LoaderEntry, addr.LoaderEntry + addr.PageSize},
		LoaderStackPages: append(
			[]uint32{addr.LoaderSavedState},
			pageRange(addr.LoaderStackTop-addr.LoaderStackNPages*addr.PageSize, addr.LoaderStackNPages*addr.PageSize)...,
		),
		SyscallArgPage:  addr.SyscallArg,
		AppsArgPage:     addr.AppsArg,
		GrassStructPage: addr.GrassStructBase,
		EarthStructPage: addr.EarthStructBase,
		OSRegionPages:   pageRange(addr.OSRegionStart, addr.OSRegionSize),
		ROMPages:        pageRange(addr.RomStart, addr.RomSize),
	}
}
