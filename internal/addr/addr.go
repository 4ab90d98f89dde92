// Package addr centralizes the fixed virtual-address-space layout that
// every kernel component agrees on. None of these values are load-bearing
// in the Go process's own address space — they are the addresses the
// simulated Sv32 page tables and ELF segments are built around.
package addr

const (
	PageSize  = 4096
	BlockSize = 512

	BlocksPerPage = PageSize / BlockSize

	// App argc/argv area, one page.
	AppsArg = 0x8000_0000

	// Syscall argument page, shared between caller and kernel.
	SyscallArg = 0x8004_0000

	// Capability tables.
	EarthStructBase = 0x8001_0000
	GrassStructBase = 0x8001_0800

	// Loader.
	LoaderEntry       = 0x8003_0000
	LoaderSavedState  = 0x8003_8000
	LoaderStackTop    = LoaderSavedState
	LoaderStackNPages = 1

	// User stack, grows down from STACK_VTOP.
	StackVBottom = 0x3000_0000
	StackVTop    = 0x8000_0000

	// ROM mapping: identity-mapped, read-only, 2MiB.
	RomStart = 0x2040_0000
	RomSize  = 2 * 1024 * 1024

	// Earth+grass firmware image: identity-mapped, sits just below ROM.
	OSRegionStart = 0x2000_0000
	OSRegionSize  = RomStart - OSRegionStart

	// Frame cache window (ARTY only — direct-mapped passthrough on
	// platforms with enough DRAM).
	FrameCacheStart = 0x8004_0000
	FrameCacheSize  = 112 * 1024
)

// CoreMapStart is the canonical segfault test vector: any translation
// of this address must fail since nothing ever maps it.
const CoreMapStart = 0x8010_0000

// SyscallMsgLen is the fixed payload size of the shared syscall
// message slot.
const SyscallMsgLen = 256
