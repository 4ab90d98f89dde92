// Package disk implements C1: the block device driver. It boots either
// against a flash-ROM image (plain memcpy, read-only) or a microSD card
// driven by a byte-serial command state machine (§4.1) that runs
// interrupt-driven at runtime and falls back to synchronous polling
// during boot.
package disk

// BlockSize is the device's native transfer unit.
const BlockSize = 512

// Device is the capability C7 installs into the earth table: kernel code
// calls Read/Write on behalf of a blocked syscall (§4.6's disk syscall),
// and KernelRead/KernelWrite on behalf of trusted kernel callers (the ELF
// loader, the paging device) that are allowed to block synchronously.
type Device interface {
	// Read attempts to service a single-block read non-blockingly. It
	// returns done=false, err=nil when the caller should retry (the
	// command is still in flight or has not yet been issued) — the
	// syscall layer turns that into PROC_PENDING. Reading more than one
	// block through this path is not supported, mirroring the reference
	// firmware: multi-block transfers must go through KernelRead.
	Read(blockNo uint32, dst []byte) (done bool, err error)

	// Write is the write-side analog of Read.
	Write(blockNo uint32, src []byte) (done bool, err error)

	// KernelRead performs a blocking, possibly multi-block, synchronous
	// read. Only kernel code may call it.
	KernelRead(blockNo, nblocks uint32, dst []byte) error

	// KernelWrite is the write-side analog of KernelRead.
	KernelWrite(blockNo, nblocks uint32, src []byte) error

	// OnRx is the interrupt handler entry point for the external
	// interrupt path; ROM-backed devices implement it as a no-op.
	OnRx() error
}
