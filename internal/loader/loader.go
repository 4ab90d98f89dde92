package loader

import (
	"errors"
	"fmt"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/earth/mmu"
)

// ErrSegfault is returned when a faulting address falls outside every
// known segment — the caller must terminate the process.
var ErrSegfault = errors.New("loader: segfault")

// ErrMisalignedSegment is fatal at load time: the design does not
// support two segments sharing a page, so a segment whose base isn't
// page-aligned can never be paged in correctly.
var ErrMisalignedSegment = errors.New("loader: segment is not page-aligned")

// Loader materializes pages of a single process's image on demand.
type Loader struct {
	pid    int
	table  *SegmentTable
	reader BlockReader
	mmu    *mmu.Manager
	log    debug.Debug
}

// New parses reader's image and returns a Loader ready to service page
// faults for pid. The caller is responsible for seeding the initial
// register file from Entry(), addr.StackVTop, and the argc/argv convention.
func New(pid int, reader BlockReader, m *mmu.Manager, log debug.Debug) (*Loader, error) {
	table, err := ParseSegments(reader)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = debug.WithSource("loader")
	}
	return &Loader{pid: pid, table: table, reader: reader, mmu: m, log: log}, nil
}

// Entry is the process's initial program counter.
func (l *Loader) Entry() uint32 { return l.table.Entry }

// OnFault services a single page fault at vaddr: find the owning
// segment, ask the MMU for an arbitrary physical frame, then either
// read the segment's file contents into the page (if vaddr falls
// within filesz) or zero it (bss, stack, heap). The segment's base
// must be page-aligned; a segment that isn't is a load-time defect,
// not a runtime recoverable condition.
func (l *Loader) OnFault(vaddr uint32) error {
	segIdx, ok := l.table.Find(vaddr)
	if !ok {
		l.log.Writef("segfault: pid %d vaddr 0x%08x", l.pid, vaddr)
		return fmt.Errorf("%w: vaddr 0x%08x", ErrSegfault, vaddr)
	}
	seg := l.table.Segments[segIdx]

	frameID, err := l.mmu.Map(l.pid, vaddr)
	if err != nil {
		return fmt.Errorf("loader: map vaddr 0x%08x: %w", vaddr, err)
	}
	page := l.mmu.Bytes(frameID)

	vpa := vaddr &^ (addr.PageSize - 1)

	if vaddr-seg.BaseVaddr < seg.FileSz {
		if (vpa-seg.BaseVaddr)%addr.PageSize != 0 {
			return fmt.Errorf("%w: page 0x%08x, segment base 0x%08x", ErrMisalignedSegment, vpa, seg.BaseVaddr)
		}

		blockNo := seg.FileBlockOffset + (vpa-seg.BaseVaddr)/addr.BlockSize
		for off := uint32(0); off < addr.PageSize; off += addr.BlockSize {
			if err := l.reader(blockNo, page[off:off+addr.BlockSize]); err != nil {
				return fmt.Errorf("loader: read block %d: %w", blockNo, err)
			}
			blockNo++
		}
		return nil
	}

	for i := range page {
		page[i] = 0
	}
	return nil
}
