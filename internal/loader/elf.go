// Package loader implements C4: an ELF loader with fault-driven page-in.
// Grounded on earth/ld/loader.c and library/elf/elf.c: a process's
// image is parsed once into a segment table (program headers plus a
// synthetic stack segment), and individual pages are materialized only
// when the MMU reports a fault against them.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yacyam/egos-2000/internal/addr"
)

// ErrBadELF covers any structural problem with the first block of the
// image: bad magic, a program header table that doesn't fit within it,
// or an unsupported class/endianness.
var ErrBadELF = errors.New("loader: malformed elf image")

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7F, 'E', 'L', 'F'
	elfClass32                                 = 1
	elfData2LSB                                = 1
	phdrSize                                   = 32

	// PT_LOAD.
	ptLoad = 1
)

// BlockReader reads one BlockSize-sized block of a process image into
// dst, addressed relative to wherever the image starts on the device.
type BlockReader func(blockNo uint32, dst []byte) error

// Segment is one loadable region of the address space: either a
// program header translated directly (base_vaddr, rwx, memsz, filesz,
// fileoff) or the synthetic stack segment with filesz=0.
type Segment struct {
	BaseVaddr       uint32
	RWX             uint32
	MemSz           uint32
	FileSz          uint32
	FileBlockOffset uint32
}

// SegmentTable is a process's fully parsed memory layout.
type SegmentTable struct {
	Segments []Segment
	Entry    uint32
}

// Find returns the index of the segment containing vaddr, matching
// segtbl_find's inclusive-at-the-top bounds check.
func (t *SegmentTable) Find(vaddr uint32) (int, bool) {
	for i, s := range t.Segments {
		if vaddr-s.BaseVaddr <= s.MemSz {
			return i, true
		}
	}
	return -1, false
}

// ParseSegments reads block 0 of an image via reader, interprets it as
// a 32-bit little-endian ELF header, and builds the segment table from
// its program headers plus a synthetic stack segment spanning
// [StackVBottom, StackVTop). The header and every program header must
// fit within the first block — matching the reference loader, which
// never reads a second block before building the table.
func ParseSegments(reader BlockReader) (*SegmentTable, error) {
	var buf [addr.BlockSize]byte
	if err := reader(0, buf[:]); err != nil {
		return nil, fmt.Errorf("loader: read elf header: %w", err)
	}

	if buf[0] != elfMagic0 || buf[1] != elfMagic1 || buf[2] != elfMagic2 || buf[3] != elfMagic3 {
		return nil, fmt.Errorf("%w: bad magic", ErrBadELF)
	}
	if buf[4] != elfClass32 {
		return nil, fmt.Errorf("%w: not ELFCLASS32", ErrBadELF)
	}
	if buf[5] != elfData2LSB {
		return nil, fmt.Errorf("%w: not little-endian", ErrBadELF)
	}

	entry := binary.LittleEndian.Uint32(buf[24:28])
	phoff := binary.LittleEndian.Uint32(buf[28:32])
	phnum := binary.LittleEndian.Uint16(buf[44:46])

	table := &SegmentTable{Entry: entry, Segments: make([]Segment, 0, int(phnum)+1)}

	for i := uint16(0); i < phnum; i++ {
		base := phoff + uint32(i)*phdrSize
		if base+phdrSize > addr.BlockSize {
			return nil, fmt.Errorf("%w: program header %d falls outside block 0", ErrBadELF, i)
		}

		pType := binary.LittleEndian.Uint32(buf[base : base+4])
		if pType != ptLoad {
			continue
		}

		pOffset := binary.LittleEndian.Uint32(buf[base+4 : base+8])
		pVaddr := binary.LittleEndian.Uint32(buf[base+8 : base+12])
		pFilesz := binary.LittleEndian.Uint32(buf[base+16 : base+20])
		pMemsz := binary.LittleEndian.Uint32(buf[base+20 : base+24])
		pFlags := binary.LittleEndian.Uint32(buf[base+24 : base+28])

		table.Segments = append(table.Segments, Segment{
			BaseVaddr:       pVaddr,
			RWX:             pFlags,
			MemSz:           pMemsz,
			FileSz:          pFilesz,
			FileBlockOffset: pOffset / addr.BlockSize,
		})
	}

	table.Segments = append(table.Segments, Segment{
		BaseVaddr: addr.StackVBottom,
		MemSz:     addr.StackVTop - addr.StackVBottom,
	})

	return table, nil
}
