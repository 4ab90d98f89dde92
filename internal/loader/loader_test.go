package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/earth/framemap"
	"github.com/yacyam/egos-2000/internal/earth/mmu"
)

// buildImage lays out a minimal one-segment ELF32 image: a header, one
// PT_LOAD program header, and nblocks worth of payload starting right
// after block 0.
func buildImage(vaddr, filesz, memsz uint32, payload []byte) []byte {
	const headerSize = 52
	img := make([]byte, addr.BlockSize+len(payload))

	img[0], img[1], img[2], img[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	img[4] = elfClass32
	img[5] = elfData2LSB

	binary.LittleEndian.PutUint32(img[24:28], vaddr) // e_entry
	binary.LittleEndian.PutUint32(img[28:32], headerSize)
	binary.LittleEndian.PutUint16(img[44:46], 1) // e_phnum

	ph := img[headerSize : headerSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], addr.BlockSize) // p_offset: block 1
	binary.LittleEndian.PutUint32(ph[8:12], vaddr)
	binary.LittleEndian.PutUint32(ph[16:20], filesz)
	binary.LittleEndian.PutUint32(ph[20:24], memsz)

	copy(img[addr.BlockSize:], payload)
	return img
}

func readerOver(img []byte) BlockReader {
	return func(blockNo uint32, dst []byte) error {
		off := int(blockNo) * addr.BlockSize
		copy(dst, img[off:off+addr.BlockSize])
		return nil
	}
}

func TestParseSegmentsAddsSyntheticStack(t *testing.T) {
	img := buildImage(0x3000_0000, addr.PageSize, addr.PageSize, bytes.Repeat([]byte{1}, addr.PageSize))
	table, err := ParseSegments(readerOver(img))
	if err != nil {
		t.Fatalf("ParseSegments: %v", err)
	}
	if len(table.Segments) != 2 {
		t.Fatalf("expected 1 PT_LOAD + 1 stack segment, got %d", len(table.Segments))
	}
	stack := table.Segments[1]
	if stack.BaseVaddr != addr.StackVBottom || stack.MemSz != addr.StackVTop-addr.StackVBottom {
		t.Fatalf("unexpected stack segment: %+v", stack)
	}
}

func TestOnFaultReadsFileBackedPage(t *testing.T) {
	const base = 0x3000_0000
	payload := bytes.Repeat([]byte{0xAB}, addr.PageSize)
	img := buildImage(base, addr.PageSize, addr.PageSize, payload)

	frames := framemap.New(64, nil)
	m := mmu.New(frames, nil)
	l, err := New(1, readerOver(img), m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.OnFault(base); err != nil {
		t.Fatalf("OnFault: %v", err)
	}

	frameID, err := m.Find(1, base)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !bytes.Equal(m.Bytes(frameID), payload) {
		t.Fatal("page contents did not match file-backed payload")
	}
}

func TestOnFaultZeroesBSSPage(t *testing.T) {
	const base = 0x3000_0000
	// filesz 0: whole segment is bss, so any fault in it must zero.
	img := buildImage(base, 0, addr.PageSize, nil)

	frames := framemap.New(64, nil)
	m := mmu.New(frames, nil)
	l, err := New(1, readerOver(img), m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.OnFault(base); err != nil {
		t.Fatalf("OnFault: %v", err)
	}

	frameID, err := m.Find(1, base)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	var zero [addr.PageSize]byte
	if !bytes.Equal(m.Bytes(frameID), zero[:]) {
		t.Fatal("bss page should have been zeroed")
	}
}

func TestOnFaultOutsideAnySegmentIsSegfault(t *testing.T) {
	img := buildImage(0x3000_0000, addr.PageSize, addr.PageSize, bytes.Repeat([]byte{1}, addr.PageSize))
	frames := framemap.New(64, nil)
	m := mmu.New(frames, nil)
	l, err := New(1, readerOver(img), m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.OnFault(0x9000_0000); !errors.Is(err, ErrSegfault) {
		t.Fatalf("expected ErrSegfault, got %v", err)
	}
}

func TestOnFaultMisalignedSegmentIsFatal(t *testing.T) {
	// Base vaddr not page-aligned: any fault inside its filesz range
	// must fail instead of silently reading a wrong block.
	const base = 0x3000_0123
	img := buildImage(base, addr.PageSize, addr.PageSize, bytes.Repeat([]byte{1}, addr.PageSize))

	frames := framemap.New(64, nil)
	m := mmu.New(frames, nil)
	l, err := New(1, readerOver(img), m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.OnFault(base); !errors.Is(err, ErrMisalignedSegment) {
		t.Fatalf("expected ErrMisalignedSegment, got %v", err)
	}
}
