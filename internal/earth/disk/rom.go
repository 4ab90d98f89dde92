package disk

import (
	"fmt"

	"github.com/yacyam/egos-2000/internal/debug"
)

// ROM is the flash-ROM backend: storage is a fixed-size, memory-mapped
// image. Reads are a memcpy out of the mapping; writes always fail.
type ROM struct {
	log  debug.Debug
	data romMapping
}

type romMapping interface {
	Bytes() []byte
	Close() error
}

// NewROM opens path and maps it read-only.
func NewROM(path string, log debug.Debug) (*ROM, error) {
	m, err := mapROM(path)
	if err != nil {
		return nil, fmt.Errorf("disk: open rom %s: %w", path, err)
	}
	if log == nil {
		log = debug.WithSource("disk.rom")
	}
	return &ROM{log: log, data: m}, nil
}

func (r *ROM) Close() error { return r.data.Close() }

func (r *ROM) blockRange(blockNo, nblocks uint32) ([]byte, error) {
	data := r.data.Bytes()
	off := uint64(blockNo) * BlockSize
	size := uint64(nblocks) * BlockSize
	if off+size > uint64(len(data)) {
		return nil, fmt.Errorf("disk: rom read out of range: block %d+%d over %d blocks", blockNo, nblocks, len(data)/BlockSize)
	}
	return data[off : off+size], nil
}

func (r *ROM) Read(blockNo uint32, dst []byte) (bool, error) {
	src, err := r.blockRange(blockNo, 1)
	if err != nil {
		return false, err
	}
	copy(dst, src)
	return true, nil
}

func (r *ROM) Write(blockNo uint32, src []byte) (bool, error) {
	r.log.Writef("write to rom rejected: block %d", blockNo)
	return false, ErrReadOnly
}

func (r *ROM) KernelRead(blockNo, nblocks uint32, dst []byte) error {
	src, err := r.blockRange(blockNo, nblocks)
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (r *ROM) KernelWrite(blockNo, nblocks uint32, src []byte) error {
	return ErrReadOnly
}

func (r *ROM) OnRx() error { return nil }
