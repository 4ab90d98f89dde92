//go:build !windows

package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// unixROMMapping memory-maps the ROM image, matching the reference
// firmware's treatment of flash as memory-mapped at a fixed base address.
type unixROMMapping struct {
	f    *os.File
	data []byte
}

func mapROM(path string) (romMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("rom image %s is empty", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &unixROMMapping{f: f, data: data}, nil
}

func (m *unixROMMapping) Bytes() []byte { return m.data }

func (m *unixROMMapping) Close() error {
	err := unix.Munmap(m.data)
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
