package capability

import (
	"encoding/binary"
	"testing"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/grass/proc"
	"github.com/yacyam/egos-2000/internal/grass/syscall"
)

// elfImage lays out the same minimal one-segment ELF32 image the
// loader's own tests build, so Boot has something real to parse out of
// block 0 of the kernel image.
func elfImage(entry uint32) []byte {
	const (
		headerSize = 52
		phdrSize   = 32
		ptLoad     = 1
	)
	img := make([]byte, addr.BlockSize+addr.PageSize)
	img[0], img[1], img[2], img[3] = 0x7F, 'E', 'L', 'F'
	img[4] = 1 // ELFCLASS32
	img[5] = 1 // ELFDATA2LSB

	binary.LittleEndian.PutUint32(img[24:28], entry)
	binary.LittleEndian.PutUint32(img[28:32], headerSize)
	binary.LittleEndian.PutUint16(img[44:46], 1)

	ph := img[headerSize : headerSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], addr.BlockSize)
	binary.LittleEndian.PutUint32(ph[8:12], entry)
	binary.LittleEndian.PutUint32(ph[16:20], addr.PageSize)
	binary.LittleEndian.PutUint32(ph[20:24], addr.PageSize)
	return img
}

type fakeDisk struct {
	image []byte
}

func (d *fakeDisk) Read(blockNo uint32, dst []byte) (bool, error) { return true, d.KernelRead(blockNo, 1, dst) }
func (d *fakeDisk) Write(blockNo uint32, src []byte) (bool, error) {
	return true, d.KernelWrite(blockNo, 1, src)
}
func (d *fakeDisk) KernelRead(blockNo, nblocks uint32, dst []byte) error {
	off := int(blockNo) * addr.BlockSize
	n := int(nblocks) * addr.BlockSize
	if off+n > len(d.image) {
		grown := make([]byte, off+n)
		copy(grown, d.image)
		d.image = grown
	}
	copy(dst, d.image[off:off+n])
	return nil
}
func (d *fakeDisk) KernelWrite(blockNo, nblocks uint32, src []byte) error {
	off := int(blockNo) * addr.BlockSize
	n := int(nblocks) * addr.BlockSize
	if off+n > len(d.image) {
		grown := make([]byte, off+n)
		copy(grown, d.image)
		d.image = grown
	}
	copy(d.image[off:off+n], src)
	return nil
}
func (d *fakeDisk) OnRx() error { return nil }

type fakeTTY struct{}

func (fakeTTY) Read(buf []byte) (int, error)               { return len(buf), nil }
func (fakeTTY) Write(buf []byte, length int) (int, error) { return length, nil }

func TestBootLoadsFirstProcessAndMarksItReady(t *testing.T) {
	const entry = 0x3000_0000
	d := &fakeDisk{image: elfImage(entry)}

	e, g, err := Boot(Config{
		Disk:         d,
		TTY:          fakeTTY{},
		Platform:     PlatformQEMULatest,
		NumFrames:    64,
		NumProcSlots: 4,
		FirstUserPid: 2,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if e.PageCache != nil {
		t.Fatal("non-ARTY platform should not build a page cache")
	}

	p := g.Table.Current()
	if p.Pid != 1 || p.Status != proc.StatusReady {
		t.Fatalf("expected GPID_PROCESS ready as pid 1, got %+v", p)
	}
	if p.MEPC != entry {
		t.Fatalf("expected MEPC seeded to entry 0x%x, got 0x%x", entry, p.MEPC)
	}
}

func TestBootOnArtyBuildsAPageCache(t *testing.T) {
	d := &fakeDisk{image: elfImage(0x3000_0000)}
	e, _, err := Boot(Config{
		Disk:         d,
		TTY:          fakeTTY{},
		Platform:     PlatformArty,
		NumFrames:    16,
		NumProcSlots: 2,
		FirstUserPid: 2,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if e.PageCache == nil {
		t.Fatal("ARTY platform should build a page cache")
	}
}

func TestSchedulerYieldReschedulesTheSoleBootedProcess(t *testing.T) {
	d := &fakeDisk{image: elfImage(0x3000_0000)}
	_, g, err := Boot(Config{
		Disk:         d,
		TTY:          fakeTTY{},
		Platform:     PlatformQEMULatest,
		NumFrames:    64,
		NumProcSlots: 2,
		FirstUserPid: 2,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	g.Table.Current().Status = proc.StatusRunning
	g.Scheduler.Yield()

	if g.Table.Current().Status != proc.StatusRunning {
		t.Fatalf("the sole schedulable process should be running again, got %s", g.Table.Current().Status)
	}
}

func TestProcServerKillallSurvivesARealBoot(t *testing.T) {
	d := &fakeDisk{image: elfImage(0x3000_0000)}
	_, g, err := Boot(Config{
		Disk:         d,
		TTY:          fakeTTY{},
		Platform:     PlatformQEMULatest,
		NumFrames:    64,
		NumProcSlots: 2,
		FirstUserPid: 2,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	reply, err := g.ProcServer.Handle(g.Table.Current().Pid, &syscall.ProcRequest{Type: syscall.ProcRequestKillall})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != nil {
		t.Fatalf("killall should send no reply, got %+v", reply)
	}
	if g.Table.Current().Status != proc.StatusReady {
		t.Fatal("GPID_PROCESS is below firstUserPid and should survive killall")
	}
}

func TestProcServerRejectsSpawnWithoutAFilesystem(t *testing.T) {
	d := &fakeDisk{image: elfImage(0x3000_0000)}
	_, g, err := Boot(Config{
		Disk:         d,
		TTY:          fakeTTY{},
		Platform:     PlatformQEMULatest,
		NumFrames:    64,
		NumProcSlots: 2,
		FirstUserPid: 2,
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	reply, err := g.ProcServer.Handle(g.Table.Current().Pid, &syscall.ProcRequest{Type: syscall.ProcRequestSpawn})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply == nil || reply.Status != syscall.CmdError {
		t.Fatalf("expected CmdError: no filesystem module resolves the binary, got %+v", reply)
	}
}
