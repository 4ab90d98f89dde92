package capability

import (
	"fmt"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/earth/disk"
	"github.com/yacyam/egos-2000/internal/earth/framemap"
	"github.com/yacyam/egos-2000/internal/earth/mmu"
	"github.com/yacyam/egos-2000/internal/earth/pagecache"
	"github.com/yacyam/egos-2000/internal/grass/proc"
	"github.com/yacyam/egos-2000/internal/grass/syscall"
	"github.com/yacyam/egos-2000/internal/loader"
)

// Platform mirrors struct earth's platform enum: ARTY's 112KB frame
// cache window is too small to back every process directly, so it is
// paged against disk through a pagecache.Cache; the QEMU targets have
// enough simulated DRAM to map frames straight out of the core map.
type Platform int

const (
	PlatformQEMULatest Platform = iota
	PlatformQEMUSifive
	PlatformArty
)

// Config describes the boot-time resources Boot wires together. Disk
// and TTY are supplied by the caller (cmd/egos constructs the real
// ROM/SD device and terminal); everything downstream of them is built
// here exactly as grass.c's main() builds it.
type Config struct {
	Disk         disk.Device
	TTY          syscall.TTY
	Platform     Platform
	NumFrames    int
	NumProcSlots int
	FirstUserPid int
	Log          debug.Debug
}

// Boot assembles the earth and grass capability tables and loads
// GPID_PROCESS, the first kernel process, exactly as grass.c's main()
// does: allocate its page table, install its fixed mappings, parse its
// ELF image for the entry point, and mark it ready so the very first
// Scheduler.Yield dispatches into its loader trampoline.
func Boot(cfg Config) (*Earth, *Grass, error) {
	log := cfg.Log
	if log == nil {
		log = debug.WithSource("capability.boot")
	}

	frames := framemap.New(cfg.NumFrames, log)
	m := mmu.New(frames, log)

	var cache *pagecache.Cache
	if cfg.Platform == PlatformArty {
		// The frame cache window is the only "DRAM" ARTY has; everything
		// else pages through disk.
		cache = pagecache.New(addr.FrameCacheSize/addr.PageSize, cfg.Disk, log)
	}

	e := NewEarth(cfg.Disk, m)
	e.Platform = cfg.Platform
	e.PageCache = cache

	table := proc.New(cfg.NumProcSlots, log)

	const bootParent = proc.GPIDUnused
	pid, err := table.Alloc(bootParent)
	if err != nil {
		return nil, nil, fmt.Errorf("capability: boot alloc GPID_PROCESS: %w", err)
	}

	if err := m.AllocFixed(pid, mmu.DefaultLayout()); err != nil {
		return nil, nil, fmt.Errorf("capability: boot AllocFixed pid %d: %w", pid, err)
	}

	const loaderExecStart = 0 // LOADER_EXEC_START: block 0 of the kernel image
	reader := func(blockNo uint32, dst []byte) error {
		return cfg.Disk.KernelRead(loaderExecStart+blockNo, 1, dst)
	}
	ld, err := loader.New(pid, reader, m, log)
	if err != nil {
		return nil, nil, fmt.Errorf("capability: boot load GPID_PROCESS: %w", err)
	}
	table.SetEntry(pid, ld.Entry())
	table.SetReady(pid)

	disp := syscall.NewDispatcher(table, cfg.Disk, cfg.TTY, m.Map, m.Free, log)
	sched := proc.NewScheduler(table, e, disp, cfg.FirstUserPid, log)
	sched.RegisterLoader(pid, ld)

	// sys_proc.c's app_spawn resolves argv[0] to an inode through
	// dir_lookup before elf_load; no directory/file server is part of
	// this kernel core, so spawn requests fail loudly rather than
	// silently no-op. The alloc/killall-retry/FATAL fallback and the
	// killall message itself are fully wired and exercised regardless.
	procServer := syscall.NewProcServer(table, cfg.FirstUserPid, m.Free, func(spawnedPid int, req *syscall.ProcRequest) error {
		return fmt.Errorf("capability: app lookup is unavailable (no filesystem module); cannot spawn pid %d", spawnedPid)
	})

	log.Writef("grass layer ready, GPID_PROCESS=%d entry=0x%08x", pid, ld.Entry())

	return e, &Grass{Table: table, Scheduler: sched, Dispatcher: disp, ProcServer: procServer, Mode: ModeKernel}, nil
}
