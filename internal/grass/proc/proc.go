// Package proc implements C5: the process table and the cooperative
// round-robin scheduler that drives it. Grounded on grass/process.c
// (status transitions, alloc/free) and grass/kernel.c's proc_yield
// (the scan-and-dispatch algorithm run on every trap).
package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/debug"
)

// Status is a process's lifecycle state.
type Status int

const (
	StatusUnused Status = iota
	StatusLoading
	StatusReady
	StatusRunning
	StatusRunnable
	StatusPending
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusUnused:
		return "unused"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusRunnable:
		return "runnable"
	case StatusPending:
		return "pending"
	case StatusZombie:
		return "zombie"
	default:
		return "invalid"
	}
}

// GPIDAll is the wildcard pid meaning "every user process", accepted by
// Free and by the send/recv receive-filter.
const GPIDAll = -1

// GPIDUnused is the parent pid of the first process the kernel creates.
const GPIDUnused = 0

// SavedRegisterCount mirrors SAVED_REGISTER_NUM: the trap frame saved
// on every entry into the kernel.
const SavedRegisterCount = 29

// Process is one process table slot.
type Process struct {
	Pid            int
	ParentPid      int
	Status         Status
	MEPC           uint32
	SavedRegisters [SavedRegisterCount]uint32
	PendingSyscall int
	ReceiveFrom    int
}

// ErrTableFull is returned by Alloc when every slot is in use.
var ErrTableFull = errors.New("proc: process table full")

// ErrTableExhausted is returned by AllocOrKillall when the table is
// still full after its free-all-and-retry fallback — the process
// server has no recourse left and must FATAL, per app_spawn.
var ErrTableExhausted = errors.New("proc: process table exhausted after killall retry")

// Table is the fixed-size process table.
type Table struct {
	mu      sync.Mutex
	procs   []Process
	currIdx int
	nextPid int
	log     debug.Debug
}

// New builds a table with nslots entries, all initially unused.
func New(nslots int, log debug.Debug) *Table {
	if log == nil {
		log = debug.WithSource("grass.proc")
	}
	return &Table{procs: make([]Process, nslots), log: log}
}

// Alloc finds the first unused slot, assigns it the next pid, and
// marks it loading.
func (t *Table) Alloc(parentPid int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.procs {
		if t.procs[i].Status == StatusUnused {
			t.nextPid++
			t.procs[i] = Process{Pid: t.nextPid, ParentPid: parentPid, Status: StatusLoading}
			return t.nextPid, nil
		}
	}
	return -1, fmt.Errorf("%w: %d slots", ErrTableFull, len(t.procs))
}

// AllocOrKillall implements app_spawn's allocation fallback: try Alloc
// once, and if the table is full, free every user process (the same
// operation killall triggers via PROC_KILLALL) and retry exactly once.
// A second failure is unrecoverable.
func (t *Table) AllocOrKillall(parentPid, firstUserPid int, mmuFree func(pid int)) (int, error) {
	pid, err := t.Alloc(parentPid)
	if err == nil {
		return pid, nil
	}
	if !errors.Is(err, ErrTableFull) {
		return -1, err
	}

	t.log.Writef("process table full, freeing all user processes and retrying alloc")
	t.Free(GPIDAll, firstUserPid, mmuFree)

	pid, err = t.Alloc(parentPid)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrTableExhausted, err)
	}
	return pid, nil
}

// Free releases pid, or every user process (pid ≥ firstUserPid) when
// pid is GPIDAll. mmuFree is invoked once per freed pid so the caller
// (wiring the MMU manager) can reclaim its frames.
func (t *Table) Free(pid, firstUserPid int, mmuFree func(pid int)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pid != GPIDAll {
		for i := range t.procs {
			if t.procs[i].Pid == pid {
				t.procs[i].Status = StatusUnused
			}
		}
		mmuFree(pid)
		return
	}

	for i := range t.procs {
		if t.procs[i].Pid >= firstUserPid && t.procs[i].Status != StatusUnused {
			freedPid := t.procs[i].Pid
			t.procs[i].Status = StatusUnused
			mmuFree(freedPid)
		}
	}
}

// Exit marks pid a zombie and reparents its children to pid's own
// parent, matching proc_exit.
func (t *Table) Exit(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parent int
	for i := range t.procs {
		if t.procs[i].Pid == pid {
			t.procs[i].Status = StatusZombie
			parent = t.procs[i].ParentPid
		}
	}
	t.log.Writef("pid %d exited, reparenting children to %d", pid, parent)
	for i := range t.procs {
		if t.procs[i].ParentPid == pid {
			t.procs[i].ParentPid = parent
		}
	}
}

// ReapZombieChild finds a zombie child of parentPid, frees it via
// mmuFree, and returns its pid.
func (t *Table) ReapZombieChild(parentPid int, mmuFree func(pid int)) (int, bool) {
	t.mu.Lock()
	for i := range t.procs {
		if t.procs[i].ParentPid == parentPid && t.procs[i].Status == StatusZombie {
			childPid := t.procs[i].Pid
			t.procs[i].Status = StatusUnused
			t.mu.Unlock()
			mmuFree(childPid)
			return childPid, true
		}
	}
	t.mu.Unlock()
	return 0, false
}

// Get returns a pointer to the slot holding pid, or nil.
func (t *Table) Get(pid int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.procs {
		if t.procs[i].Pid == pid {
			return &t.procs[i]
		}
	}
	return nil
}

// Current returns the currently scheduled process.
func (t *Table) Current() *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.procs[t.currIdx]
}

// SetEntry records the process's initial program counter, set once the
// loader has parsed its image (loader.Loader.Entry()).
func (t *Table) SetEntry(pid int, entry uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.procs {
		if t.procs[i].Pid == pid {
			t.procs[i].MEPC = entry
		}
	}
}

// SetReady transitions a loading process to ready, the last step
// before the scheduler first dispatches it.
func (t *Table) SetReady(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.procs {
		if t.procs[i].Pid == pid {
			t.procs[i].Status = StatusReady
		}
	}
}

// argcRegisterIndex/argvRegisterIndex are the argc/argv convention
// every freshly-ready process is seeded with — the loader trampoline
// itself reads these, so their indices must match SAVED_REGISTER_ADDR's
// a0/a1 slots exactly as kernel.c's proc_yield does.
const (
	argcRegisterIndex = 8
	argvRegisterIndex = 9
)
