package capability

import (
	"github.com/yacyam/egos-2000/internal/grass/proc"
	"github.com/yacyam/egos-2000/internal/grass/syscall"
)

// Mode mirrors struct grass's privilege-metadata field: MODE_KERNEL
// while control is in the grass layer itself, MODE_USER once it has
// mret'd into a process.
type Mode int

const (
	ModeKernel Mode = iota
	ModeUser
)

// Grass is the grass capability table: process control plus the
// syscall interface, installed once at boot and driven by the trap
// handler thereafter.
type Grass struct {
	Table      *proc.Table
	Scheduler  *proc.Scheduler
	Dispatcher *syscall.Dispatcher
	ProcServer *syscall.ProcServer
	Mode       Mode
}

// ProcAlloc implements grass->proc_alloc.
func (g *Grass) ProcAlloc(parentPid int) (int, error) { return g.Table.Alloc(parentPid) }

// ProcFree implements grass->proc_free.
func (g *Grass) ProcFree(pid, firstUserPid int, mmuFree func(int)) {
	g.Table.Free(pid, firstUserPid, mmuFree)
}

// ProcSetReady implements grass->proc_set_ready.
func (g *Grass) ProcSetReady(pid int) { g.Table.SetReady(pid) }
