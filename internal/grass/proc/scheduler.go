package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/loader"
	"github.com/yacyam/egos-2000/internal/timeslice"
)

// yieldKind tags every proc_yield context switch in a timeslice trace
// recorded with WithTrace. Each slice's duration is the wall-clock time
// since the previous recorded yield (or since the recorder was
// created), so it covers the time the previous process ran as well as
// the scan itself.
var yieldKind = timeslice.RegisterKind("proc_yield", 0)

// Earth is the subset of capability C1/C3 operations the scheduler
// needs: switching page tables and pacing the timer interrupt.
type Earth interface {
	MMUSwitch(pid int)
	TimerReset()
	TimerEnable()
	TimerDisable()
	WaitForInterrupt()
}

// Dispatcher runs a process's posted or pending syscall, mutating its
// Status/PendingSyscall exactly as kernel.c's proc_syscall does:
// would-block moves it to StatusPending with PendingSyscall set;
// success or error moves it to StatusRunnable.
type Dispatcher interface {
	Dispatch(p *Process)
}

// Loader services a memory-access exception for one process by paging
// in the faulting address, the interface a *loader.Loader satisfies.
type Loader interface {
	OnFault(vaddr uint32) error
}

// Scheduler is the cooperative-preemptive round-robin scheduler over a
// Table.
type Scheduler struct {
	table        *Table
	earth        Earth
	dispatch     Dispatcher
	firstUserPid int
	log          debug.Debug
	rec          *timeslice.Recorder

	loaderMu sync.Mutex
	loaders  map[int]Loader
}

// RegisterLoader associates pid with the Loader that services its page
// faults. The capability layer calls this once per process as it is
// loaded — at boot for GPID_PROCESS, and again whenever the process
// server spawns a new one.
func (s *Scheduler) RegisterLoader(pid int, ld Loader) {
	s.loaderMu.Lock()
	defer s.loaderMu.Unlock()
	if s.loaders == nil {
		s.loaders = make(map[int]Loader)
	}
	s.loaders[pid] = ld
}

// WithTrace attaches a timeslice recorder: every subsequent Yield is
// logged as a proc_yield slice whose duration is the time elapsed since
// the previous one, so a tracedump shows the spacing of context switches.
func (s *Scheduler) WithTrace(rec *timeslice.Recorder) *Scheduler {
	s.rec = rec
	return s
}

// NewScheduler builds a scheduler. firstUserPid is the lowest pid
// considered a user/shell process rather than a privileged server
// (GPID_SHELL in the reference firmware): servers below it are never
// preempted by a bare timer tick and always run with the timer
// disabled between traps.
func NewScheduler(table *Table, earth Earth, dispatch Dispatcher, firstUserPid int, log debug.Debug) *Scheduler {
	if log == nil {
		log = debug.WithSource("grass.sched")
	}
	return &Scheduler{table: table, earth: earth, dispatch: dispatch, firstUserPid: firstUserPid, log: log}
}

// HandleTimer implements the timer branch of intr_entry: a privileged
// server absorbs the tick without yielding; anyone else yields.
func (s *Scheduler) HandleTimer() {
	if s.table.Current().Pid < s.firstUserPid {
		s.earth.TimerReset()
		return
	}
	s.Yield()
}

// HandleSoftware implements the software-interrupt/env-call branch:
// run the syscall dispatcher once, then yield.
func (s *Scheduler) HandleSoftware() {
	s.dispatch.Dispatch(s.table.Current())
	s.Yield()
}

// HandleExternal implements the external-interrupt branch: fan out to
// the device handler, then yield.
func (s *Scheduler) HandleExternal(onExternal func()) {
	onExternal()
	s.Yield()
}

// HandleException implements excp_entry: a memory-access exception at
// the current process's EPC is routed to its loader's fault handler.
// A successful page-in returns so the same instruction re-executes in
// the same process; ErrSegfault kills the offending process (the
// kernel and every other process survive) and yields to the next
// runnable one; anything else is an unrecoverable load-time defect
// (such as a misaligned segment) and is returned to the caller.
func (s *Scheduler) HandleException(vaddr uint32) error {
	p := s.table.Current()

	s.loaderMu.Lock()
	ld, ok := s.loaders[p.Pid]
	s.loaderMu.Unlock()
	if !ok {
		return fmt.Errorf("proc: no loader registered for pid %d", p.Pid)
	}

	err := ld.OnFault(vaddr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, loader.ErrSegfault) {
		return err
	}

	s.log.Writef("pid %d segfaulted at 0x%08x, killing", p.Pid, vaddr)
	s.table.Exit(p.Pid)
	s.Yield()
	return nil
}

// Yield implements proc_yield: scan round-robin for the next runnable
// process, retrying any pending syscalls encountered along the way,
// and dispatch into it.
func (s *Scheduler) Yield() {
	if s.rec != nil {
		defer s.rec.Record(yieldKind)
	}

	n := len(s.table.procs)
	nextIdx := -1

	for nextIdx == -1 {
		for i := 1; i <= n; i++ {
			idx := (s.table.currIdx + i) % n
			p := &s.table.procs[idx]

			if p.Status == StatusPending {
				s.earth.MMUSwitch(p.Pid)
				s.dispatch.Dispatch(p)
			}
			if p.Status == StatusReady || p.Status == StatusRunning || p.Status == StatusRunnable {
				nextIdx = idx
				break
			}
		}

		if nextIdx == -1 {
			s.earth.WaitForInterrupt()
		}
	}

	if s.table.procs[s.table.currIdx].Status == StatusRunning {
		s.table.procs[s.table.currIdx].Status = StatusRunnable
	}

	s.table.currIdx = nextIdx
	next := &s.table.procs[nextIdx]

	s.earth.MMUSwitch(next.Pid)
	s.earth.TimerReset()

	if next.Pid < s.firstUserPid {
		s.earth.TimerDisable()
	} else {
		s.earth.TimerEnable()
	}

	if next.Status == StatusReady {
		next.SavedRegisters[argcRegisterIndex] = addr.AppsArg
		next.SavedRegisters[argvRegisterIndex] = addr.AppsArg + 4
		// Every process, server or app, first runs the in-process ELF
		// loader trampoline; MEPC was seeded with that entry point by
		// SetEntry.
	}

	next.Status = StatusRunning
}
