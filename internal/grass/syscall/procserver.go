package syscall

import (
	"errors"
	"fmt"

	"github.com/yacyam/egos-2000/internal/grass/proc"
)

// CmdNArgs/CmdArgLen bound the argv payload a PROC_SPAWN request
// carries. sys_proc.c/sys_shell.c reference CMD_NARGS/CMD_ARG_LEN from
// app.h, which was not present in the retrieved source tree; these
// values match the argv convention the loader trampoline seeds
// (addr.AppsArg) closely enough to exercise spawn/killall end to end,
// and are called out in DESIGN.md as an assumed constant.
const (
	CmdNArgs  = 8
	CmdArgLen = 32
)

// ProcRequestType is the message-payload type a process sends the
// process server over send/recv — distinct from the syscall opcodes
// in Type, which select the IPC primitive the message rides on.
type ProcRequestType int

const (
	ProcRequestUnused ProcRequestType = iota
	ProcRequestSpawn
	ProcRequestKillall
)

// CmdStatus is the process server's reply status, mirroring app.h's
// CMD_OK/CMD_ERROR.
type CmdStatus int

const (
	CmdOK CmdStatus = iota
	CmdError
)

// ProcRequest is the proc_request sent to GPID_PROCESS.
type ProcRequest struct {
	Type ProcRequestType
	Argc int
	Argv [CmdNArgs][CmdArgLen]byte
}

// ProcReply is the proc_reply the process server sends back for a
// PROC_SPAWN request. PROC_KILLALL never gets a reply, matching
// sys_shell.c's killall path (it sends and moves on without a recv).
type ProcReply struct {
	Status CmdStatus
	Pid    int
}

// ProcLoader loads the binary req names into the freshly allocated
// pid and marks it ready to run, mirroring app_spawn's dir_lookup +
// elf_load + proc_set_ready sequence. Resolving req.Argv[0] against a
// filesystem is outside this kernel core's scope (no directory/file
// server is implemented here); the capability layer supplies this.
type ProcLoader func(pid int, req *ProcRequest) error

// ProcServer is the GPID_PROCESS kernel process: it answers every
// PROC_SPAWN and PROC_KILLALL request delivered to it, grounded
// directly on sys_proc.c's main loop.
type ProcServer struct {
	table        *proc.Table
	firstUserPid int
	mmuFree      func(pid int)
	load         ProcLoader
}

// NewProcServer builds a process server over table. load performs the
// actual image load for a successful spawn.
func NewProcServer(table *proc.Table, firstUserPid int, mmuFree func(pid int), load ProcLoader) *ProcServer {
	return &ProcServer{table: table, firstUserPid: firstUserPid, mmuFree: mmuFree, load: load}
}

// Handle implements sys_proc.c's main loop body for one request from
// sender: PROC_SPAWN runs app_spawn's alloc/killall-retry/FATAL
// fallback and replies CMD_OK/CMD_ERROR with the new pid; PROC_KILLALL
// frees every user process and sends no reply; anything else is the
// switch's default case, which the reference firmware FATALs on.
func (s *ProcServer) Handle(sender int, req *ProcRequest) (*ProcReply, error) {
	switch req.Type {
	case ProcRequestSpawn:
		return s.spawn(sender, req)
	case ProcRequestKillall:
		s.table.Free(proc.GPIDAll, s.firstUserPid, s.mmuFree)
		return nil, nil
	default:
		return nil, fmt.Errorf("procserver: invalid request type %d from pid %d", req.Type, sender)
	}
}

func (s *ProcServer) spawn(sender int, req *ProcRequest) (*ProcReply, error) {
	pid, err := s.table.AllocOrKillall(sender, s.firstUserPid, s.mmuFree)
	if err != nil {
		if errors.Is(err, proc.ErrTableExhausted) {
			return nil, fmt.Errorf("procserver: %w", err)
		}
		return &ProcReply{Status: CmdError}, nil
	}

	if err := s.load(pid, req); err != nil {
		s.table.Free(pid, s.firstUserPid, s.mmuFree)
		return &ProcReply{Status: CmdError}, nil
	}
	return &ProcReply{Status: CmdOK, Pid: pid}, nil
}
