// Package syscall implements C6: the syscall ABI and its dispatcher,
// including the single-slot rendezvous IPC. Grounded on
// grass/syscall.h's enum/struct layout and grass/kernel.c's
// proc_syscall/proc_send/proc_recv/proc_wait/proc_exit family.
//
// The reference firmware marshals every syscall's arguments through a
// raw shared memory page that the kernel memcpy's out of by hand; this
// package keeps the same operations and retry semantics but carries
// their arguments as typed Go fields on Call rather than requiring the
// dispatcher to walk a virtual address through the MMU to find them.
package syscall

import (
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/debug"
	"github.com/yacyam/egos-2000/internal/grass/proc"
)

// Type is a syscall's opcode.
type Type int

const (
	TypeUnused Type = iota
	TypeRecv
	TypeSend
	TypeExit
	TypeWait
	TypeDiskRead
	TypeDiskWrite
	TypeTTYRead
	TypeTTYWrite
	TypeVMMap
)

// Message is the send/recv payload: sender, receiver, and content.
type Message struct {
	Sender   int
	Receiver int
	Content  [addr.SyscallMsgLen]byte
}

// DiskArgs carries the disk(block_no, nblocks, buf, rw) arguments.
type DiskArgs struct {
	BlockNo uint32
	NBlocks uint32
	Buf     []byte
}

// TTYArgs carries the tty(buf, len, rw) arguments.
type TTYArgs struct {
	Buf []byte
	Len uint32
}

// VMMapArgs carries vm_map(vaddr)'s argument.
type VMMapArgs struct {
	Vaddr uint32
}

// Call is one process's syscall argument page: the caller fills it in
// and posts it with Dispatcher.Post, then spins until Type resets to
// TypeUnused.
type Call struct {
	Type     Type
	Msg      Message
	Disk     DiskArgs
	TTY      TTYArgs
	VMMap    VMMapArgs
	ChildPid int // out: reaped zombie's pid, for Wait
	RetVal   int
}

// Disk is the block-I/O capability the dispatcher forwards to (C1).
type Disk interface {
	KernelRead(blockNo, nblocks uint32, dst []byte) error
	KernelWrite(blockNo, nblocks uint32, src []byte) error
}

// TTY is the terminal capability the dispatcher forwards to.
type TTY interface {
	Read(buf []byte) (int, error)
	Write(buf []byte, length int) (int, error)
}

// pendingIPC is the single-slot rendezvous buffer shared by every
// process — send blocks until the addressed receiver is already
// pending on a matching recv.
type pendingIPC struct {
	inUse    bool
	sender   int
	receiver int
	msg      [addr.SyscallMsgLen]byte
}

// Dispatcher runs posted and retried syscalls against a process table.
type Dispatcher struct {
	mu      sync.Mutex
	table   *proc.Table
	calls   map[int]*Call
	pending pendingIPC

	disk    Disk
	tty     TTY
	mmuMap  func(pid int, vaddr uint32) (uint32, error)
	mmuFree func(pid int)

	log debug.Debug
}

// NewDispatcher wires a Dispatcher against the concrete C1/C3
// capabilities it forwards disk, tty, and vm_map syscalls to.
func NewDispatcher(table *proc.Table, disk Disk, tty TTY, mmuMap func(pid int, vaddr uint32) (uint32, error), mmuFree func(pid int), log debug.Debug) *Dispatcher {
	if log == nil {
		log = debug.WithSource("grass.syscall")
	}
	return &Dispatcher{
		table:   table,
		calls:   make(map[int]*Call),
		disk:    disk,
		tty:     tty,
		mmuMap:  mmuMap,
		mmuFree: mmuFree,
		log:     log,
	}
}

// Post installs call as pid's outstanding syscall request. The
// scheduler's software-interrupt path (proc.Scheduler.HandleSoftware)
// picks it up on its next Dispatch.
func (d *Dispatcher) Post(pid int, call *Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[pid] = call
}

// Dispatch implements proc_syscall: run p's posted (or, if p is
// StatusPending, previously would-blocked) syscall once. A would-block
// result re-arms p as pending with PendingSyscall recorded for the next
// retry; anything else releases the caller and resets Type to
// TypeUnused, with RetVal 0 on success and -1 on a hard error.
func (d *Dispatcher) Dispatch(p *proc.Process) {
	d.mu.Lock()
	defer d.mu.Unlock()

	call, ok := d.calls[p.Pid]
	if !ok {
		return
	}

	var rc int
	switch call.Type {
	case TypeRecv:
		rc = d.recv(call, p)
	case TypeSend:
		rc = d.send(call, p)
	case TypeWait:
		rc = d.wait(call, p)
	case TypeExit:
		d.exit(call, p)
		return
	case TypeDiskRead, TypeDiskWrite:
		rc = d.diskOp(call)
	case TypeTTYRead, TypeTTYWrite:
		rc = d.ttyOp(call)
	case TypeVMMap:
		rc = d.vmMap(call, p)
	default:
		panic(fmt.Sprintf("syscall: unknown type %d", call.Type))
	}

	if rc == -1 {
		p.Status = proc.StatusPending
		p.PendingSyscall = int(call.Type)
		return
	}

	p.Status = proc.StatusRunnable
	call.Type = TypeUnused
	if rc == 0 {
		call.RetVal = 0
	} else {
		call.RetVal = -1
	}
}

// send implements proc_send: succeeds only if the destination exists
// and is currently pending on a recv whose filter accepts this sender.
func (d *Dispatcher) send(call *Call, sender *proc.Process) int {
	if d.pending.inUse {
		return -1
	}

	dst := d.table.Get(call.Msg.Receiver)
	if dst == nil {
		return -2
	}
	if dst.Status != proc.StatusPending || dst.PendingSyscall != int(TypeRecv) {
		return -1
	}

	dstCall, ok := d.calls[dst.Pid]
	if !ok {
		return -1
	}
	if dstCall.Msg.Sender != proc.GPIDAll && dstCall.Msg.Sender != sender.Pid {
		return -1
	}

	d.pending = pendingIPC{inUse: true, sender: sender.Pid, receiver: call.Msg.Receiver}
	copy(d.pending.msg[:], call.Msg.Content[:])
	return 0
}

// recv implements proc_recv.
func (d *Dispatcher) recv(call *Call, receiver *proc.Process) int {
	receiver.ReceiveFrom = call.Msg.Sender

	if !d.pending.inUse || d.pending.receiver != receiver.Pid {
		return -1
	}

	call.Msg.Content = d.pending.msg
	call.Msg.Sender = d.pending.sender
	d.pending.inUse = false
	return 0
}

// wait implements proc_wait.
func (d *Dispatcher) wait(call *Call, p *proc.Process) int {
	childPid, ok := d.table.ReapZombieChild(p.Pid, d.mmuFree)
	if !ok {
		return -1
	}
	call.ChildPid = childPid
	return 0
}

// exit implements proc_exit. The exit protocol never resets Type to
// TypeUnused — the process is never dispatched again.
func (d *Dispatcher) exit(call *Call, p *proc.Process) {
	d.table.Exit(p.Pid)
	delete(d.calls, p.Pid)
}

// diskOp forwards to C1. A device error is reported immediately rather
// than retried — an unrecoverable I/O fault is not a would-block
// condition.
func (d *Dispatcher) diskOp(call *Call) int {
	var err error
	if call.Type == TypeDiskRead {
		err = d.disk.KernelRead(call.Disk.BlockNo, call.Disk.NBlocks, call.Disk.Buf)
	} else {
		err = d.disk.KernelWrite(call.Disk.BlockNo, call.Disk.NBlocks, call.Disk.Buf)
	}
	if err != nil {
		d.log.Writef("disk syscall failed: %v", err)
		return -2
	}
	return 0
}

func (d *Dispatcher) ttyOp(call *Call) int {
	var err error
	if call.Type == TypeTTYRead {
		_, err = d.tty.Read(call.TTY.Buf)
	} else {
		_, err = d.tty.Write(call.TTY.Buf, int(call.TTY.Len))
	}
	if err != nil {
		return -2
	}
	return 0
}

// vmMap implements the vm_map(vaddr) syscall the loader's own fault
// handler issues on its own behalf.
func (d *Dispatcher) vmMap(call *Call, p *proc.Process) int {
	if _, err := d.mmuMap(p.Pid, call.VMMap.Vaddr); err != nil {
		return -2
	}
	return 0
}
