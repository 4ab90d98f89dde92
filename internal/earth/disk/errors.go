package disk

import "errors"

// ErrReadOnly is returned by a flash-ROM backend on any write attempt.
// Per spec.md §7 this is fatal: writing flash is never intended.
var ErrReadOnly = errors.New("disk: write to read-only backend")

// ErrBadCommandStatus is fatal: the SD card replied to a command with a
// non-zero status byte.
var ErrBadCommandStatus = errors.New("disk: sd card returned bad command status")

// ErrBadWriteAck is fatal: the SD card's data-packet acknowledgement did
// not carry the expected low 5 bits (0x05).
var ErrBadWriteAck = errors.New("disk: sd card returned bad write ack")

// ErrDeviceTimeout is fatal: the command FSM polled past the byte budget
// without completing.
var ErrDeviceTimeout = errors.New("disk: sd card command timed out")

// ErrBusy describes a new command that cannot start because a read or
// write command is already in flight. SDDisk does not return it: a Read
// or Write issued in that state reports done=false, err=nil so the
// caller retries.
var ErrBusy = errors.New("disk: command already in flight")
