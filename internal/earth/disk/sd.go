package disk

import (
	"fmt"
	"sync"

	"github.com/yacyam/egos-2000/internal/debug"
)

// Command bytes per §4.1.
const (
	cmd17Read  = 0x51
	cmd24Write = 0x58
	cmdLen     = 6

	sdQueueSize  = 8    // outstanding dummy bytes kept on the wire
	maxPollBytes = 8000 // DeviceTimeout ceiling
)

// rdState/wrState are the two cooperating sub-FSMs from §4.1. Only one of
// a read or a write command may be in flight at a time, but both
// sub-FSMs are always defined so "both *Ready" is a simple comparison.
type rdState int

const (
	rdReady rdState = iota
	rdWaitResponse
	rdWaitStart
	rdReadBlock
)

type wrState int

const (
	wrReady wrState = iota
	wrWaitResponse
	wrWriteBlock
	wrWaitAck
)

// SDDisk drives a microSD card over Bus. It is interrupt-driven at
// runtime (OnRx) and falls back to fully synchronous polling during
// Boot.
type SDDisk struct {
	bus Bus
	log debug.Debug

	mu sync.Mutex

	cardType CardType

	rd rdState
	wr wrState

	numRead, numWritten uint32
	scratch             [BlockSize]byte

	// in-flight request bookkeeping
	pendingBlockNo uint32
	pendingDst     []byte // set while rd != rdReady
	pendingSrc     []byte // set while wr != wrReady
	readDone       bool
	writeDone      bool
}

// NewSD constructs a driver around bus. Call Boot before using it at
// runtime.
func NewSD(bus Bus, log debug.Debug) *SDDisk {
	if log == nil {
		log = debug.WithSource("disk.sd")
	}
	return &SDDisk{bus: bus, log: log, rd: rdReady, wr: wrReady}
}

// Boot runs the synchronous polled command sequence (cmd0, cmd8, acmd41,
// cmd16, cmd58) and classifies the card as SD1, SD2, or SDHC.
func (d *SDDisk) Boot() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// cmd0: GO_IDLE_STATE
	if _, err := d.pollCommand(0x40, 0, 0x95); err != nil {
		return fmt.Errorf("disk: sd boot cmd0: %w", err)
	}

	// cmd8: SEND_IF_COND: probes for SD2+ support of the 2.7-3.6V range.
	r8, err := d.pollCommandLong(0x48, 0x1AA, 0x87)
	isV2 := err == nil && len(r8) == 4 && r8[2] == 0x01 && r8[3] == 0xAA

	// acmd41: SD_SEND_OP_COND, repeated until the card leaves idle state.
	const acmd41MaxPolls = 4096
	for i := 0; i < acmd41MaxPolls; i++ {
		if _, err := d.pollCommand(0x77, 0, 0x65); err != nil {
			return fmt.Errorf("disk: sd boot cmd55: %w", err)
		}
		arg := uint32(0)
		if isV2 {
			arg = 1 << 30 // HCS: host supports SDHC
		}
		r, err := d.pollCommand(0x69, arg, 0x77)
		if err != nil {
			return fmt.Errorf("disk: sd boot acmd41: %w", err)
		}
		if r == 0x00 {
			break
		}
	}

	d.cardType = CardTypeSD1
	if isV2 {
		// cmd58: READ_OCR; bit 30 set means the card reports as SDHC/SDXC.
		ocr, err := d.pollCommandLong(0x7A, 0, 0xFD)
		if err == nil && len(ocr) == 4 && ocr[0]&0x40 != 0 {
			d.cardType = CardTypeSDHC
		} else {
			d.cardType = CardTypeSD2
		}
	}

	if d.cardType != CardTypeSDHC {
		// cmd16: SET_BLOCKLEN, only meaningful for non-SDHC cards.
		if _, err := d.pollCommand(0x50, BlockSize, 0xFF); err != nil {
			return fmt.Errorf("disk: sd boot cmd16: %w", err)
		}
	}

	d.log.Writef("sd card classified as %s", d.cardType)
	return nil
}

// pollCommand sends a 6-byte command synchronously and busy-polls for a
// single R1 response byte.
func (d *SDDisk) pollCommand(cmd byte, arg uint32, crc byte) (byte, error) {
	pkt := [cmdLen]byte{cmd, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg), crc}
	for _, b := range pkt {
		if _, err := d.bus.BusyExchange(b); err != nil {
			return 0, err
		}
	}
	for i := 0; i < maxPollBytes; i++ {
		rx, err := d.bus.BusyExchange(0xFF)
		if err != nil {
			return 0, err
		}
		if rx != 0xFF {
			return rx, nil
		}
	}
	return 0, ErrDeviceTimeout
}

// pollCommandLong is pollCommand plus the four-byte trailer some R3/R7
// responses carry (cmd8, cmd58).
func (d *SDDisk) pollCommandLong(cmd byte, arg uint32, crc byte) ([]byte, error) {
	r1, err := d.pollCommand(cmd, arg, crc)
	if err != nil {
		return nil, err
	}
	if r1 != 0x01 {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadCommandStatus, r1)
	}
	var trailer [4]byte
	for i := range trailer {
		b, err := d.bus.BusyExchange(0xFF)
		if err != nil {
			return nil, err
		}
		trailer[i] = b
	}
	return trailer[:], nil
}

// Read services a non-blocking single-block read.
func (d *SDDisk) Read(blockNo uint32, dst []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rd == rdReady && d.wr == wrReady {
		if err := d.startRead(blockNo, dst); err != nil {
			return false, err
		}
		return false, nil
	}

	if d.readDone && d.pendingBlockNo == blockNo {
		d.readDone = false
		d.pendingDst = nil
		return true, nil
	}

	return false, nil
}

// Write services a non-blocking single-block write.
func (d *SDDisk) Write(blockNo uint32, src []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rd == rdReady && d.wr == wrReady {
		if err := d.startWrite(blockNo, src); err != nil {
			return false, err
		}
		return false, nil
	}

	if d.writeDone && d.pendingBlockNo == blockNo {
		d.writeDone = false
		d.pendingSrc = nil
		return true, nil
	}

	return false, nil
}

func (d *SDDisk) startRead(blockNo uint32, dst []byte) error {
	addr := blockAddress(d.cardType, blockNo)
	pkt := [cmdLen]byte{cmd17Read, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr), 0xFF}
	for _, b := range pkt {
		if err := d.bus.SendByte(b); err != nil {
			return err
		}
	}
	d.numRead = 0
	d.numWritten = cmdLen
	d.rd = rdWaitResponse
	d.pendingBlockNo = blockNo
	d.pendingDst = dst
	return nil
}

func (d *SDDisk) startWrite(blockNo uint32, src []byte) error {
	addr := blockAddress(d.cardType, blockNo)
	pkt := [cmdLen]byte{cmd24Write, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr), 0xFF}
	for _, b := range pkt {
		if err := d.bus.SendByte(b); err != nil {
			return err
		}
	}
	d.numRead = 0
	d.numWritten = cmdLen
	d.wr = wrWaitResponse
	d.pendingBlockNo = blockNo
	d.pendingSrc = src
	return nil
}

// OnRx is the external-interrupt entry point: drain the receive FIFO one
// byte at a time, advancing whichever sub-FSM is mid-command per §4.1's
// reply table, and keep the clock running by refilling the transmit FIFO
// with dummy bytes up to a window of sdQueueSize outstanding bytes.
func (d *SDDisk) OnRx() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		b, ok := d.bus.RecvByte()
		if !ok {
			break
		}
		d.numRead++

		if d.numRead > maxPollBytes && (d.rd != rdReady || d.wr != wrReady) {
			return ErrDeviceTimeout
		}

		if b == 0xFF {
			continue
		}

		switch {
		case d.rd == rdWaitResponse:
			if b != 0x00 {
				return fmt.Errorf("%w: cmd17 0x%02x", ErrBadCommandStatus, b)
			}
			d.rd = rdWaitStart

		case d.wr == wrWaitResponse:
			if b != 0x00 {
				return fmt.Errorf("%w: cmd24 0x%02x", ErrBadCommandStatus, b)
			}
			d.wr = wrWriteBlock
			if err := d.writeBlock(); err != nil {
				return err
			}

		case d.rd == rdWaitStart:
			if b == 0xFE {
				d.rd = rdReadBlock
				if err := d.readBlock(); err != nil {
					return err
				}
			}

		case d.wr == wrWaitAck:
			if b&0x1F != 0x05 {
				return fmt.Errorf("%w: 0x%02x", ErrBadWriteAck, b)
			}
			d.wr = wrReady
		}
	}

	for d.numWritten < d.numRead+sdQueueSize {
		if err := d.bus.SendByte(0xFF); err != nil {
			break
		}
		d.numWritten++
	}

	return nil
}

// readBlock transfers the 512-byte block in a tight busy-polled loop,
// then returns the read sub-FSM to rdReady.
func (d *SDDisk) readBlock() error {
	for i := 0; i < BlockSize; i++ {
		rx, err := d.bus.BusyExchange(0xFF)
		if err != nil {
			return err
		}
		d.scratch[i] = rx
	}
	// two-byte trailing checksum, discarded
	if _, err := d.bus.BusyExchange(0xFF); err != nil {
		return err
	}
	if _, err := d.bus.BusyExchange(0xFF); err != nil {
		return err
	}

	copy(d.pendingDst, d.scratch[:])
	d.readDone = true
	d.rd = rdReady
	return nil
}

// writeBlock busy-sends the data packet (start token, block, checksum)
// and moves the write sub-FSM to wrWaitAck for the card's ack byte.
func (d *SDDisk) writeBlock() error {
	if _, err := d.bus.BusyExchange(0xFE); err != nil {
		return err
	}
	for i := 0; i < BlockSize; i++ {
		if _, err := d.bus.BusyExchange(d.pendingSrc[i]); err != nil {
			return err
		}
	}
	if _, err := d.bus.BusyExchange(0xFF); err != nil {
		return err
	}
	if _, err := d.bus.BusyExchange(0xFF); err != nil {
		return err
	}

	d.writeDone = true
	d.wr = wrWaitAck
	return nil
}

// KernelRead performs a blocking, multi-block read by driving Read/OnRx
// to completion for each block in turn. Only kernel code may call it —
// user-level multi-block I/O must go through the syscall path.
func (d *SDDisk) KernelRead(blockNo, nblocks uint32, dst []byte) error {
	for i := uint32(0); i < nblocks; i++ {
		if err := d.blockingOne(blockNo+i, dst[i*BlockSize:(i+1)*BlockSize], true); err != nil {
			return err
		}
	}
	return nil
}

// KernelWrite is the write-side analog of KernelRead.
func (d *SDDisk) KernelWrite(blockNo, nblocks uint32, src []byte) error {
	for i := uint32(0); i < nblocks; i++ {
		if err := d.blockingOne(blockNo+i, src[i*BlockSize:(i+1)*BlockSize], false); err != nil {
			return err
		}
	}
	return nil
}

// blockingOne drives a single block to completion by alternating issuing
// the command and pumping OnRx, without relying on an external
// interrupt source — used for synchronous kernel-side transfers.
func (d *SDDisk) blockingOne(blockNo uint32, buf []byte, read bool) error {
	const maxRounds = maxPollBytes
	for round := 0; round < maxRounds; round++ {
		var done bool
		var err error
		if read {
			done, err = d.Read(blockNo, buf)
		} else {
			done, err = d.Write(blockNo, buf)
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := d.OnRx(); err != nil {
			return err
		}
	}
	return ErrDeviceTimeout
}
