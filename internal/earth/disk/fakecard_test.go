package disk

// fakeCard is a minimal software model of an SD card's SPI command
// processor, used only to exercise SDDisk end-to-end in tests. It
// understands just enough of cmd0/cmd8/cmd55/acmd41/cmd58/cmd16 (boot
// negotiation) and cmd17/cmd24 (single-block read/write) to drive the
// state machine in sd.go through a full round trip.
type fakeCard struct {
	storage []byte

	rxQueue []byte
	cmdBuf  []byte

	pendingReply   []byte
	busyUntilReady bool

	transferMode byte // 0, 'R', or 'W'
	awaitingToken bool
	addr          uint32
	cursor        int

	sdhc bool
}

func newFakeCard(blocks int) *fakeCard {
	return &fakeCard{storage: make([]byte, blocks*BlockSize)}
}

func (c *fakeCard) exchange(tx byte) byte {
	if c.transferMode != 0 {
		return c.streamByte(tx)
	}
	if len(c.pendingReply) > 0 {
		b := c.pendingReply[0]
		c.pendingReply = c.pendingReply[1:]
		return b
	}
	if c.busyUntilReady {
		return 0xFF
	}

	c.cmdBuf = append(c.cmdBuf, tx)
	if len(c.cmdBuf) == 6 {
		cmd := c.cmdBuf
		c.cmdBuf = nil
		c.decodeCommand(cmd)
	}
	return 0xFF
}

func (c *fakeCard) decodeCommand(cmd []byte) {
	opcode := cmd[0]
	arg := uint32(cmd[1])<<24 | uint32(cmd[2])<<16 | uint32(cmd[3])<<8 | uint32(cmd[4])

	switch opcode {
	case 0x40: // cmd0: GO_IDLE_STATE
		c.pendingReply = append(c.pendingReply, 0x01)
	case 0x48: // cmd8: SEND_IF_COND
		c.pendingReply = append(c.pendingReply, 0x01, 0x00, 0x00, 0x01, 0xAA)
	case 0x77: // cmd55: APP_CMD
		c.pendingReply = append(c.pendingReply, 0x01)
	case 0x69: // acmd41: SD_SEND_OP_COND
		c.pendingReply = append(c.pendingReply, 0x00)
	case 0x7A: // cmd58: READ_OCR -- trailer bit 0x40 marks SDHC/SDXC
		c.sdhc = true
		c.pendingReply = append(c.pendingReply, 0x01, 0x40, 0x00, 0x00, 0x00)
	case 0x50: // cmd16: SET_BLOCKLEN
		c.pendingReply = append(c.pendingReply, 0x00)

	case cmd17Read:
		c.addr = c.translateAddr(arg)
		c.transferMode = 'R'
		c.cursor = 0
		c.busyUntilReady = true
		c.pendingReply = append(c.pendingReply, 0x00, 0xFE)

	case cmd24Write:
		c.addr = c.translateAddr(arg)
		c.transferMode = 'W'
		c.awaitingToken = true
		c.cursor = 0
		c.busyUntilReady = true
		c.pendingReply = append(c.pendingReply, 0x00)
	}
}

func (c *fakeCard) translateAddr(arg uint32) uint32 {
	if c.sdhc {
		return arg * BlockSize
	}
	return arg
}

func (c *fakeCard) streamByte(tx byte) byte {
	if c.awaitingToken {
		c.awaitingToken = false
		return 0xFF
	}

	if c.cursor < BlockSize {
		out := byte(0xFF)
		if c.transferMode == 'R' {
			out = c.storage[int(c.addr)+c.cursor]
		} else {
			c.storage[int(c.addr)+c.cursor] = tx
		}
		c.cursor++
		return out
	}

	c.cursor++
	if c.cursor >= BlockSize+2 {
		wasWrite := c.transferMode == 'W'
		c.transferMode = 0
		c.cursor = 0
		c.busyUntilReady = false
		if wasWrite {
			c.pendingReply = append(c.pendingReply, 0x05)
		}
	}
	return 0xFF
}

func (c *fakeCard) SendByte(b byte) error {
	c.rxQueue = append(c.rxQueue, c.exchange(b))
	return nil
}

func (c *fakeCard) RecvByte() (byte, bool) {
	if len(c.rxQueue) == 0 {
		return 0, false
	}
	b := c.rxQueue[0]
	c.rxQueue = c.rxQueue[1:]
	return b, true
}

func (c *fakeCard) BusyExchange(tx byte) (byte, error) {
	return c.exchange(tx), nil
}
