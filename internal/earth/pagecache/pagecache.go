// Package pagecache implements C2: the paging device. A small, fixed
// set of physical slots cache logical frames that live durably on the
// block device; a frame not resident in a slot is read in on demand,
// and a full cache evicts a random slot — excluding whichever slot the
// requesting process itself owns and any pinned slot — writing it back
// unconditionally before reuse. Grounded on dev_page.c's cache_slots
// array and its cache_eviction/paging_read/paging_write trio.
package pagecache

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/btree"

	"github.com/yacyam/egos-2000/internal/addr"
	"github.com/yacyam/egos-2000/internal/earth/disk"
	"github.com/yacyam/egos-2000/internal/debug"
)

// ErrNoEvictableSlot is returned when every slot is either owned by the
// requesting process or pinned, so eviction cannot make progress.
var ErrNoEvictableSlot = errors.New("pagecache: no evictable slot")

const blocksPerFrame = addr.BlocksPerPage

const freeFrameID = ^uint32(0)

type slot struct {
	frameID uint32
	pid     int
	pinned  bool
	data    [addr.PageSize]byte
}

// slotKey is the btree item: frameID indexes into which slot (if any)
// currently holds that logical frame.
type slotKey struct {
	frameID uint32
	index   int
}

func lessSlotKey(a, b slotKey) bool { return a.frameID < b.frameID }

// Cache is the ARTY-style software-managed frame cache: nslots entries
// backed by disk, addressed by an arbitrary logical frame id rather
// than by physical address.
type Cache struct {
	mu      sync.Mutex
	backend disk.Device
	log     debug.Debug
	rng     *rand.Rand

	slots []slot
	index *btree.BTreeG[slotKey]
}

// New builds a cache of nslots entries, all initially empty, backed by
// backend for eviction write-back and fault-in reads.
func New(nslots int, backend disk.Device, log debug.Debug) *Cache {
	if log == nil {
		log = debug.WithSource("earth.pagecache")
	}
	c := &Cache{
		backend: backend,
		log:     log,
		rng:     rand.New(rand.NewSource(1)),
		slots:   make([]slot, nslots),
		index:   btree.NewG(32, lessSlotKey),
	}
	for i := range c.slots {
		c.slots[i].frameID = freeFrameID
	}
	return c
}

func (c *Cache) lookup(frameID uint32) (int, bool) {
	key, ok := c.index.Get(slotKey{frameID: frameID})
	if !ok {
		return 0, false
	}
	return key.index, true
}

// evict picks a slot to reclaim for pid: a free slot if one exists,
// otherwise a random occupied slot not owned by pid and not pinned,
// writing its contents back to disk first.
func (c *Cache) evict(pid int) (int, error) {
	for i := range c.slots {
		if c.slots[i].frameID == freeFrameID {
			return i, nil
		}
	}

	const maxAttempts = 4 * 1024
	for attempt := 0; attempt < maxAttempts; attempt++ {
		i := c.rng.Intn(len(c.slots))
		s := &c.slots[i]
		if s.pid == pid || s.pinned {
			continue
		}

		if err := c.backend.KernelWrite(s.frameID*blocksPerFrame, blocksPerFrame, s.data[:]); err != nil {
			return 0, fmt.Errorf("pagecache: evict write-back frame %d: %w", s.frameID, err)
		}
		c.index.Delete(slotKey{frameID: s.frameID})
		return i, nil
	}
	return 0, fmt.Errorf("%w: pid %d", ErrNoEvictableSlot, pid)
}

// Read returns the cached page for frameID, bringing it in via evict +
// disk read if not already resident. allocOnly skips the disk read for
// a frame that is being created for the first time and has no backing
// contents yet (paging_read's alloc_only parameter).
func (c *Cache) Read(pid int, frameID uint32, allocOnly bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.lookup(frameID); ok {
		return c.slots[i].data[:], nil
	}

	i, err := c.evict(pid)
	if err != nil {
		return nil, err
	}

	c.slots[i] = slot{frameID: frameID, pid: pid}
	if !allocOnly {
		if err := c.backend.KernelRead(frameID*blocksPerFrame, blocksPerFrame, c.slots[i].data[:]); err != nil {
			return nil, fmt.Errorf("pagecache: fault in frame %d: %w", frameID, err)
		}
	}
	c.index.ReplaceOrInsert(slotKey{frameID: frameID, index: i})
	return c.slots[i].data[:], nil
}

// Write copies src into the slot backing frameID, faulting it in first
// (without a disk read, since the whole page is about to be
// overwritten) if not already resident.
func (c *Cache) Write(pid int, frameID uint32, src []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.lookup(frameID)
	if !ok {
		var err error
		i, err = c.evict(pid)
		if err != nil {
			return err
		}
		c.slots[i] = slot{frameID: frameID, pid: pid}
		c.index.ReplaceOrInsert(slotKey{frameID: frameID, index: i})
	}

	copy(c.slots[i].data[:], src)
	return nil
}

// Pin marks the slot holding frameID as exempt from eviction.
func (c *Cache) Pin(pid int, frameID uint32) { c.setPinned(pid, frameID, true) }

// Unpin reverses Pin.
func (c *Cache) Unpin(pid int, frameID uint32) { c.setPinned(pid, frameID, false) }

func (c *Cache) setPinned(pid int, frameID uint32, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.lookup(frameID); ok && c.slots[i].pid == pid {
		c.slots[i].pinned = pinned
	}
}

// Invalidate drops frameID from the cache without writing it back,
// used when the owning page table entry is being torn down and the
// cached copy is now garbage.
func (c *Cache) Invalidate(frameID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.lookup(frameID); ok {
		c.slots[i] = slot{frameID: freeFrameID}
		c.index.Delete(slotKey{frameID: frameID})
	}
}
