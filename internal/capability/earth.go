// Package capability assembles C1-C6 into the two stable function
// tables the reference firmware installs at fixed addresses at boot:
// the earth table (hardware-facing capabilities) and the grass table
// (process/syscall capabilities). Grounded on grass/grass.c's main(),
// which is exactly this wiring step, and library/egos.h's struct earth
// / struct grass field lists.
package capability

import (
	"context"
	"sync"

	"github.com/yacyam/egos-2000/internal/earth/disk"
	"github.com/yacyam/egos-2000/internal/earth/mmu"
	"github.com/yacyam/egos-2000/internal/earth/pagecache"
	"golang.org/x/time/rate"
)

// Timer models the CLINT mtimecmp-driven preemption tick. There is no
// real interrupt hardware in this simulation, so Timer is just the
// enable/disable/reset bookkeeping the scheduler drives; cmd/egos'
// run loop is what actually paces ticks against it.
type Timer struct {
	mu      sync.Mutex
	enabled bool
	resets  int
}

func (t *Timer) TimerEnable()  { t.mu.Lock(); defer t.mu.Unlock(); t.enabled = true }
func (t *Timer) TimerDisable() { t.mu.Lock(); defer t.mu.Unlock(); t.enabled = false }
func (t *Timer) TimerReset()   { t.mu.Lock(); defer t.mu.Unlock(); t.resets++ }

// Enabled reports whether the timer is currently armed for the running
// process, for the run loop to consult before delivering a tick.
func (t *Timer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Earth is the earth capability table: the hardware-facing interface
// every other layer is built against.
type Earth struct {
	Disk      disk.Device
	MMU       *mmu.Manager
	Timer     *Timer
	Platform  Platform
	PageCache *pagecache.Cache

	// idle rate-limits the busy-wait spin WaitForInterrupt performs when
	// proc_yield finds nothing runnable, standing in for the real WFI
	// instruction's power-saving halt.
	idle *rate.Limiter
}

// NewEarth wires the earth table around already-constructed C1/C3
// capabilities.
func NewEarth(d disk.Device, m *mmu.Manager) *Earth {
	return &Earth{
		Disk:  d,
		MMU:   m,
		Timer: &Timer{},
		idle:  rate.NewLimiter(rate.Limit(1000), 1),
	}
}

// MMUSwitch implements proc.Earth.
func (e *Earth) MMUSwitch(pid int) { e.MMU.Switch(pid) }

// TimerReset implements proc.Earth.
func (e *Earth) TimerReset() { e.Timer.TimerReset() }

// TimerEnable implements proc.Earth.
func (e *Earth) TimerEnable() { e.Timer.TimerEnable() }

// TimerDisable implements proc.Earth.
func (e *Earth) TimerDisable() { e.Timer.TimerDisable() }

// WaitForInterrupt implements proc.Earth: when the scheduler finds no
// runnable process it calls this before rescanning, pacing the spin
// rather than burning a tight loop.
func (e *Earth) WaitForInterrupt() {
	_ = e.idle.Wait(context.Background())
}
