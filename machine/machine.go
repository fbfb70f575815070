// Package machine simulates the parts of a multicore microcontroller that the
// locking primitives need: a few cores running in true parallel, a bank of
// hardware spinlocks, the SEV/WFE wake event, per-core interrupt masking and a
// microsecond timer.
//
// A core is a goroutine that is locked to its own OS thread for as long as a
// program runs on it. All methods on *Core must be called from the program
// running on that core, unless documented otherwise.
package machine

import "errors"

var (
	ErrUnknownBoard      = errors.New("machine: unknown board")
	ErrInvalidBoard      = errors.New("machine: invalid board configuration")
	ErrInvalidCore       = errors.New("machine: invalid core number")
	ErrCoreBusy          = errors.New("machine: core is already running a program")
	ErrInvalidSpinLock   = errors.New("machine: invalid spinlock number")
	ErrSpinLockClaimed   = errors.New("machine: spinlock already claimed")
	ErrNoUnusedSpinLocks = errors.New("machine: no unused spinlocks left to claim")
)

// If true, check for spinlock misuse (at a small cost).
const asserts = true

// Stats counts the hardware-level events on a chip since it was created.
type Stats struct {
	// Number of SEV instructions executed on any core.
	Events uint64

	// Number of WFE instructions executed on any core, and how many of those
	// were timed waits that returned after their deadline.
	Waits    uint64
	Timeouts uint64

	// Number of spinlock acquisitions that had to spin at least once.
	Contended uint64

	// Number of interrupt handlers that ran.
	Interrupts uint64
}
