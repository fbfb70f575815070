package sync

import (
	"time"

	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/lock"
	"tinygo.org/x/picosync/machine"
)

// Cond is a condition variable paired with a Mutex.
//
// Waiting cores are not queued. At most one core is the registered waiter, the
// one that the next Signal wakes up. The others park inside Wait until the
// registered waiter is gone or a Broadcast happened. A Signal with no
// registered waiter is lost.
type Cond struct {
	core lock.Core

	// All fields below are only accessed with the spinlock held.

	// Core that receives the next signal, or lock.InvalidOwner.
	waiter lock.OwnerID

	// Set by Signal and Broadcast for the registered waiter, cleared by the
	// waiter when it wakes up.
	signaled bool

	// Incremented by every Broadcast. Waiters that are not registered yet
	// compare it against the value they saw on entry.
	broadcasts uint64
}

// Init initializes the condition variable with a striped spinlock from a. The
// spinlock may be the same as the one of the mutex used with it.
func (c *Cond) Init(a lock.Allocator) {
	c.InitSpinLock(a.NextStriped())
}

// InitSpinLock initializes the condition variable with the given spinlock.
func (c *Cond) InitSpinLock(s *machine.SpinLock) {
	c.waiter = lock.InvalidOwner
	c.signaled = false
	c.broadcasts = 0
	c.core.Init(s)
}

// IsInitialized returns whether Init has been called.
func (c *Cond) IsInitialized() bool {
	return c.core.IsInitialized()
}

// SpinLock returns the spinlock guarding this condition variable.
func (c *Cond) SpinLock() *machine.SpinLock {
	return c.core.SpinLock()
}

// WaitUntil atomically unlocks m and parks the calling core until the
// condition variable is signaled or the deadline passes. It returns whether
// it was signaled. In both cases m is locked again by the calling core when
// WaitUntil returns, which may be well after the deadline if another core
// holds m.
//
// It is a run-time error if m is not locked by the calling core.
func (c *Cond) WaitUntil(core *machine.Core, m *Mutex, until abstime.Time) bool {
	caller := lock.CallerOwnerID(core)
	mspin := m.core.SpinLock()
	cspin := c.core.SpinLock()

	save := core.DisableInterrupts()
	mspin.LockUnsafeBlocking()
	if m.owner != caller {
		mspin.UnlockUnsafe()
		core.RestoreInterrupts(save)
		panic("sync: Cond.Wait called without holding the Mutex")
	}

	// Striped spinlocks are shared, so the mutex and the condition variable
	// may use the same one. Taking it twice would deadlock.
	sameSpinLock := mspin == cspin

	// Always mutex before condition variable.
	if !sameSpinLock {
		cspin.LockUnsafeBlocking()
	}

	// Release the mutex, leaving interrupts disabled. The event sent below
	// tells cores waiting for it.
	m.owner = lock.InvalidOwner
	if !sameSpinLock {
		mspin.UnlockUnsafe()
	}

	generation := c.broadcasts
	success := true

	if c.waiter.Valid() {
		// Another core is the registered waiter. Wait for it to go away, or
		// for a broadcast which also covers this core.
		c.core.UnlockWithNotify(core, save)
		save = c.core.Lock(core)
		for c.waiter.Valid() && c.broadcasts == generation {
			var reached bool
			save, reached = c.park(core, save, until)
			if reached && c.waiter.Valid() && c.broadcasts == generation {
				success = false
				break
			}
		}
	} else {
		core.SendEvent()
	}

	if success && c.broadcasts == generation {
		c.waiter = caller
		for !c.signaled {
			var reached bool
			save, reached = c.park(core, save, until)
			if reached && !c.signaled {
				success = false
				break
			}
		}
		if success {
			c.signaled = false
		}
		c.waiter = lock.InvalidOwner
	}

	// Switch to the mutex spinlock. Never spin for it while holding the
	// condition variable spinlock: a core entering WaitUntil takes them in
	// the opposite order.
	if !sameSpinLock {
		cspin.UnlockUnsafe()
		mspin.LockUnsafeBlocking()
	}

	if m.owner.Valid() {
		// Another core locked the mutex in the meantime.
		m.core.UnlockWithNotify(core, save)
		save = m.core.Lock(core)
		for m.owner.Valid() {
			m.core.UnlockWithWait(core, save)
			save = m.core.Lock(core)
		}
	} else {
		// Wake up cores waiting for the registered waiter slot.
		core.SendEvent()
	}

	m.owner = caller
	m.core.Unlock(core, save)
	return success
}

// park releases the condition variable spinlock, waits for an event or the
// deadline and takes the spinlock again. It returns the new interrupt state
// and whether the deadline has been reached. The caller must check its
// predicate again in either case: events are not addressed.
func (c *Cond) park(core *machine.Core, save machine.InterruptState, until abstime.Time) (machine.InterruptState, bool) {
	if abstime.IsAtTheEndOfTime(until) {
		c.core.UnlockWithWait(core, save)
		return c.core.Lock(core), false
	}
	reached := c.core.UnlockWithBestEffortWaitOrTimeout(core, save, until)
	return c.core.Lock(core), reached
}

// Wait is like WaitUntil without a deadline.
func (c *Cond) Wait(core *machine.Core, m *Mutex) {
	c.WaitUntil(core, m, abstime.AtTheEndOfTime)
}

// WaitTimeoutMs is like WaitUntil, with a deadline ms milliseconds from now.
func (c *Cond) WaitTimeoutMs(core *machine.Core, m *Mutex, ms uint32) bool {
	return c.WaitUntil(core, m, abstime.MakeTimeoutTimeMs(core.Chip(), ms))
}

// WaitTimeoutUs is like WaitUntil, with a deadline us microseconds from now.
func (c *Cond) WaitTimeoutUs(core *machine.Core, m *Mutex, us uint32) bool {
	return c.WaitUntil(core, m, abstime.MakeTimeoutTimeUs(core.Chip(), uint64(us)))
}

// WaitTimeout is like WaitUntil, with a deadline d from now.
func (c *Cond) WaitTimeout(core *machine.Core, m *Mutex, d time.Duration) bool {
	return c.WaitUntil(core, m, abstime.FromDuration(core.Chip(), d))
}

// Signal wakes up the registered waiter, if there is one. Otherwise the signal
// is lost.
func (c *Cond) Signal(core *machine.Core) {
	save := c.core.Lock(core)
	if c.waiter.Valid() {
		c.signaled = true
		c.core.UnlockWithNotify(core, save)
		return
	}
	c.core.Unlock(core, save)
}

// Broadcast wakes up all cores currently waiting on c.
func (c *Cond) Broadcast(core *machine.Core) {
	save := c.core.Lock(core)
	// Waiters that are not registered see the new generation even when
	// nobody is registered right now.
	c.broadcasts++
	if c.waiter.Valid() {
		c.signaled = true
	}
	c.core.UnlockWithNotify(core, save)
}

// State returns the broadcast generation, the registered waiter and whether it
// was signaled. It is meant for tests and tracing.
func (c *Cond) State(core *machine.Core) (broadcasts uint64, waiter lock.OwnerID, signaled bool) {
	save := c.core.Lock(core)
	broadcasts, waiter, signaled = c.broadcasts, c.waiter, c.signaled
	c.core.Unlock(core, save)
	return
}
