// Package lock implements the lock core shared by the blocking primitives in
// the sync package: a spinlock domain guarding the primitive's state, the
// identity of lock owners, and the ways to release the spinlock while
// notifying or waiting for other cores.
package lock

import (
	"sync/atomic"

	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/machine"
)

// OwnerID identifies the core that owns a lock.
type OwnerID int8

// InvalidOwner means "nobody".
const InvalidOwner OwnerID = -1

// Valid returns whether id refers to an actual core.
func (id OwnerID) Valid() bool {
	return id >= 0
}

// CallerOwnerID returns the owner id of the given core. It is only meaningful
// for comparisons made while holding the relevant spinlock.
func CallerOwnerID(c *machine.Core) OwnerID {
	return OwnerID(c.Num())
}

// Allocator hands out spinlocks for new lock cores. The machine.Chip
// implements it with its striped spinlocks, which may return the same spinlock
// for unrelated lock cores.
type Allocator interface {
	NextStriped() *machine.SpinLock
}

// Core is the spinlock domain of a blocking primitive. The zero value is not
// initialized.
type Core struct {
	spinLock atomic.Pointer[machine.SpinLock]
}

// Init assigns the spinlock guarding this lock core. The store is atomic so
// that the rest of the primitive's initialization is visible to any core that
// sees the spinlock.
func (lc *Core) Init(s *machine.SpinLock) {
	lc.spinLock.Store(s)
}

// IsInitialized returns whether Init has been called.
func (lc *Core) IsInitialized() bool {
	return lc.spinLock.Load() != nil
}

// SpinLock returns the spinlock of this lock core.
func (lc *Core) SpinLock() *machine.SpinLock {
	s := lc.spinLock.Load()
	if s == nil {
		panic("lock: use of uninitialized lock")
	}
	return s
}

// Lock disables interrupts on the core and takes the spinlock.
func (lc *Core) Lock(c *machine.Core) machine.InterruptState {
	return c.SpinLockBlocking(lc.SpinLock())
}

// Unlock releases the spinlock and restores interrupts.
func (lc *Core) Unlock(c *machine.Core, save machine.InterruptState) {
	c.SpinUnlock(lc.SpinLock(), save)
}

// UnlockWithNotify releases the spinlock and wakes up every core waiting for
// the state guarded by it to change.
func (lc *Core) UnlockWithNotify(c *machine.Core, save machine.InterruptState) {
	lc.Unlock(c, save)
	c.SendEvent()
}

// UnlockWithWait releases the spinlock and waits for another core to notify
// (or for a spurious wakeup). The spinlock is not held on return.
func (lc *Core) UnlockWithWait(c *machine.Core, save machine.InterruptState) {
	lc.Unlock(c, save)
	c.WaitForEvent()
}

// UnlockWithBestEffortWaitOrTimeout is like UnlockWithWait, but also wakes up
// around the given deadline. It returns whether the deadline has been
// reached.
func (lc *Core) UnlockWithBestEffortWaitOrTimeout(c *machine.Core, save machine.InterruptState, until abstime.Time) bool {
	lc.Unlock(c, save)
	return c.WaitForEventOrTimeout(until)
}
