package sync

import (
	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/lock"
	"tinygo.org/x/picosync/machine"
)

// RecursiveMutex is a mutex that the owning core may lock again. It must be
// unlocked as many times as it was locked.
//
// A RecursiveMutex cannot be used with Cond.
type RecursiveMutex struct {
	core       lock.Core
	owner      lock.OwnerID
	enterCount uint8
}

// Init initializes the mutex with a striped spinlock from a.
func (m *RecursiveMutex) Init(a lock.Allocator) {
	m.owner = lock.InvalidOwner
	m.enterCount = 0
	m.core.Init(a.NextStriped())
}

// IsInitialized returns whether Init has been called.
func (m *RecursiveMutex) IsInitialized() bool {
	return m.core.IsInitialized()
}

// SpinLock returns the spinlock guarding this mutex.
func (m *RecursiveMutex) SpinLock() *machine.SpinLock {
	return m.core.SpinLock()
}

// Lock locks m, or increments the lock count if the calling core already
// holds it.
func (m *RecursiveMutex) Lock(c *machine.Core) {
	m.LockUntil(c, abstime.AtTheEndOfTime)
}

// TryLock is like Lock but never waits. If the mutex is held by another core,
// it returns false and that core.
func (m *RecursiveMutex) TryLock(c *machine.Core) (bool, lock.OwnerID) {
	caller := lock.CallerOwnerID(c)
	save := m.core.Lock(c)
	owner := m.owner
	entered := !owner.Valid() || owner == caller
	if entered && !m.enter(caller) {
		m.core.Unlock(c, save)
		panic(errTooManyLocks)
	}
	m.core.Unlock(c, save)
	return entered, owner
}

// LockUntil is like Lock, but gives up at the given deadline. It returns
// whether the mutex was locked.
func (m *RecursiveMutex) LockUntil(c *machine.Core, until abstime.Time) bool {
	caller := lock.CallerOwnerID(c)
	for {
		save := m.core.Lock(c)
		if !m.owner.Valid() || m.owner == caller {
			ok := m.enter(caller)
			m.core.Unlock(c, save)
			if !ok {
				panic(errTooManyLocks)
			}
			return true
		}
		if abstime.IsAtTheEndOfTime(until) {
			m.core.UnlockWithWait(c, save)
		} else if m.core.UnlockWithBestEffortWaitOrTimeout(c, save, until) {
			return false
		}
	}
}

// LockTimeoutMs is LockUntil with a deadline ms milliseconds from now.
func (m *RecursiveMutex) LockTimeoutMs(c *machine.Core, ms uint32) bool {
	return m.LockUntil(c, abstime.MakeTimeoutTimeMs(c.Chip(), ms))
}

const errTooManyLocks = "sync: RecursiveMutex locked too many times"

// Must be called with the spinlock held. It returns false, leaving m
// unchanged, if the lock count would overflow.
func (m *RecursiveMutex) enter(caller lock.OwnerID) bool {
	if m.enterCount == 255 {
		return false
	}
	m.owner = caller
	m.enterCount++
	return true
}

// Unlock undoes a single Lock call. The mutex is released once the count
// drops to zero. It is a run-time error if m is not held by the calling core.
func (m *RecursiveMutex) Unlock(c *machine.Core) {
	save := m.core.Lock(c)
	if m.owner != lock.CallerOwnerID(c) || m.enterCount == 0 {
		m.core.Unlock(c, save)
		panic("sync: unlock of RecursiveMutex not held by this core")
	}
	m.enterCount--
	if m.enterCount == 0 {
		m.owner = lock.InvalidOwner
		m.core.UnlockWithNotify(c, save)
		return
	}
	m.core.Unlock(c, save)
}
