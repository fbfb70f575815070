// Package sync provides a mutex and a condition variable for multicore chips
// without a scheduler. Blocking happens by parking the core (WFE) until
// another core sends an event (SEV), so a blocked core consumes no CPU but
// also can't run anything else.
//
// All primitives must be initialized with Init before use and are never
// destroyed. Every call takes the *machine.Core it runs on.
package sync

import (
	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/lock"
	"tinygo.org/x/picosync/machine"
)

// Mutex is a mutual exclusion lock owned by a core. Unlike sync.Mutex in the
// standard library, it records its owner: only the core that locked it may
// unlock it.
type Mutex struct {
	core lock.Core

	// Core holding the mutex, or lock.InvalidOwner. Only accessed with the
	// spinlock held.
	owner lock.OwnerID
}

// Init initializes the mutex with a striped spinlock from a.
func (m *Mutex) Init(a lock.Allocator) {
	m.InitSpinLock(a.NextStriped())
}

// InitSpinLock initializes the mutex with the given spinlock.
func (m *Mutex) InitSpinLock(s *machine.SpinLock) {
	m.owner = lock.InvalidOwner
	m.core.Init(s)
}

// IsInitialized returns whether Init has been called.
func (m *Mutex) IsInitialized() bool {
	return m.core.IsInitialized()
}

// SpinLock returns the spinlock guarding this mutex.
func (m *Mutex) SpinLock() *machine.SpinLock {
	return m.core.SpinLock()
}

// Lock locks m.
// If the lock is already in use, the calling core is parked until the mutex
// is available.
func (m *Mutex) Lock(c *machine.Core) {
	caller := lock.CallerOwnerID(c)
	for {
		save := m.core.Lock(c)
		if !m.owner.Valid() {
			m.owner = caller
			m.core.Unlock(c, save)
			return
		}
		m.core.UnlockWithWait(c, save)
	}
}

// TryLock tries to lock m and reports whether it succeeded. If it did not, it
// also returns the core that currently owns the mutex.
func (m *Mutex) TryLock(c *machine.Core) (bool, lock.OwnerID) {
	save := m.core.Lock(c)
	owner := m.owner
	entered := !owner.Valid()
	if entered {
		m.owner = lock.CallerOwnerID(c)
	}
	m.core.Unlock(c, save)
	return entered, owner
}

// LockUntil tries to lock m, waiting until the given deadline at most. It
// returns whether the mutex was locked.
func (m *Mutex) LockUntil(c *machine.Core, until abstime.Time) bool {
	caller := lock.CallerOwnerID(c)
	for {
		save := m.core.Lock(c)
		if !m.owner.Valid() {
			m.owner = caller
			m.core.Unlock(c, save)
			return true
		}
		if m.core.UnlockWithBestEffortWaitOrTimeout(c, save, until) {
			// Timed out.
			return false
		}
	}
}

// LockTimeoutMs is LockUntil with a deadline ms milliseconds from now.
func (m *Mutex) LockTimeoutMs(c *machine.Core, ms uint32) bool {
	return m.LockUntil(c, abstime.MakeTimeoutTimeMs(c.Chip(), ms))
}

// LockTimeoutUs is LockUntil with a deadline us microseconds from now.
func (m *Mutex) LockTimeoutUs(c *machine.Core, us uint32) bool {
	return m.LockUntil(c, abstime.MakeTimeoutTimeUs(c.Chip(), uint64(us)))
}

// Unlock unlocks m and wakes up any core waiting for it. It is a run-time error
// if m is not locked by the calling core.
func (m *Mutex) Unlock(c *machine.Core) {
	save := m.core.Lock(c)
	if m.owner != lock.CallerOwnerID(c) {
		owner := m.owner
		m.core.Unlock(c, save)
		if !owner.Valid() {
			panic("sync: unlock of unlocked Mutex")
		}
		panic("sync: unlock of Mutex owned by another core")
	}
	m.owner = lock.InvalidOwner
	m.core.UnlockWithNotify(c, save)
}

// Owner returns the core currently holding the mutex, or lock.InvalidOwner.
// The answer may be stale by the time the caller looks at it.
func (m *Mutex) Owner(c *machine.Core) lock.OwnerID {
	save := m.core.Lock(c)
	owner := m.owner
	m.core.Unlock(c, save)
	return owner
}

// A Locker represents an object that can be locked and unlocked.
type Locker interface {
	Lock()
	Unlock()
}

// Locker returns a Locker interface that implements the Lock and Unlock
// methods by calling m.Lock(c) and m.Unlock(c). The Locker may only be used
// from the program running on c.
func (m *Mutex) Locker(c *machine.Core) Locker {
	return &coreLocker{m: m, c: c}
}

type coreLocker struct {
	m *Mutex
	c *machine.Core
}

func (l *coreLocker) Lock()   { l.m.Lock(l.c) }
func (l *coreLocker) Unlock() { l.m.Unlock(l.c) }
