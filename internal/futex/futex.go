// Package futex implements a futex for the host the chip simulation runs on.
// It backs the hardware wake event: parked cores sleep on a futex word and
// SEV wakes all of them.
//
// On Linux this is the real futex system call. Other systems use an emulation
// built from a waiter stack and channels.
//
// For more information, see: https://outerproduct.net/futex-dictionary.html
package futex

import (
	"sync/atomic"
	"time"
)

// A futex is a way for userspace to wait with the pointer as the key, and for
// another thread to wake one or all waiting threads keyed on the same pointer.
//
// A futex does not change the underlying value, it only reads it before going
// to sleep (atomically) to prevent lost wake-ups.
type Futex struct {
	atomic.Uint32
}

// Atomically check for cmp to still be equal to the futex value and if so, go
// to sleep until awoken by Wake or WakeAll.
//
// Wakeups may be spurious. Callers must always re-check the futex value (or
// whatever state it protects) after Wait returns.
func (f *Futex) Wait(cmp uint32) {
	f.wait(cmp, -1)
}

// Like Wait, but gives up after the given timeout. A timeout of zero or less
// returns immediately.
func (f *Futex) WaitTimeout(cmp uint32, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	f.wait(cmp, timeout)
}

// Wake a single waiter.
func (f *Futex) Wake() {
	f.wake(1)
}

// Wake all waiters.
func (f *Futex) WakeAll() {
	f.wake(wakeAll)
}

// Largest number of waiters that can be woken with one call.
const wakeAll = 1<<31 - 1
