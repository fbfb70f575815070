package machine

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// SpinLock is one hardware spinlock of the chip. It guards very short critical
// sections and is not reentrant: taking it twice from the same core deadlocks.
type SpinLock struct {
	state atomic.Uint32

	chip *Chip
	num  int
}

// Num returns the spinlock number within the bank.
func (s *SpinLock) Num() int {
	return s.num
}

// LockUnsafeBlocking takes the spinlock, spinning until it is free. It does
// not touch the interrupt state, so it should only be used when interrupts are
// already disabled.
func (s *SpinLock) LockUnsafeBlocking() {
	// Try to replace 0 with 1. Once we succeed, the lock has been acquired.
	if s.state.CompareAndSwap(0, 1) {
		return
	}
	s.chip.stats.contended.Add(1)
	for !s.state.CompareAndSwap(0, 1) {
		spinLoopHint()
	}
}

// TryLockUnsafe takes the spinlock if it is free and reports whether it did.
func (s *SpinLock) TryLockUnsafe() bool {
	return s.state.CompareAndSwap(0, 1)
}

// UnlockUnsafe releases the spinlock without restoring interrupts.
func (s *SpinLock) UnlockUnsafe() {
	// Safety check: the spinlock should have been locked.
	if asserts && s.state.Load() != 1 {
		panic("machine: unlock of unlocked spinlock")
	}

	// Unlock the lock. Simply write 0, because we already know it is locked.
	s.state.Store(0)
}

// IsLocked returns whether any core currently holds the spinlock.
func (s *SpinLock) IsLocked() bool {
	return s.state.Load() != 0
}

// Hint that this core is just waiting. On real hardware the core could go into
// a lower energy state, here it gives other goroutines a chance to run.
func spinLoopHint() {
	runtime.Gosched()
}

// SpinLockBlocking disables interrupts on this core and then takes the
// spinlock. The returned state must be passed to SpinUnlock.
func (c *Core) SpinLockBlocking(s *SpinLock) InterruptState {
	save := c.DisableInterrupts()
	s.LockUnsafeBlocking()
	return save
}

// SpinUnlock releases the spinlock and restores the interrupt state saved by
// SpinLockBlocking.
func (c *Core) SpinUnlock(s *SpinLock, save InterruptState) {
	s.UnlockUnsafe()
	c.RestoreInterrupts(save)
}

// SpinLock returns the spinlock with the given number, or nil if the number is
// out of range.
func (ch *Chip) SpinLock(num int) *SpinLock {
	if num < 0 || num >= len(ch.spinLocks) {
		return nil
	}
	return &ch.spinLocks[num]
}

// NextStriped returns the next spinlock from the striped range, round-robin.
// Several callers will share the same spinlock once the range wraps around.
// Striped spinlocks are never claimed and never released.
func (ch *Chip) NextStriped() *SpinLock {
	n := ch.striped.Add(1) - 1
	size := uint32(ch.board.StripedLast - ch.board.StripedFirst + 1)
	return &ch.spinLocks[ch.board.StripedFirst+int(n%size)]
}

// Claim marks the given spinlock as used, so that ClaimUnused won't return it.
func (ch *Chip) Claim(num int) error {
	if num < 0 || num >= len(ch.spinLocks) {
		return fmt.Errorf("%w: %d", ErrInvalidSpinLock, num)
	}
	bit := uint64(1) << num
	for {
		old := ch.claimed.Load()
		if old&bit != 0 {
			return fmt.Errorf("%w: %d", ErrSpinLockClaimed, num)
		}
		if ch.claimed.CompareAndSwap(old, old|bit) {
			return nil
		}
	}
}

// ClaimUnused claims the first free spinlock of the claim-free range and
// returns its number.
func (ch *Chip) ClaimUnused() (int, error) {
	for num := ch.board.ClaimFreeFirst; num < len(ch.spinLocks); num++ {
		if ch.Claim(num) == nil {
			return num, nil
		}
	}
	return -1, ErrNoUnusedSpinLocks
}

// Unclaim releases a claim on the given spinlock.
func (ch *Chip) Unclaim(num int) {
	if num < 0 || num >= len(ch.spinLocks) {
		return
	}
	bit := uint64(1) << num
	for {
		old := ch.claimed.Load()
		if ch.claimed.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// IsClaimed returns whether the given spinlock is claimed.
func (ch *Chip) IsClaimed(num int) bool {
	if num < 0 || num >= len(ch.spinLocks) {
		return false
	}
	return ch.claimed.Load()&(uint64(1)<<num) != 0
}
