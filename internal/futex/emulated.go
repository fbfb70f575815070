package futex

import (
	"sync"
	"time"
)

// Emulated futex, for systems without a futex system call. It keeps a stack of
// waiters per futex, guarded by a single lock. This lock is only held for very
// short sequences, just like the atomics spinlock in the runtime.
var (
	emulatedLock    sync.Mutex
	emulatedWaiters = map[*Futex]*stack{}
)

// A single goroutine waiting on a futex.
type waiter struct {
	next *waiter

	// Closed when the waiter is awoken.
	wake chan struct{}
}

// stack is a LIFO container of waiters.
// The zero value is an empty stack.
// Strict ordering is not needed since a wake can be spurious anyway.
type stack struct {
	top *waiter
}

// Push a waiter onto the stack.
func (s *stack) push(w *waiter) {
	s.top, w.next = w, s.top
}

// Pop a waiter off of the stack.
func (s *stack) pop() *waiter {
	w := s.top
	if w != nil {
		s.top = w.next
		w.next = nil
	}
	return w
}

// Remove the given waiter from the stack, if it is still on it.
func (s *stack) remove(w *waiter) bool {
	for p := &s.top; *p != nil; p = &(*p).next {
		if *p == w {
			*p = w.next
			w.next = nil
			return true
		}
	}
	return false
}

func (s *stack) empty() bool {
	return s.top == nil
}

func emulatedWait(f *Futex, cmp uint32, timeout time.Duration) {
	emulatedLock.Lock()
	if f.Uint32.Load() != cmp {
		emulatedLock.Unlock()
		return
	}

	// Push the current goroutine onto the waiter stack.
	w := &waiter{wake: make(chan struct{})}
	s := emulatedWaiters[f]
	if s == nil {
		s = &stack{}
		emulatedWaiters[f] = s
	}
	s.push(w)
	emulatedLock.Unlock()

	if timeout < 0 {
		<-w.wake
		return
	}

	timer := time.NewTimer(timeout)
	select {
	case <-w.wake:
		timer.Stop()
	case <-timer.C:
		// Timed out: make sure a later wake doesn't pick this waiter.
		emulatedLock.Lock()
		if s.remove(w) && s.empty() {
			delete(emulatedWaiters, f)
		}
		emulatedLock.Unlock()
	}
}

func emulatedWake(f *Futex, n int) {
	emulatedLock.Lock()
	s := emulatedWaiters[f]
	if s != nil {
		for ; n > 0; n-- {
			w := s.pop()
			if w == nil {
				break
			}
			close(w.wake)
		}
		if s.empty() {
			delete(emulatedWaiters, f)
		}
	}
	emulatedLock.Unlock()
}
