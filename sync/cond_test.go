package sync_test

import (
	"fmt"
	"testing"
	"time"

	"tinygo.org/x/picosync/lock"
	"tinygo.org/x/picosync/machine"
	"tinygo.org/x/picosync/sync"
)

// Run a test on both a chip where the mutex and the condition variable have
// their own spinlock and on one where they share it.
func forEachDomain(t *testing.T, test func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond)) {
	for _, aliased := range []bool{false, true} {
		t.Run(fmt.Sprintf("aliased=%v", aliased), func(t *testing.T) {
			ch := newChip(t, aliased)
			m := new(sync.Mutex)
			cond := new(sync.Cond)
			m.Init(ch)
			cond.Init(ch)
			if same := m.SpinLock() == cond.SpinLock(); same != aliased {
				t.Fatalf("mutex and condition variable share a spinlock: %v, want %v", same, aliased)
			}
			test(t, ch, m, cond)
			if m.SpinLock().IsLocked() || cond.SpinLock().IsLocked() {
				t.Errorf("spinlock still locked after the test")
			}
		})
	}
}

// Poll until the registered waiter is the given core.
func awaitWaiter(c *machine.Core, cond *sync.Cond, waiter lock.OwnerID) {
	for {
		if _, w, _ := cond.State(c); w == waiter {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// Poll until pred returns true with m held.
func awaitLocked(c *machine.Core, m *sync.Mutex, pred func() bool) {
	for {
		m.Lock(c)
		ok := pred()
		m.Unlock(c)
		if ok {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func TestCondInit(t *testing.T) {
	ch := newChip(t, false)
	var cond sync.Cond
	if cond.IsInitialized() {
		t.Errorf("zero Cond is initialized")
	}
	cond.Init(ch)
	if !cond.IsInitialized() {
		t.Errorf("Cond not initialized after Init")
	}
	run(t, ch, 0, func(c *machine.Core) {
		broadcasts, waiter, signaled := cond.State(c)
		if broadcasts != 0 || waiter != lock.InvalidOwner || signaled {
			t.Errorf("State returned %d, %d, %v, want 0, %d, false", broadcasts, waiter, signaled, lock.InvalidOwner)
		}
	})
}

func TestCondSignal(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		launch(t, ch,
			func(c *machine.Core) {
				m.Lock(c)
				if !cond.WaitTimeout(c, m, 5*time.Second) {
					t.Errorf("WaitTimeout returned false, want true")
				}
				if owner := m.Owner(c); owner != lock.CallerOwnerID(c) {
					t.Errorf("Owner after the wait is %d, want %d", owner, c.Num())
				}
				if !c.InterruptsEnabled() {
					t.Errorf("interrupts not restored after the wait")
				}
				m.Unlock(c)
			},
			func(c *machine.Core) {
				awaitWaiter(c, cond, 0)
				cond.Signal(c)
			})
		run(t, ch, 2, func(c *machine.Core) {
			if _, waiter, signaled := cond.State(c); waiter.Valid() || signaled {
				t.Errorf("State after the wait: waiter %d, signaled %v", waiter, signaled)
			}
		})
	})
}

func TestCondBroadcast(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		waiting := 0
		inside := 0
		woken := 0
		waiter := func(c *machine.Core) {
			m.Lock(c)
			waiting++
			if !cond.WaitTimeout(c, m, 5*time.Second) {
				t.Errorf("core %d: wait returned false", c.Num())
			}
			inside++
			if inside != 1 {
				t.Errorf("%d cores hold the mutex after the wait", inside)
			}
			woken++
			inside--
			m.Unlock(c)
		}
		launch(t, ch,
			waiter,
			func(c *machine.Core) {
				// Start after core 0 registered.
				awaitWaiter(c, cond, 0)
				waiter(c)
			},
			func(c *machine.Core) {
				// Once both incremented waiting and the mutex is free again,
				// both are inside the wait.
				awaitLocked(c, m, func() bool { return waiting == 2 })
				cond.Broadcast(c)
			})
		if woken != 2 {
			t.Errorf("%d cores woken, want 2", woken)
		}
	})
}

func TestCondWaitTimeout(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		run(t, ch, 0, func(c *machine.Core) {
			m.Lock(c)
			start := time.Now()
			if cond.WaitTimeoutMs(c, m, 10) {
				t.Errorf("WaitTimeoutMs returned true without a signal")
			}
			if elapsed := time.Since(start); elapsed < 10*time.Millisecond || elapsed > time.Second {
				t.Errorf("WaitTimeoutMs returned after %v, want about 10ms", elapsed)
			}
			if owner := m.Owner(c); owner != 0 {
				t.Errorf("Owner after the timeout is %d, want 0", owner)
			}
			if _, waiter, _ := cond.State(c); waiter.Valid() {
				t.Errorf("core %d still registered after the timeout", waiter)
			}
			m.Unlock(c)
		})
	})
}

// The timeout ends the wait, but the mutex is only returned once the core
// holding it lets go.
// A second waiter that times out while another core holds the waiter slot
// leaves the slot alone and returns with the mutex held.
func TestCondWaitTimeoutQueued(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		launch(t, ch,
			func(c *machine.Core) {
				m.Lock(c)
				cond.Wait(c, m)
				m.Unlock(c)
			},
			func(c *machine.Core) {
				awaitWaiter(c, cond, 0)
				m.Lock(c)
				start := time.Now()
				if cond.WaitTimeoutUs(c, m, 20000) {
					t.Errorf("WaitTimeoutUs returned true without a signal")
				}
				if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
					t.Errorf("WaitTimeoutUs returned after %v, want at least 20ms", elapsed)
				}
				if owner := m.Owner(c); owner != lock.CallerOwnerID(c) {
					t.Errorf("Owner returned %d after the timeout, want %d", owner, lock.CallerOwnerID(c))
				}
				if _, waiter, signaled := cond.State(c); waiter != 0 || signaled {
					t.Errorf("State returned waiter %d, signaled %v, want 0, false", waiter, signaled)
				}
				cond.Signal(c)
				m.Unlock(c)
			},
		)
	})
}

func TestCondTimeoutReacquires(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		waiting := false
		done := false
		var returned, released time.Time
		launch(t, ch,
			func(c *machine.Core) {
				m.Lock(c)
				waiting = true
				if cond.WaitTimeoutMs(c, m, 5) {
					t.Errorf("WaitTimeoutMs returned true without a signal")
				}
				returned = time.Now()
				done = true
				m.Unlock(c)
			},
			func(c *machine.Core) {
				for {
					m.Lock(c)
					if waiting {
						break
					}
					m.Unlock(c)
					time.Sleep(50 * time.Microsecond)
				}
				if !done {
					// Took the mutex while core 0 waits: hold it past the
					// deadline.
					time.Sleep(20 * time.Millisecond)
					released = time.Now()
				}
				m.Unlock(c)
			})
		if !released.IsZero() && returned.Before(released) {
			t.Errorf("wait returned %v before the mutex was released", released.Sub(returned))
		}
	})
}

func TestCondSignalWakesOne(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		waiting := 0
		var results [3]bool
		waiter := func(c *machine.Core) {
			m.Lock(c)
			waiting++
			results[c.Num()] = cond.WaitTimeoutMs(c, m, 200)
			m.Unlock(c)
		}
		launch(t, ch, waiter, waiter, waiter, func(c *machine.Core) {
			awaitLocked(c, m, func() bool { return waiting == 3 })
			cond.Signal(c)
		})
		woken := 0
		for _, ok := range results {
			if ok {
				woken++
			}
		}
		if woken != 1 {
			t.Errorf("%d waiters woken by one signal, want 1", woken)
		}
	})
}

func TestCondLostSignal(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		run(t, ch, 0, func(c *machine.Core) {
			cond.Signal(c)
			cond.Broadcast(c)
			broadcasts, waiter, signaled := cond.State(c)
			if signaled || waiter.Valid() {
				t.Errorf("State after lost signals: waiter %d, signaled %v", waiter, signaled)
			}
			if broadcasts != 1 {
				t.Errorf("broadcast generation is %d, want 1", broadcasts)
			}

			// A later waiter does not see the earlier signals.
			m.Lock(c)
			if cond.WaitTimeoutMs(c, m, 5) {
				t.Errorf("WaitTimeoutMs returned true after a lost signal")
			}
			m.Unlock(c)
		})
	})
}

func TestCondWaitWithoutMutex(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		run(t, ch, 0, func(c *machine.Core) {
			expectPanic(t, "Wait without the mutex", func() { cond.Wait(c, m) })
			if !c.InterruptsEnabled() {
				t.Errorf("interrupts not restored after the panic")
			}
		})
		run(t, ch, 0, func(c *machine.Core) { m.Lock(c) })
		run(t, ch, 1, func(c *machine.Core) {
			expectPanic(t, "Wait with a mutex held by another core", func() { cond.Wait(c, m) })
		})
	})
}

// Interrupts are masked inside the wait, except while the core is parked.
func TestCondInterruptWhileParked(t *testing.T) {
	forEachDomain(t, func(t *testing.T, ch *machine.Chip, m *sync.Mutex, cond *sync.Cond) {
		handled := make(chan struct{})
		launch(t, ch,
			func(c *machine.Core) {
				m.Lock(c)
				cond.Wait(c, m)
				select {
				case <-handled:
				default:
					t.Errorf("interrupt not handled while parked")
				}
				m.Unlock(c)
			},
			func(c *machine.Core) {
				awaitWaiter(c, cond, 0)
				ch.Core(0).Raise(func(c *machine.Core) {
					if m.SpinLock().IsLocked() || cond.SpinLock().IsLocked() {
						t.Errorf("interrupt handler runs with a spinlock held")
					}
					close(handled)
				})
				<-handled
				cond.Signal(c)
			})
	})
}
