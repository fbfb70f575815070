package machine_test

import (
	"errors"
	"testing"
	"time"

	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/machine"
)

func newChip(t *testing.T, name string) *machine.Chip {
	t.Helper()
	b, err := machine.BoardByName(name)
	if err != nil {
		t.Fatal(err)
	}
	return machine.NewChip(b)
}

func TestBoards(t *testing.T) {
	for _, name := range machine.Boards() {
		b, err := machine.BoardByName(name)
		if err != nil {
			t.Errorf("BoardByName(%q) returned %v", name, err)
			continue
		}
		if err := b.Validate(); err != nil {
			t.Errorf("board %q is invalid: %v", name, err)
		}
	}
	if _, err := machine.BoardByName("arduino"); !errors.Is(err, machine.ErrUnknownBoard) {
		t.Errorf("BoardByName returned %v, want ErrUnknownBoard", err)
	}
	bad := machine.Board{NumCores: 2, NumSpinLocks: 8, StripedFirst: 4, StripedLast: 8}
	if err := bad.Validate(); !errors.Is(err, machine.ErrInvalidBoard) {
		t.Errorf("Validate returned %v, want ErrInvalidBoard", err)
	}
}

func TestNextStriped(t *testing.T) {
	ch := newChip(t, "pico")
	seen := map[int]int{}
	for i := 0; i < 16; i++ {
		s := ch.NextStriped()
		if s.Num() < 16 || s.Num() > 23 {
			t.Fatalf("NextStriped returned spinlock %d, want 16-23", s.Num())
		}
		seen[s.Num()]++
	}
	for num := 16; num <= 23; num++ {
		if seen[num] != 2 {
			t.Errorf("spinlock %d handed out %d times, want 2", num, seen[num])
		}
	}

	// With a single striped spinlock, everything shares it.
	b := ch.Board()
	b.StripedLast = b.StripedFirst
	narrow := machine.NewChip(b)
	if narrow.NextStriped() != narrow.NextStriped() {
		t.Errorf("NextStriped with a single striped spinlock returned different spinlocks")
	}
}

func TestClaim(t *testing.T) {
	ch := newChip(t, "pico")
	num, err := ch.ClaimUnused()
	if err != nil || num != 24 {
		t.Fatalf("ClaimUnused returned %d, %v, want 24, nil", num, err)
	}
	if err := ch.Claim(24); !errors.Is(err, machine.ErrSpinLockClaimed) {
		t.Errorf("Claim of claimed spinlock returned %v, want ErrSpinLockClaimed", err)
	}
	if err := ch.Claim(32); !errors.Is(err, machine.ErrInvalidSpinLock) {
		t.Errorf("Claim(32) returned %v, want ErrInvalidSpinLock", err)
	}
	for i := 25; i < 32; i++ {
		if _, err := ch.ClaimUnused(); err != nil {
			t.Fatalf("ClaimUnused returned %v", err)
		}
	}
	if _, err := ch.ClaimUnused(); !errors.Is(err, machine.ErrNoUnusedSpinLocks) {
		t.Errorf("ClaimUnused on a full bank returned %v, want ErrNoUnusedSpinLocks", err)
	}
	ch.Unclaim(27)
	if ch.IsClaimed(27) {
		t.Errorf("spinlock 27 still claimed after Unclaim")
	}
	if num, err := ch.ClaimUnused(); err != nil || num != 27 {
		t.Errorf("ClaimUnused returned %d, %v, want 27, nil", num, err)
	}
}

func TestSpinLockMutualExclusion(t *testing.T) {
	ch := newChip(t, "riscv-qemu")
	s := ch.SpinLock(3)
	const iterations = 2000
	counter := 0
	for i := 0; i < ch.NumCores(); i++ {
		err := ch.Launch(i, func(c *machine.Core) {
			for j := 0; j < iterations; j++ {
				save := c.SpinLockBlocking(s)
				counter++
				c.SpinUnlock(s, save)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	ch.Wait()
	if want := iterations * ch.NumCores(); counter != want {
		t.Errorf("counter is %d, want %d", counter, want)
	}
	if s.IsLocked() {
		t.Errorf("spinlock still locked")
	}
}

func TestLaunchBusy(t *testing.T) {
	ch := newChip(t, "pico")
	release := make(chan struct{})
	if err := ch.Launch(1, func(c *machine.Core) { <-release }); err != nil {
		t.Fatal(err)
	}
	if err := ch.Launch(1, func(c *machine.Core) {}); !errors.Is(err, machine.ErrCoreBusy) {
		t.Errorf("second Launch returned %v, want ErrCoreBusy", err)
	}
	if err := ch.Launch(2, func(c *machine.Core) {}); !errors.Is(err, machine.ErrInvalidCore) {
		t.Errorf("Launch(2) returned %v, want ErrInvalidCore", err)
	}
	close(release)
	ch.Wait()
	if err := ch.Core(1).Run(func(c *machine.Core) {}); err != nil {
		t.Errorf("Run after the program finished returned %v", err)
	}
}

func TestEventRegister(t *testing.T) {
	ch := newChip(t, "pico")
	err := ch.Core(0).Run(func(c *machine.Core) {
		// An event sent before WFE is remembered: WFE returns at once.
		c.SendEvent()
		done := make(chan struct{})
		go func() {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				panic("WFE with the event register set did not return")
			}
		}()
		c.WaitForEvent()
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWaitForEventWakeup(t *testing.T) {
	ch := newChip(t, "pico")
	woken := make(chan struct{})
	ch.Launch(1, func(c *machine.Core) {
		c.WaitForEvent()
		close(woken)
	})
	// Keep sending events: the first one may arrive before core 1 sleeps, in
	// which case it only sets the event register.
	ch.Core(0).Run(func(c *machine.Core) {
		for {
			c.SendEvent()
			select {
			case <-woken:
				return
			case <-time.After(time.Millisecond):
			}
		}
	})
	ch.Wait()
	if ch.Stats().Events == 0 {
		t.Errorf("no events counted")
	}
}

func TestWaitForEventOrTimeout(t *testing.T) {
	ch := newChip(t, "pico")
	ch.Core(0).Run(func(c *machine.Core) {
		start := time.Now()
		until := abstime.MakeTimeoutTimeMs(ch, 10)
		for !c.WaitForEventOrTimeout(until) {
		}
		if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
			t.Errorf("timed WFE returned after %v, want at least 10ms", elapsed)
		}
		if !c.WaitForEventOrTimeout(until) {
			t.Errorf("timed WFE with a past deadline did not report the deadline")
		}
	})
	if ch.Stats().Timeouts < 2 {
		t.Errorf("Timeouts is %d, want at least 2", ch.Stats().Timeouts)
	}
}

func TestInterruptMasking(t *testing.T) {
	ch := newChip(t, "pico")
	ch.Core(0).Run(func(c *machine.Core) {
		ran := false
		save := c.DisableInterrupts()
		c.Raise(func(c *machine.Core) {
			if !c.InInterrupt() {
				t.Errorf("handler does not run in interrupt context")
			}
			if c.InterruptsEnabled() {
				t.Errorf("handler runs with interrupts enabled")
			}
			ran = true
		})
		if ran {
			t.Errorf("handler ran while interrupts were masked")
		}
		c.RestoreInterrupts(save)
		if !ran {
			t.Errorf("handler did not run when interrupts were restored")
		}
		if !c.InterruptsEnabled() || c.InInterrupt() {
			t.Errorf("interrupt state not restored after the handler")
		}
	})
	if got := ch.Stats().Interrupts; got != 1 {
		t.Errorf("Interrupts is %d, want 1", got)
	}
}

func TestNestedDisable(t *testing.T) {
	ch := newChip(t, "pico")
	ch.Core(0).Run(func(c *machine.Core) {
		outer := c.DisableInterrupts()
		inner := c.DisableInterrupts()
		c.RestoreInterrupts(inner)
		if c.InterruptsEnabled() {
			t.Errorf("inner restore enabled interrupts")
		}
		c.RestoreInterrupts(outer)
		if !c.InterruptsEnabled() {
			t.Errorf("outer restore did not enable interrupts")
		}
	})
}
