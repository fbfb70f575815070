package machine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/picosync/internal/futex"
)

// Chip is a simulated multicore chip.
type Chip struct {
	board Board
	cores []Core
	boot  time.Time

	spinLocks []SpinLock

	// Bitset of claimed spinlocks.
	claimed atomic.Uint64

	// Next striped spinlock to hand out, relative to StripedFirst.
	striped atomic.Uint32

	// Event sequence number, incremented on every SEV. Cores parked in WFE
	// sleep on this word.
	event futex.Futex

	// Programs started with Launch.
	launched sync.WaitGroup

	stats struct {
		events     atomic.Uint64
		waits      atomic.Uint64
		timeouts   atomic.Uint64
		contended  atomic.Uint64
		interrupts atomic.Uint64
	}
}

// Core is one execution unit of a chip.
type Core struct {
	chip *Chip
	num  int

	// True while a program runs on this core.
	running atomic.Bool

	// Event sequence number seen by the last WFE on this core. If the chip
	// sequence number is different, the event register is set.
	seenEvent uint32

	// Interrupt state, only accessed from the core itself.
	interruptsEnabled bool
	inInterrupt       bool

	// Interrupts raised from anywhere, waiting to be handled on this core.
	pendingLock sync.Mutex
	pending     []func(c *Core)
}

// NewChip creates the chip found on the given board. It panics if the board
// is invalid, use Board.Validate to check first.
func NewChip(b Board) *Chip {
	if err := b.Validate(); err != nil {
		panic(err)
	}
	ch := &Chip{
		board:     b,
		cores:     make([]Core, b.NumCores),
		boot:      time.Now(),
		spinLocks: make([]SpinLock, b.NumSpinLocks),
	}
	for i := range ch.cores {
		ch.cores[i].chip = ch
		ch.cores[i].num = i
		ch.cores[i].interruptsEnabled = true
	}
	for i := range ch.spinLocks {
		ch.spinLocks[i].chip = ch
		ch.spinLocks[i].num = i
	}
	return ch
}

// Board returns the board this chip was created from.
func (ch *Chip) Board() Board {
	return ch.board
}

// NumCores returns the number of cores on this chip.
func (ch *Chip) NumCores() int {
	return len(ch.cores)
}

// Core returns the core with the given number, or nil if there is no such
// core.
func (ch *Chip) Core(num int) *Core {
	if num < 0 || num >= len(ch.cores) {
		return nil
	}
	return &ch.cores[num]
}

// Launch starts fn on the given core in the background, like
// multicore_launch_core1 does on real hardware. Use Wait to wait for all
// launched programs to finish.
func (ch *Chip) Launch(num int, fn func(c *Core)) error {
	c := ch.Core(num)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrInvalidCore, num)
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: core %d", ErrCoreBusy, num)
	}
	ch.launched.Add(1)
	go func() {
		defer ch.launched.Done()
		defer c.running.Store(false)
		c.exec(fn)
	}()
	return nil
}

// Wait blocks until all programs started with Launch have returned.
func (ch *Chip) Wait() {
	ch.launched.Wait()
}

// Stats returns a snapshot of the hardware event counters.
func (ch *Chip) Stats() Stats {
	return Stats{
		Events:     ch.stats.events.Load(),
		Waits:      ch.stats.waits.Load(),
		Timeouts:   ch.stats.timeouts.Load(),
		Contended:  ch.stats.contended.Load(),
		Interrupts: ch.stats.interrupts.Load(),
	}
}

// Num returns the core number, starting at 0.
func (c *Core) Num() int {
	return c.num
}

// Chip returns the chip this core belongs to.
func (c *Core) Chip() *Chip {
	return c.chip
}

// Run runs fn on this core, in the calling goroutine, and returns once fn
// returns. It fails if another program is already running on the core.
func (c *Core) Run(fn func(c *Core)) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: core %d", ErrCoreBusy, c.num)
	}
	defer c.running.Store(false)
	c.exec(fn)
	return nil
}

func (c *Core) exec(fn func(c *Core)) {
	// A core runs one instruction stream: keep it on a single OS thread so
	// that cores actually run in parallel and a parked core really sleeps.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Every program starts with interrupts enabled.
	c.interruptsEnabled = true
	c.inInterrupt = false
	fn(c)
}
