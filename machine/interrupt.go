package machine

// InterruptState is the interrupt mask of a core as returned by
// DisableInterrupts. It is opaque and must only be passed back to
// RestoreInterrupts on the same core.
type InterruptState uint8

const (
	interruptsOff InterruptState = iota
	interruptsOn
)

// DisableInterrupts masks interrupts on this core and returns the previous
// state.
func (c *Core) DisableInterrupts() InterruptState {
	state := interruptsOff
	if c.interruptsEnabled {
		state = interruptsOn
	}
	c.interruptsEnabled = false
	return state
}

// RestoreInterrupts restores the interrupt mask saved by DisableInterrupts.
// Interrupts that were raised while they were masked are handled now.
func (c *Core) RestoreInterrupts(state InterruptState) {
	c.interruptsEnabled = state == interruptsOn
	if c.interruptsEnabled {
		c.serviceInterrupts()
	}
}

// InterruptsEnabled returns whether interrupts are currently unmasked on this
// core.
func (c *Core) InterruptsEnabled() bool {
	return c.interruptsEnabled
}

// InInterrupt returns whether this core is currently running an interrupt
// handler.
func (c *Core) InInterrupt() bool {
	return c.inInterrupt
}

// Raise requests the given interrupt handler to run on this core. The handler
// runs as soon as the core has interrupts enabled: right away at its next WFE
// or when it restores interrupts.
//
// Raise may be called from any core, or from outside the chip.
func (c *Core) Raise(isr func(c *Core)) {
	c.pendingLock.Lock()
	c.pending = append(c.pending, isr)
	c.pendingLock.Unlock()

	// A pending interrupt also ends a WFE.
	c.chip.sendEvent()
}

// Run pending interrupt handlers. Must be called with interrupts enabled.
func (c *Core) serviceInterrupts() {
	if c.inInterrupt {
		// No nested interrupts.
		return
	}
	for {
		c.pendingLock.Lock()
		pending := c.pending
		c.pending = nil
		c.pendingLock.Unlock()
		if len(pending) == 0 {
			return
		}

		// Handlers run with interrupts masked, like on real hardware.
		c.interruptsEnabled = false
		c.inInterrupt = true
		for _, isr := range pending {
			c.chip.stats.interrupts.Add(1)
			isr(c)
		}
		c.inInterrupt = false
		c.interruptsEnabled = true
	}
}
