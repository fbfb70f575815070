package machine

import (
	"time"

	"tinygo.org/x/picosync/abstime"
)

// SendEvent executes SEV: it sets the event register of every core on the
// chip, including this one, and wakes all cores parked in WFE. The event is
// not addressed, so every woken core must check whether it was meant for it.
func (c *Core) SendEvent() {
	c.chip.sendEvent()
}

func (ch *Chip) sendEvent() {
	ch.stats.events.Add(1)
	ch.event.Add(1)
	ch.event.WakeAll()
}

// WaitForEvent executes WFE: if the event register of this core is set it is
// cleared and WaitForEvent returns immediately, otherwise the core sleeps
// until the next SEV (or interrupt).
//
// Like the real instruction, this may return spuriously.
func (c *Core) WaitForEvent() {
	c.chip.stats.waits.Add(1)
	c.waitForEvent(-1)
}

// WaitForEventOrTimeout is a WFE that also ends once the deadline passes, in
// the way best_effort_wfe_or_timeout arms a timer alarm to send an event. It
// returns whether the deadline has been reached. A wait until the end of time
// is a plain WFE.
func (c *Core) WaitForEventOrTimeout(until abstime.Time) (reached bool) {
	if abstime.IsAtTheEndOfTime(until) {
		c.WaitForEvent()
		return false
	}
	c.chip.stats.waits.Add(1)
	if timeout := abstime.Until(c.chip, until); timeout > 0 {
		c.waitForEvent(timeout)
	}
	if abstime.Reached(c.chip, until) {
		c.chip.stats.timeouts.Add(1)
		return true
	}
	return false
}

func (c *Core) waitForEvent(timeout time.Duration) {
	seq := c.chip.event.Load()
	if seq == c.seenEvent {
		// Event register is clear: sleep until the sequence number changes.
		if timeout < 0 {
			c.chip.event.Wait(seq)
		} else {
			c.chip.event.WaitTimeout(seq, timeout)
		}
		seq = c.chip.event.Load()
	}
	c.seenEvent = seq

	// Interrupts are taken as soon as the core wakes up, if they are enabled.
	if c.interruptsEnabled {
		c.serviceInterrupts()
	}
}
