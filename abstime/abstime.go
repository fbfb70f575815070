// Package abstime implements absolute timestamps as used for deadlines by the
// locking primitives: a 64-bit count of microseconds since the chip booted.
package abstime

import (
	"math"
	"time"
)

// Time is an absolute point in time, in microseconds since boot.
type Time uint64

const (
	// Nil is the zero timestamp (the moment of boot).
	Nil Time = 0

	// AtTheEndOfTime is a timestamp that is never reached. Waiting until this
	// time means waiting forever.
	AtTheEndOfTime Time = 1<<63 - 1
)

// Clock is anything that can report the current time in microseconds since
// boot. The machine package implements it for a simulated chip.
type Clock interface {
	TimeUs() uint64
}

// Now returns the current time of the given clock.
func Now(c Clock) Time {
	return Time(c.TimeUs())
}

// IsAtTheEndOfTime returns whether t is the "wait forever" timestamp.
func IsAtTheEndOfTime(t Time) bool {
	return t == AtTheEndOfTime
}

// IsNil returns whether t is the zero timestamp.
func IsNil(t Time) bool {
	return t == Nil
}

// DelayedByUs returns t moved us microseconds into the future. The result
// saturates at AtTheEndOfTime.
func DelayedByUs(t Time, us uint64) Time {
	if IsAtTheEndOfTime(t) {
		return t
	}
	delayed := t + Time(us)
	if delayed < t || delayed >= AtTheEndOfTime {
		// Overflowed past the end of time.
		return AtTheEndOfTime
	}
	return delayed
}

// DelayedByMs returns t moved ms milliseconds into the future.
func DelayedByMs(t Time, ms uint32) Time {
	return DelayedByUs(t, uint64(ms)*1000)
}

// MakeTimeoutTimeUs returns the timestamp us microseconds from now.
func MakeTimeoutTimeUs(c Clock, us uint64) Time {
	return DelayedByUs(Now(c), us)
}

// MakeTimeoutTimeMs returns the timestamp ms milliseconds from now.
func MakeTimeoutTimeMs(c Clock, ms uint32) Time {
	return DelayedByMs(Now(c), ms)
}

// FromDuration returns the timestamp d from now. Negative durations are
// treated as zero.
func FromDuration(c Clock, d time.Duration) Time {
	if d < 0 {
		d = 0
	}
	return MakeTimeoutTimeUs(c, uint64(d/time.Microsecond))
}

// DiffUs returns the number of microseconds from 'from' to 'to'. The result is
// negative if 'to' is before 'from'.
func DiffUs(from, to Time) int64 {
	return int64(to - from)
}

// Reached returns whether the clock has passed (or is exactly at) t.
func Reached(c Clock, t Time) bool {
	if IsAtTheEndOfTime(t) {
		return false
	}
	return Now(c) >= t
}

// Until returns the time left before t is reached, or zero if it already has
// been. For AtTheEndOfTime it returns the largest possible duration.
func Until(c Clock, t Time) time.Duration {
	if IsAtTheEndOfTime(t) {
		return math.MaxInt64
	}
	now := Now(c)
	if now >= t {
		return 0
	}
	left := uint64(t - now)
	if left > math.MaxInt64/uint64(time.Microsecond) {
		return math.MaxInt64
	}
	return time.Duration(left) * time.Microsecond
}
