//go:build !linux

package futex

import "time"

func (f *Futex) wait(cmp uint32, timeout time.Duration) {
	emulatedWait(f, cmp, timeout)
}

func (f *Futex) wake(n int) {
	emulatedWake(f, n)
}
