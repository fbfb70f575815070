//go:build linux

package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operations, from linux/futex.h. They are not exported by x/sys/unix.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

func (f *Futex) wait(cmp uint32, timeout time.Duration) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	// The return value is ignored on purpose. EAGAIN means the value already
	// changed, ETIMEDOUT means the timeout passed and EINTR means a signal
	// arrived: in all of these cases the caller re-checks its condition.
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&f.Uint32)), futexWait|futexPrivateFlag, uintptr(cmp), uintptr(unsafe.Pointer(ts)), 0, 0)
}

func (f *Futex) wake(n int) {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&f.Uint32)), futexWake|futexPrivateFlag, uintptr(n), 0, 0, 0)
}
