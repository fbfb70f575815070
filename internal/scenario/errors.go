package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOp       = errors.New("scenario: unknown operation")
	ErrArgs            = errors.New("scenario: wrong number of arguments")
	ErrUnknownMutex    = errors.New("scenario: unknown mutex")
	ErrUnknownCond     = errors.New("scenario: unknown condition variable")
	ErrUnknownCore     = errors.New("scenario: no such core on this board")
	ErrBadValue        = errors.New("scenario: bad value")
	ErrUnexpected      = errors.New("scenario: unexpected result")
	ErrPanic           = errors.New("scenario: core panicked")
	ErrDeadlock        = errors.New("scenario: cores still running at the watchdog timeout")
	ErrNoCores         = errors.New("scenario: no core has any steps")
	ErrDuplicateName   = errors.New("scenario: name used for both a mutex and a condition variable")
	ErrSpinLockSetting = errors.New("scenario: spinlock and claim are mutually exclusive")
)

// StepError is an error in a single step of a scenario, found either while
// loading it or while running it.
type StepError struct {
	File string
	Core int
	Step int    // 1-based index in the step list of the core
	Line string // step source
	Err  error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("core %d step %d (%s): %v", e.Core, e.Step, e.Line, e.Err)
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	return msg
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FileError is an error about a scenario file as a whole, like a YAML syntax
// error.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return e.File + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Errors is a list of problems found in one scenario.
type Errors struct {
	File string
	Errs []error
}

func (e Errors) Error() string {
	var b strings.Builder
	for i, err := range e.Errs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e Errors) Unwrap() []error {
	return e.Errs
}
