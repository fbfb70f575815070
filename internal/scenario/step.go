package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Op is the operation of a step.
type Op string

const (
	OpLock        Op = "lock"         // lock M
	OpUnlock      Op = "unlock"       // unlock M
	OpTryLock     Op = "trylock"      // trylock M
	OpLockTimeout Op = "lock-timeout" // lock-timeout M DURATION
	OpWait        Op = "wait"         // wait C M
	OpWaitTimeout Op = "wait-timeout" // wait-timeout C M DURATION
	OpWaitUntil   Op = "wait-until"   // wait-until C M TIME-SINCE-BOOT
	OpSignal      Op = "signal"       // signal C
	OpBroadcast   Op = "broadcast"    // broadcast C
	OpAwaitWaiter Op = "await-waiter" // await-waiter C
	OpSleep       Op = "sleep"        // sleep DURATION
	OpSleepRandom Op = "sleep-random" // sleep-random MAX-DURATION
	OpMark        Op = "mark"         // mark NAME
	OpAwait       Op = "await"        // await NAME
)

type opInfo struct {
	// One letter per argument: m for a mutex, c for a condition variable, d
	// for a duration, n for a mark name.
	args string

	// Whether the operation produces a result that expect= can check.
	result bool
}

var ops = map[Op]opInfo{
	OpLock:        {args: "m"},
	OpUnlock:      {args: "m"},
	OpTryLock:     {args: "m", result: true},
	OpLockTimeout: {args: "md", result: true},
	OpWait:        {args: "cm"},
	OpWaitTimeout: {args: "cmd", result: true},
	OpWaitUntil:   {args: "cmd", result: true},
	OpSignal:      {args: "c"},
	OpBroadcast:   {args: "c"},
	OpAwaitWaiter: {args: "c"},
	OpSleep:       {args: "d"},
	OpSleepRandom: {args: "d"},
	OpMark:        {args: "n"},
	OpAwait:       {args: "n"},
}

// Step is a single parsed step of a core program.
type Step struct {
	Line     string
	Op       Op
	Mutex    string
	Cond     string
	Name     string
	Duration time.Duration

	// Expected result, if the step has one and expect= was given.
	Expect *bool
}

// HasResult returns whether the operation of the step returns a boolean.
func (s *Step) HasResult() bool {
	return ops[s.Op].result
}

// ParseStep parses a step like "wait-timeout c m 10ms expect=false". The line
// is split into words like a shell would.
func ParseStep(line string) (Step, error) {
	step := Step{Line: line}
	words, err := shlex.Split(line)
	if err != nil {
		return step, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	if len(words) == 0 {
		return step, fmt.Errorf("%w: empty step", ErrUnknownOp)
	}

	step.Op = Op(words[0])
	info, ok := ops[step.Op]
	if !ok {
		return step, fmt.Errorf("%w: %q", ErrUnknownOp, words[0])
	}

	var args []string
	for _, word := range words[1:] {
		key, value, isOption := strings.Cut(word, "=")
		if !isOption {
			args = append(args, word)
			continue
		}
		switch key {
		case "expect":
			if !info.result {
				return step, fmt.Errorf("%w: %s has no result to expect", ErrBadValue, step.Op)
			}
			expect, err := strconv.ParseBool(value)
			if err != nil {
				return step, fmt.Errorf("%w: expect=%s", ErrBadValue, value)
			}
			step.Expect = &expect
		default:
			return step, fmt.Errorf("%w: unknown option %q", ErrBadValue, key)
		}
	}

	if len(args) != len(info.args) {
		return step, fmt.Errorf("%w: %s takes %d, got %d", ErrArgs, step.Op, len(info.args), len(args))
	}
	for i, kind := range info.args {
		switch kind {
		case 'm':
			step.Mutex = args[i]
		case 'c':
			step.Cond = args[i]
		case 'n':
			step.Name = args[i]
		case 'd':
			d, err := time.ParseDuration(args[i])
			if err != nil || d < 0 {
				return step, fmt.Errorf("%w: duration %q", ErrBadValue, args[i])
			}
			step.Duration = d
		}
	}
	return step, nil
}

func (s Step) String() string {
	return s.Line
}
