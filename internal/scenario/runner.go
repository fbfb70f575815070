package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tinygo.org/x/picosync/abstime"
	"tinygo.org/x/picosync/machine"
	psync "tinygo.org/x/picosync/sync"
)

// Interval at which await-waiter polls the condition variable.
const pollInterval = 100 * time.Microsecond

// Runner runs scenarios on freshly created chips.
type Runner struct {
	log     *zap.Logger
	printer *Printer
	metrics *Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Steps are logged at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithPrinter enables the step trace.
func WithPrinter(p *Printer) Option {
	return func(r *Runner) {
		r.printer = p
	}
}

// WithMetrics records step and chip counters in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner returns a runner. Without options it runs silently.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result describes a finished scenario run.
type Result struct {
	Duration time.Duration
	Stats    machine.Stats

	// Spinlock assigned to every mutex and condition variable.
	SpinLocks map[string]int

	// Number of steps started per core.
	Steps map[int]int
}

// State of one scenario run.
type env struct {
	name    string
	chip    *machine.Chip
	mutexes map[string]*psync.Mutex
	conds   map[string]*psync.Cond

	// Named marks, set by mark and waited for by await. Only accessed with
	// marksLock held.
	marksLock psync.Mutex
	marksCond psync.Cond
	marks     map[string]bool

	// Step currently executed by each core, 1-based.
	progress []atomic.Int32
}

func newEnv(s *Scenario) (*env, error) {
	e := &env{
		name:     s.Name,
		chip:     machine.NewChip(s.Board),
		mutexes:  make(map[string]*psync.Mutex),
		conds:    make(map[string]*psync.Cond),
		marks:    make(map[string]bool),
		progress: make([]atomic.Int32, s.Board.NumCores),
	}
	for _, name := range sortedNames(s.Mutexes) {
		sl, err := e.spinLock(s.Mutexes[name])
		if err != nil {
			return nil, fmt.Errorf("mutex %s: %w", name, err)
		}
		m := new(psync.Mutex)
		m.InitSpinLock(sl)
		e.mutexes[name] = m
	}
	for _, name := range sortedNames(s.Conds) {
		sl, err := e.spinLock(s.Conds[name])
		if err != nil {
			return nil, fmt.Errorf("cond %s: %w", name, err)
		}
		c := new(psync.Cond)
		c.InitSpinLock(sl)
		e.conds[name] = c
	}
	e.marksLock.Init(e.chip)
	e.marksCond.Init(e.chip)
	return e, nil
}

func (e *env) spinLock(obj Object) (*machine.SpinLock, error) {
	switch {
	case obj.SpinLock != nil:
		if sl := e.chip.SpinLock(*obj.SpinLock); sl != nil {
			return sl, nil
		}
		return nil, fmt.Errorf("%w: %d", machine.ErrInvalidSpinLock, *obj.SpinLock)
	case obj.Claim:
		num, err := e.chip.ClaimUnused()
		if err != nil {
			return nil, err
		}
		return e.chip.SpinLock(num), nil
	}
	return e.chip.NextStriped(), nil
}

// Run runs the scenario and returns once all cores finished their steps, a
// step failed, or the watchdog timeout of the scenario expired.
//
// A core parked in a wait can't be interrupted: on failure, cores that are
// still parked are abandoned along with their chip.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	log := r.log.With(zap.String("scenario", s.Name), zap.String("board", s.Board.Name))
	e, err := newEnv(s)
	if err != nil {
		log.Error("setting up scenario failed", zap.Error(err))
		return nil, &FileError{File: s.Name, Err: err}
	}
	res := &Result{
		SpinLocks: make(map[string]int),
		Steps:     make(map[int]int),
	}
	for name, m := range e.mutexes {
		res.SpinLocks[name] = m.SpinLock().Num()
	}
	for name, c := range e.conds {
		res.SpinLocks[name] = c.SpinLock().Num()
	}

	watchdog, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(watchdog)

	log.Info("starting scenario",
		zap.Int("cores", len(s.Cores)),
		zap.Duration("timeout", s.Timeout),
	)
	start := time.Now()
	for _, num := range sortedCores(s.Cores) {
		num := num
		steps := s.Cores[num]
		done := make(chan error, 1)
		err := e.chip.Launch(num, func(c *machine.Core) {
			done <- r.runCore(gctx, e, c, steps, log.With(zap.Int("core", num)))
		})
		if err != nil {
			cancel()
			return nil, err
		}
		g.Go(func() error {
			select {
			case err := <-done:
				return err
			case <-gctx.Done():
			}
			select {
			case err := <-done:
				return err
			default:
			}
			if errors.Is(watchdog.Err(), context.DeadlineExceeded) {
				return e.stuck(num, steps, s.Timeout)
			}
			return gctx.Err()
		})
	}
	err = g.Wait()

	res.Duration = time.Since(start)
	res.Stats = e.chip.Stats()
	for num := range s.Cores {
		res.Steps[num] = int(e.progress[num].Load())
	}
	r.metrics.observeScenario(err, res.Stats)

	fields := []zap.Field{
		zap.Duration("duration", res.Duration),
		zap.Uint64("sev", res.Stats.Events),
		zap.Uint64("wfe", res.Stats.Waits),
		zap.Uint64("wfeTimeouts", res.Stats.Timeouts),
		zap.Uint64("contended", res.Stats.Contended),
	}
	if err != nil {
		log.Error("scenario failed", append(fields, zap.Error(err))...)
		return res, err
	}
	log.Info("scenario finished", fields...)
	return res, nil
}

// Error for a core still running at the watchdog timeout.
func (e *env) stuck(num int, steps []Step, timeout time.Duration) error {
	step := int(e.progress[num].Load())
	if step < 1 {
		step = 1
	}
	return &StepError{
		File: e.name,
		Core: num,
		Step: step,
		Line: steps[step-1].Line,
		Err:  fmt.Errorf("%w (%v)", ErrDeadlock, timeout),
	}
}

func (r *Runner) runCore(ctx context.Context, e *env, c *machine.Core, steps []Step, log *zap.Logger) error {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := &steps[i]
		e.progress[c.Num()].Store(int32(i + 1))
		if err := r.exec(ctx, e, c, step, log); err != nil {
			return &StepError{
				File: e.name,
				Core: c.Num(),
				Step: i + 1,
				Line: step.Line,
				Err:  err,
			}
		}
	}
	return nil
}

// Run a single step on core c. Polling and sleeping steps give up when ctx is
// done.
func (r *Runner) exec(ctx context.Context, e *env, c *machine.Core, step *Step, log *zap.Logger) (err error) {
	m := e.mutexes[step.Mutex]
	cond := e.conds[step.Cond]
	var ok bool
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case step.HasResult():
			result = strconv.FormatBool(ok)
		}
		if err == nil && step.HasResult() && step.Expect != nil && ok != *step.Expect {
			err = fmt.Errorf("%w: got %v, want %v", ErrUnexpected, ok, *step.Expect)
		}
		elapsed := time.Since(start)
		r.metrics.observeStep(step.Op, result, elapsed)
		r.printer.Printf(c.Num(), e.chip.TimeUs(), "%-32s %s", step.Line, result)
		log.Debug("step",
			zap.String("step", step.Line),
			zap.String("result", result),
			zap.Duration("elapsed", elapsed),
		)
	}()

	switch step.Op {
	case OpLock:
		m.Lock(c)
	case OpUnlock:
		m.Unlock(c)
	case OpTryLock:
		ok, _ = m.TryLock(c)
	case OpLockTimeout:
		ok = m.LockUntil(c, abstime.FromDuration(e.chip, step.Duration))
	case OpWait:
		cond.Wait(c, m)
	case OpWaitTimeout:
		ok = cond.WaitTimeout(c, m, step.Duration)
	case OpWaitUntil:
		// Deadline relative to boot.
		until := abstime.Time(step.Duration / time.Microsecond)
		ok = cond.WaitUntil(c, m, until)
	case OpSignal:
		cond.Signal(c)
	case OpBroadcast:
		cond.Broadcast(c)
	case OpAwaitWaiter:
		for {
			if _, waiter, _ := cond.State(c); waiter.Valid() {
				break
			}
			if err := sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
	case OpSleep:
		return sleep(ctx, step.Duration)
	case OpSleepRandom:
		n, err := e.chip.GetRNG()
		if err != nil {
			return err
		}
		return sleep(ctx, time.Duration(uint64(n)%uint64(step.Duration+1)))
	case OpMark:
		e.marksLock.Lock(c)
		e.marks[step.Name] = true
		e.marksCond.Broadcast(c)
		e.marksLock.Unlock(c)
	case OpAwait:
		e.marksLock.Lock(c)
		for !e.marks[step.Name] {
			e.marksCond.Wait(c, &e.marksLock)
		}
		e.marksLock.Unlock(c)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, step.Op)
	}
	return nil
}

func sortedNames(objects map[string]Object) []string {
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sleep for d, or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
