// Package scenario loads and runs multicore scenarios: a board, a set of
// mutexes and condition variables, and one list of steps per core.
//
// A scenario file looks like this:
//
//	board: pico
//	timeout: 2s
//	mutexes:
//	  m: {}
//	conds:
//	  c: {}
//	cores:
//	  0:
//	    - lock m
//	    - wait-timeout c m 1s expect=true
//	    - unlock m
//	  1:
//	    - await-waiter c
//	    - signal c
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"tinygo.org/x/picosync/machine"
)

// DefaultTimeout is the watchdog timeout of scenarios that don't set one.
const DefaultTimeout = 10 * time.Second

// File is the YAML representation of a scenario.
type File struct {
	Board   string            `yaml:"board"`
	Striped []int             `yaml:"striped"` // first and last striped spinlock
	Timeout string            `yaml:"timeout"`
	Mutexes map[string]Object `yaml:"mutexes"`
	Conds   map[string]Object `yaml:"conds"`
	Cores   map[int][]string  `yaml:"cores"`
}

// Object is a mutex or condition variable declaration. By default it gets a
// striped spinlock.
type Object struct {
	SpinLock *int `yaml:"spinlock"` // use this spinlock
	Claim    bool `yaml:"claim"`    // claim an unused spinlock
}

// Scenario is a validated scenario, ready to run.
type Scenario struct {
	Name    string
	Board   machine.Board
	Striped []int // striped range override from the file, or nil
	Timeout time.Duration
	Mutexes map[string]Object
	Conds   map[string]Object
	Cores   map[int][]Step
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses the scenario in data. The name is used in errors.
func Parse(name string, data []byte) (*Scenario, error) {
	var file File
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, &FileError{File: name, Err: err}
	}
	return file.Scenario(name)
}

// Scenario validates the file contents and turns them into a scenario. All
// problems are reported at once in an Errors value.
func (file *File) Scenario(name string) (*Scenario, error) {
	s := &Scenario{
		Name:    name,
		Timeout: DefaultTimeout,
		Mutexes: file.Mutexes,
		Conds:   file.Conds,
		Cores:   make(map[int][]Step),
	}
	fail := func(err error) error {
		return &FileError{File: name, Err: err}
	}

	boardName := file.Board
	if boardName == "" {
		boardName = "pico"
	}
	board, err := machine.BoardByName(boardName)
	if err != nil {
		return nil, fail(err)
	}
	if file.Striped != nil {
		if len(file.Striped) != 2 {
			return nil, fail(fmt.Errorf("%w: striped needs the first and last spinlock", ErrBadValue))
		}
		s.Striped = file.Striped
	}
	if err := s.SetBoard(board); err != nil {
		return nil, fail(err)
	}

	if file.Timeout != "" {
		s.Timeout, err = time.ParseDuration(file.Timeout)
		if err != nil || s.Timeout <= 0 {
			return nil, fail(fmt.Errorf("%w: timeout %q", ErrBadValue, file.Timeout))
		}
	}

	errs := Errors{File: name}
	for _, kind := range []map[string]Object{file.Mutexes, file.Conds} {
		for objName, obj := range kind {
			if obj.SpinLock != nil && obj.Claim {
				errs.Errs = append(errs.Errs, fail(fmt.Errorf("%w: %s", ErrSpinLockSetting, objName)))
			}
			if obj.SpinLock != nil && (*obj.SpinLock < 0 || *obj.SpinLock >= board.NumSpinLocks) {
				errs.Errs = append(errs.Errs, fail(fmt.Errorf("%w: %s: %d", machine.ErrInvalidSpinLock, objName, *obj.SpinLock)))
			}
		}
	}
	for objName := range file.Mutexes {
		if _, ok := file.Conds[objName]; ok {
			errs.Errs = append(errs.Errs, fail(fmt.Errorf("%w: %s", ErrDuplicateName, objName)))
		}
	}

	for _, core := range sortedCores(file.Cores) {
		lines := file.Cores[core]
		stepErr := func(i int, err error) {
			errs.Errs = append(errs.Errs, &StepError{File: name, Core: core, Step: i + 1, Line: lines[i], Err: err})
		}
		if core < 0 || core >= board.NumCores {
			errs.Errs = append(errs.Errs, fail(fmt.Errorf("%w: core %d on %s", ErrUnknownCore, core, board.Name)))
			continue
		}
		steps := make([]Step, 0, len(lines))
		for i, line := range lines {
			step, err := ParseStep(line)
			if err != nil {
				stepErr(i, err)
				continue
			}
			if _, ok := file.Mutexes[step.Mutex]; step.Mutex != "" && !ok {
				stepErr(i, fmt.Errorf("%w: %q", ErrUnknownMutex, step.Mutex))
			}
			if _, ok := file.Conds[step.Cond]; step.Cond != "" && !ok {
				stepErr(i, fmt.Errorf("%w: %q", ErrUnknownCond, step.Cond))
			}
			steps = append(steps, step)
		}
		if len(steps) > 0 {
			s.Cores[core] = steps
		}
	}
	if len(errs.Errs) != 0 {
		return nil, errs
	}
	if len(s.Cores) == 0 {
		return nil, fail(ErrNoCores)
	}
	return s, nil
}

// SetBoard moves the scenario to another board. The striped range override
// of the file, if any, is kept. All cores used by the scenario must exist on
// the new board.
func (s *Scenario) SetBoard(board machine.Board) error {
	if s.Striped != nil {
		board.StripedFirst, board.StripedLast = s.Striped[0], s.Striped[1]
		if err := board.Validate(); err != nil {
			return err
		}
	}
	for core := range s.Cores {
		if core >= board.NumCores {
			return fmt.Errorf("%w: core %d on %s", ErrUnknownCore, core, board.Name)
		}
	}
	s.Board = board
	return nil
}

// Marshal returns the YAML form of the scenario, with the board fully
// resolved.
func (s *Scenario) Marshal() ([]byte, error) {
	file := File{
		Board:   s.Board.Name,
		Striped: []int{s.Board.StripedFirst, s.Board.StripedLast},
		Timeout: s.Timeout.String(),
		Mutexes: s.Mutexes,
		Conds:   s.Conds,
		Cores:   make(map[int][]string),
	}
	for core, steps := range s.Cores {
		for _, step := range steps {
			file.Cores[core] = append(file.Cores[core], step.Line)
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(&file); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedCores[T any](cores map[int]T) []int {
	nums := make([]int, 0, len(cores))
	for num := range cores {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}
