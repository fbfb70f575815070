package scenario

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Printer writes a trace line for every executed step. Lines of core 1, 2 and
// 3 are colored green, yellow and blue.
type Printer struct {
	lock  sync.Mutex
	w     io.Writer
	color bool
}

// NewPrinter returns a printer writing to w. Escape codes are only written if
// color is set.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

// NewTerminalPrinter returns a printer for f. Colors are enabled when f is a
// terminal, and translated to console API calls where needed.
func NewTerminalPrinter(f *os.File) *Printer {
	color := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	if !color {
		return NewPrinter(colorable.NewNonColorable(f), false)
	}
	return NewPrinter(colorable.NewColorable(f), true)
}

var coreColors = map[int]string{
	1: "\x1b[32m", // green
	2: "\x1b[33m", // yellow
	3: "\x1b[34m", // blue
}

// Printf writes one trace line for the given core. The time is the chip time
// in microseconds.
func (p *Printer) Printf(core int, timeUs uint64, format string, args ...interface{}) {
	if p == nil {
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	color, colored := coreColors[core]
	colored = colored && p.color
	if colored {
		io.WriteString(p.w, color)
	}
	fmt.Fprintf(p.w, "%6d.%03dms core %d: ", timeUs/1000, timeUs%1000, core)
	fmt.Fprintf(p.w, format, args...)
	if colored {
		io.WriteString(p.w, "\x1b[0m") // reset colored output
	}
	io.WriteString(p.w, "\n")
}
