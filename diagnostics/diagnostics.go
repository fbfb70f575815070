// Package diagnostics formats scenario errors and prints them in a consistent
// way.
package diagnostics

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"tinygo.org/x/picosync/internal/scenario"
)

// Position points into a scenario file: either a YAML line, or a step of a
// core.
type Position struct {
	Filename string
	Line     int // YAML line, 1-based, or 0
	Core     int
	Step     int // step of Core, 1-based, or 0
}

// IsValid returns whether the position points to anything more specific than
// the file.
func (pos Position) IsValid() bool {
	return pos.Line > 0 || pos.Step > 0
}

func (pos Position) String() string {
	s := pos.Filename
	switch {
	case pos.Step > 0:
		s += fmt.Sprintf(": core %d step %d", pos.Core, pos.Step)
	case pos.Line > 0:
		s += fmt.Sprintf(":%d", pos.Line)
	}
	return s
}

// A single diagnostic.
type Diagnostic struct {
	Pos Position
	Msg string

	// Source of the step, if available.
	Source string
}

// One or multiple errors of a particular scenario file.
type FileDiagnostic struct {
	Filename    string
	Diagnostics []Diagnostic
}

// Diagnostics of a whole run. This can include errors belonging to multiple
// scenario files.
type RunDiagnostic []FileDiagnostic

// CreateDiagnostics reads the underlying errors in the error object and creates
// a set of diagnostics that's sorted and can be readily printed.
func CreateDiagnostics(err error) RunDiagnostic {
	if err == nil {
		return nil
	}
	return RunDiagnostic{
		createFileDiagnostic(err),
	}
}

// Create diagnostics for a single scenario file.
func createFileDiagnostic(err error) FileDiagnostic {
	var fileDiag FileDiagnostic
	var errs scenario.Errors
	if errors.As(err, &errs) {
		fileDiag.Filename = errs.File
		for _, err := range errs.Errs {
			diags := createDiagnostics(err)
			fileDiag.Diagnostics = append(fileDiag.Diagnostics, diags...)
		}
	} else {
		fileDiag.Diagnostics = createDiagnostics(err)
		if len(fileDiag.Diagnostics) != 0 {
			fileDiag.Filename = fileDiag.Diagnostics[0].Pos.Filename
		}
	}

	// Sort these diagnostics by file/line, then core/step.
	sort.SliceStable(fileDiag.Diagnostics, func(i, j int) bool {
		posI := fileDiag.Diagnostics[i].Pos
		posJ := fileDiag.Diagnostics[j].Pos
		if posI.Filename != posJ.Filename {
			return posI.Filename < posJ.Filename
		}
		if posI.Line != posJ.Line {
			return posI.Line < posJ.Line
		}
		if posI.Core != posJ.Core {
			return posI.Core < posJ.Core
		}
		return posI.Step < posJ.Step
	})

	return fileDiag
}

// Extract diagnostics from the given error and return them as a slice (which
// in many cases will just be a single diagnostic).
func createDiagnostics(err error) []Diagnostic {
	var stepErr *scenario.StepError
	var fileErr *scenario.FileError
	switch {
	case errors.As(err, &stepErr):
		return []Diagnostic{
			{
				Pos: Position{
					Filename: stepErr.File,
					Core:     stepErr.Core,
					Step:     stepErr.Step,
				},
				Msg:    stepErr.Err.Error(),
				Source: stepErr.Line,
			},
		}
	case errors.As(err, &fileErr):
		var typeErr *yaml.TypeError
		if errors.As(fileErr.Err, &typeErr) {
			// One message per problem, each starting with "line N: ".
			var diags []Diagnostic
			for _, msg := range typeErr.Errors {
				line, text := splitLine(msg, "")
				diags = append(diags, Diagnostic{
					Pos: Position{Filename: fileErr.File, Line: line},
					Msg: text,
				})
			}
			return diags
		}
		// Syntax errors look like "yaml: line N: ...".
		line, msg := splitLine(fileErr.Err.Error(), "yaml: ")
		return []Diagnostic{
			{
				Pos: Position{Filename: fileErr.File, Line: line},
				Msg: msg,
			},
		}
	default:
		return []Diagnostic{
			{Msg: err.Error()},
		}
	}
}

// Split "<prefix>line N: msg" into N and msg. Other messages are returned
// unchanged with line 0.
func splitLine(msg, prefix string) (int, string) {
	rest, ok := strings.CutPrefix(msg, prefix+"line ")
	if !ok {
		return 0, msg
	}
	num, rest, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, msg
	}
	line, err := strconv.Atoi(num)
	if err != nil {
		return 0, msg
	}
	return line, strings.TrimSpace(rest)
}

// Write run diagnostics to the given writer with 'wd' as the relative working
// directory.
func (runDiag RunDiagnostic) WriteTo(w io.Writer, wd string) {
	for _, fileDiag := range runDiag {
		fileDiag.WriteTo(w, wd)
	}
}

// Write file diagnostics to the given writer with 'wd' as the relative
// working directory.
func (fileDiag FileDiagnostic) WriteTo(w io.Writer, wd string) {
	if fileDiag.Filename != "" && len(fileDiag.Diagnostics) > 1 {
		fmt.Fprintln(w, "#", RelativePosition(Position{Filename: fileDiag.Filename}, wd).Filename)
	}
	for _, diag := range fileDiag.Diagnostics {
		diag.WriteTo(w, wd)
	}
}

// Write this diagnostic to the given writer with 'wd' as the relative working
// directory.
func (diag Diagnostic) WriteTo(w io.Writer, wd string) {
	if diag.Pos.Filename == "" {
		fmt.Fprintln(w, diag.Msg)
		return
	}
	pos := RelativePosition(diag.Pos, wd)
	if diag.Source != "" {
		fmt.Fprintf(w, "%s: %s: %s\n", pos, diag.Source, diag.Msg)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", pos, diag.Msg)
}

// Convert the position in pos into a path relative to wd if possible.
func RelativePosition(pos Position, wd string) Position {
	// Check whether we even have a working directory.
	if wd == "" || !filepath.IsAbs(pos.Filename) {
		return pos
	}

	// Make the path relative, for easier reading. Ignore any errors in the
	// process (falling back to the absolute path).
	relpath, err := filepath.Rel(wd, pos.Filename)
	if err == nil && !strings.HasPrefix(relpath, "..") {
		pos.Filename = relpath
	}
	return pos
}
