// Command condsim runs multicore mutex and condition variable scenarios on a
// simulated board.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tinygo.org/x/picosync/diagnostics"
	"tinygo.org/x/picosync/internal/scenario"
	"tinygo.org/x/picosync/machine"
)

func usage(command string) {
	switch command {
	default:
		fmt.Fprintln(os.Stderr, "condsim runs condition variable scenarios on a simulated multicore chip.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "usage:")
		fmt.Fprintln(os.Stderr, "  condsim <command> [arguments]")
		fmt.Fprintln(os.Stderr, "\ncommands:")
		fmt.Fprintln(os.Stderr, "  run:    run scenario files")
		fmt.Fprintln(os.Stderr, "  check:  check scenario files without running them")
		fmt.Fprintln(os.Stderr, "  boards: list the boards that can be simulated")
		fmt.Fprintln(os.Stderr, "  help:   print this help text")

		if command == "" {
			fmt.Fprintln(os.Stderr, "\nflags:")
			flag.PrintDefaults()
		}
	case "run", "check":
		fmt.Fprintf(os.Stderr, "usage: condsim %s [flags] <file.yaml>...\n", command)
		fmt.Fprintln(os.Stderr, "\nflags:")
		flag.PrintDefaults()
	case "boards":
		fmt.Fprintln(os.Stderr, "usage: condsim boards")
	}
}

// Print diagnostics for err to stderr.
func printError(err error) {
	wd, _ := os.Getwd()
	diagnostics.CreateDiagnostics(err).WriteTo(os.Stderr, wd)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func newPrinter(mode string) (*scenario.Printer, error) {
	switch mode {
	case "auto":
		return scenario.NewTerminalPrinter(os.Stdout), nil
	case "always":
		return scenario.NewPrinter(colorable.NewColorable(os.Stdout), true), nil
	case "never":
		return scenario.NewPrinter(colorable.NewNonColorable(os.Stdout), false), nil
	}
	return nil, fmt.Errorf("invalid -color value %q: must be auto, always or never", mode)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "No command-line arguments supplied.")
		usage("")
		os.Exit(1)
	}
	command := os.Args[1]

	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	color := flag.String("color", "auto", "color the step trace: auto, always, never")
	trace := flag.Bool("trace", true, "print every step as it executes")
	printMetrics := flag.Bool("metrics", false, "print Prometheus metrics after running")
	timeout := flag.Duration("timeout", 0, "override the watchdog timeout of every scenario")
	board := flag.String("board", "", "override the board of every scenario")

	if command == "help" || command == "-h" || command == "--help" {
		if len(os.Args) > 2 {
			usage(os.Args[2])
		} else {
			usage("")
		}
		return
	}
	flag.CommandLine.Parse(os.Args[2:])

	switch command {
	case "boards":
		for _, name := range machine.Boards() {
			b, _ := machine.BoardByName(name)
			fmt.Printf("%-16s %-10s %d cores, spinlocks %d (striped %d-%d, claimable from %d)\n",
				b.Name, b.Device, b.NumCores, b.NumSpinLocks, b.StripedFirst, b.StripedLast, b.ClaimFreeFirst)
		}
	case "check", "run":
		if flag.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "No scenario files given.")
			usage(command)
			os.Exit(1)
		}
		scenarios, ok := loadAll(flag.Args(), *board, *timeout)
		if command == "check" {
			if !ok {
				os.Exit(1)
			}
			for _, s := range scenarios {
				fmt.Printf("ok   %s (%s, %d cores)\n", s.Name, s.Board.Name, len(s.Cores))
			}
			return
		}
		if !ok {
			os.Exit(1)
		}

		log, err := newLogger(*logLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer log.Sync()
		opts := []scenario.Option{scenario.WithLogger(log)}
		if *trace {
			printer, err := newPrinter(*color)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			opts = append(opts, scenario.WithPrinter(printer))
		}
		registry := prometheus.NewRegistry()
		if *printMetrics {
			metrics, err := scenario.NewMetrics("condsim", registry)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			opts = append(opts, scenario.WithMetrics(metrics))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ok = runAll(ctx, scenario.NewRunner(opts...), scenarios)

		if *printMetrics {
			if err := scenario.WriteText(os.Stdout, registry); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				ok = false
			}
		}
		if !ok {
			log.Sync()
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", command)
		usage("")
		os.Exit(1)
	}
}

// Load all scenario files, printing diagnostics for the broken ones.
func loadAll(paths []string, board string, timeout time.Duration) ([]*scenario.Scenario, bool) {
	var scenarios []*scenario.Scenario
	ok := true
	for _, path := range paths {
		s, err := scenario.Load(path)
		if err == nil && board != "" {
			err = overrideBoard(s, board)
		}
		if err != nil {
			printError(err)
			ok = false
			continue
		}
		if timeout > 0 {
			s.Timeout = timeout
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, ok
}

// Move s to the named board, keeping its striped range override.
func overrideBoard(s *scenario.Scenario, name string) error {
	board, err := machine.BoardByName(name)
	if err == nil {
		err = s.SetBoard(board)
	}
	if err != nil {
		return &scenario.FileError{File: s.Name, Err: err}
	}
	return nil
}

func runAll(ctx context.Context, r *scenario.Runner, scenarios []*scenario.Scenario) bool {
	ok := true
	for _, s := range scenarios {
		res, err := r.Run(ctx, s)
		if err != nil {
			fmt.Printf("FAIL %s\n", s.Name)
			printError(err)
			ok = false
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Printf("ok   %s (%s, %v, %s)\n", s.Name, s.Board.Name, res.Duration.Round(time.Microsecond), formatStats(res.Stats))
	}
	return ok
}

func formatStats(stats machine.Stats) string {
	parts := []string{
		fmt.Sprintf("%d SEV", stats.Events),
		fmt.Sprintf("%d WFE", stats.Waits),
	}
	if stats.Timeouts != 0 {
		parts = append(parts, fmt.Sprintf("%d timed out", stats.Timeouts))
	}
	if stats.Contended != 0 {
		parts = append(parts, fmt.Sprintf("%d contended", stats.Contended))
	}
	return strings.Join(parts, ", ")
}
