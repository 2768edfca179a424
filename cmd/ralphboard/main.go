// Command ralphboard is a read-only terminal dashboard over a running (or
// finished) ralph run's output store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/egv/super-ralph-lite/internal/board"
	"github.com/egv/super-ralph-lite/internal/eventbus"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/version"
)

type exitFunc func(code int)

// RunMain is main's testable core, matching cmd/ralph's own seam-injection
// convention.
func RunMain(args []string, exit exitFunc, stdout, stderr io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(stdout, "ralphboard")
		return 0
	}

	fs := flag.NewFlagSet("ralphboard", flag.ContinueOnError)
	fs.SetOutput(stderr)

	dataDir := fs.String("data-dir", ".ralph", "Directory holding the output store database")
	runID := fs.String("run-id", "", "Run identifier to watch")
	busKind := fs.String("bus", "", "Event bus backend to subscribe to for live updates: nats or redis (default: poll only)")
	busAddr := fs.String("bus-addr", "", "Address of the bus backend named by --bus")

	if err := fs.Parse(args); err != nil {
		return exitWith(exit, 2)
	}

	if *runID == "" {
		fmt.Fprintln(stderr, "ralphboard: --run-id is required")
		return exitWith(exit, 2)
	}

	st, err := store.Open(filepath.Join(*dataDir, "store.db"))
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralphboard: open store: %w", err))
		return exitWith(exit, 1)
	}
	defer st.Close()

	ctx := context.Background()
	poll := func() board.Snapshot {
		return board.Poll(ctx, st, *runID)
	}

	var teaModel tea.Model
	bus, busErr := dialBus(*busKind, *busAddr)
	if busErr != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralphboard: %w", busErr))
		return exitWith(exit, 2)
	}
	if bus != nil {
		defer bus.Close()
		withBus, err := board.NewModelWithBus(*runID, poll, bus)
		if err != nil {
			fmt.Fprintln(stderr, fmt.Errorf("ralphboard: %w", err))
			return exitWith(exit, 1)
		}
		teaModel = withBus
	} else {
		teaModel = board.NewModel(*runID, poll)
	}

	program := tea.NewProgram(teaModel, tea.WithOutput(stdout))
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralphboard: %w", err))
		return exitWith(exit, 1)
	}
	return exitWith(exit, 0)
}

// dialBus resolves --bus/--bus-addr into a live bus connection, or returns
// nil if the dashboard should stick to poll-only mode. cmd/ralph's own
// default in-process MemoryBus never reaches a separate ralphboard process,
// so cross-process live updates require one of these real backends.
func dialBus(kind, addr string) (eventbus.Bus, error) {
	switch kind {
	case "":
		return nil, nil
	case "nats":
		if addr == "" {
			return nil, fmt.Errorf("--bus-addr is required with --bus=nats")
		}
		return eventbus.DialNATS(addr)
	case "redis":
		if addr == "" {
			return nil, fmt.Errorf("--bus-addr is required with --bus=redis")
		}
		return eventbus.DialRedis(addr), nil
	default:
		return nil, fmt.Errorf("unknown --bus backend %q (want nats or redis)", kind)
	}
}

func exitWith(exit exitFunc, code int) int {
	if exit != nil {
		exit(code)
	}
	return code
}

func main() {
	os.Exit(RunMain(os.Args[1:], nil, os.Stdout, os.Stderr))
}
