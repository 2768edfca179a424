// Command ralph drives one run of the engine loop against a project
// configuration file, per spec.md §4.8.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/egv/super-ralph-lite/internal/config"
	"github.com/egv/super-ralph-lite/internal/engine"
	"github.com/egv/super-ralph-lite/internal/eventbus"
	"github.com/egv/super-ralph-lite/internal/jobqueue"
	"github.com/egv/super-ralph-lite/internal/logging"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/egv/super-ralph-lite/internal/version"
	"github.com/google/uuid"
	"golang.org/x/term"
)

type exitFunc func(code int)

// RunMain is main's testable core: it accepts the process seams (args, exit,
// stdout, stderr) as parameters, matching yolo-runner's own main-wrapping
// convention.
func RunMain(args []string, exit exitFunc, stdout, stderr io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(stdout, "ralph")
		return 0
	}

	fs := flag.NewFlagSet("ralph", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "ralph.yaml", "Path to the project configuration file")
	dataDir := fs.String("data-dir", ".ralph", "Directory for the output store and job queue databases")
	runID := fs.String("run-id", "", "Run identifier (defaults to a fresh UUID)")
	logLevel := fs.String("log-level", "info", "Minimum log level (debug, info, warn, error)")
	busKind := fs.String("bus", "", "Cross-process event bus backend to publish frame/task events to: nats or redis (default: in-process only)")
	busAddr := fs.String("bus-addr", "", "Address of the bus backend named by --bus")

	if err := fs.Parse(args); err != nil {
		return exitWith(exit, 2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitWith(exit, 1)
	}

	if *runID == "" {
		*runID = uuid.NewString()
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: create data dir: %w", err))
		return exitWith(exit, 1)
	}

	logger := logging.New(stdout, *logLevel, logging.Fields{Component: "ralph", RunID: *runID})

	st, err := store.Open(filepath.Join(*dataDir, "store.db"))
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: open store: %w", err))
		return exitWith(exit, 1)
	}
	defer st.Close()

	queue, err := jobqueue.Open(filepath.Join(*dataDir, "jobs.db"))
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: open job queue: %w", err))
		return exitWith(exit, 1)
	}
	defer queue.Close()

	repoVCS := vcs.NewCommandVCS(cfg.RepoRoot)

	eng, err := engine.New(cfg, *runID, st, queue, repoVCS, logger)
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: build engine: %w", err))
		return exitWith(exit, 1)
	}

	if bus, err := dialBus(*busKind, *busAddr); err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: %w", err))
		return exitWith(exit, 1)
	} else if bus != nil {
		eng.Bus = bus
		defer bus.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info(map[string]interface{}{"msg": "run starting", "project": cfg.ProjectName})

	report, err := eng.Run(ctx)
	if err != nil {
		fmt.Fprintln(stderr, fmt.Errorf("ralph: run: %w", err))
		return exitWith(exit, 1)
	}

	printReport(stdout, report)

	if report.Status == engine.StatusFailed {
		return exitWith(exit, 1)
	}
	return exitWith(exit, 0)
}

// printReport renders report as markdown through glamour when stdout is a
// terminal, and falls back to the plain markdown source otherwise (piped
// output, redirected to a file).
func printReport(w io.Writer, report *engine.Report) {
	md := reportMarkdown(report)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if rendered, err := glamour.Render(md, "dark"); err == nil {
			fmt.Fprint(w, rendered)
			return
		}
	}
	fmt.Fprint(w, md)
}

func reportMarkdown(report *engine.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run report\n\n")
	fmt.Fprintf(&b, "- **status**: %s\n", report.Status)
	fmt.Fprintf(&b, "- **frames**: %d\n", report.Frames)
	fmt.Fprintf(&b, "- **landed**: %s\n", listOrNone(report.Landed))
	fmt.Fprintf(&b, "- **evicted**: %s\n", listOrNone(report.Evicted))
	if report.Err != nil {
		fmt.Fprintf(&b, "- **error**: %v\n", report.Err)
	}
	return b.String()
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

// dialBus resolves --bus/--bus-addr into a live bus connection, or returns
// nil to leave the engine on its default in-process MemoryBus. Only a real
// backend here lets a separately-run ralphboard process observe this run's
// frame and task events.
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
