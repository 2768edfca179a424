// Package engine implements the Engine Loop: render -> schedule -> execute
// -> persist -> repeat, per spec.md §4.8. It wires together every other
// package (store, jobqueue, planast, scheduler, ctxaccessor, ticket,
// agentinvoker, codingagent, bridge, mergequeue, vcs, workspace, prompts)
// into the one fixed-point computation the rest of the system exists to
// drive.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/egv/super-ralph-lite/internal/agentinvoker"
	"github.com/egv/super-ralph-lite/internal/bridge"
	"github.com/egv/super-ralph-lite/internal/codingagent"
	"github.com/egv/super-ralph-lite/internal/config"
	"github.com/egv/super-ralph-lite/internal/ctxaccessor"
	"github.com/egv/super-ralph-lite/internal/eventbus"
	"github.com/egv/super-ralph-lite/internal/jobqueue"
	"github.com/egv/super-ralph-lite/internal/logging"
	"github.com/egv/super-ralph-lite/internal/mergequeue"
	"github.com/egv/super-ralph-lite/internal/planast"
	"github.com/egv/super-ralph-lite/internal/prompts"
	"github.com/egv/super-ralph-lite/internal/resume"
	"github.com/egv/super-ralph-lite/internal/scheduler"
	"github.com/egv/super-ralph-lite/internal/schema"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/ticket"
	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/egv/super-ralph-lite/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// maxRalphIterations bounds the top-level ralph loop; it is deliberately
// generous since real termination comes from ralphUntil, not this ceiling.
const maxRalphIterations = 500

// Status is the terminal state a run ends in, per spec.md §4.8 step 6.
type Status string

const (
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Report is what Run returns: the terminal status, the number of frames
// run, the ids of landed and evicted tickets, and the error that ended the
// run, if any. It carries no eviction reasons and does not list the tasks
// that failed terminally.
type Report struct {
	Status  Status
	Frames  int
	Landed  []string
	Evicted []string
	Err     error
}

// Engine wires every collaborator package together and drives the frame
// loop.
type Engine struct {
	Store       *store.Store
	Queue       *jobqueue.Queue
	Validator   *schema.Validator
	Invoker     *agentinvoker.Invoker
	Templater   prompts.Templater
	Catalog     *codingagent.Catalog
	Config      *config.Config
	VCS         vcs.VCS
	Workspaces  *workspace.Manager
	Coordinator *mergequeue.Coordinator
	Bridge      *bridge.Bridge
	Logger      *logging.Logger
	RunID       string

	// Bus publishes one EventEnvelope per completed task and one per frame
	// boundary, per spec.md's dashboard-fan-out design; defaults to an
	// in-process MemoryBus, overridable by tests and by cmd/ralph when a
	// cross-process backend is configured.
	Bus eventbus.Bus

	// ResumeCandidates is populated once at the start of Run from
	// resume.Scan and surfaced to the scheduler agent as tickets with
	// priority over fresh discovery, per spec.md §4.13.
	ResumeCandidates []resume.Candidate
}

// New wires the collaborators built from cfg into a ready-to-run Engine.
func New(cfg *config.Config, runID string, st *store.Store, q *jobqueue.Queue, v vcs.VCS, logger *logging.Logger) (*Engine, error) {
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidator(schema.DefaultCatalog())
	if err != nil {
		return nil, fmt.Errorf("engine: build validator: %w", err)
	}
	ws := workspace.NewManager(v, os.TempDir())
	coordinator := &mergequeue.Coordinator{
		VCS:        v,
		Workspaces: ws,
		MainBranch: cfg.MainBranch,
		Depth:      cfg.MaxSpeculativeDepth,
	}
	return &Engine{
		Store:       st,
		Queue:       q,
		Validator:   validator,
		Invoker:     agentinvoker.New(validator),
		Templater:   prompts.NewFileTemplater(""),
		Catalog:     catalog,
		Config:      cfg,
		VCS:         v,
		Workspaces:  ws,
		Coordinator: coordinator,
		Bridge:      bridge.New(q, nil),
		Logger:      logger,
		Bus:         eventbus.NewMemoryBus(),
		RunID:       runID,
	}, nil
}

// agentOverridesDir is where a project may drop custom agent definition
// YAML files, mirroring
// dpolishuk-yolo-runner/internal/codingagents/catalog.go's
// ".yolo-runner/coding-agents" custom-backend directory convention.
const agentOverridesDir = ".ralph/agents"

// buildCatalog turns cfg.AgentPool into a codingagent.Catalog, honoring
// isScheduler/isMergeQueue role flags, per spec.md §6's agent pool
// configuration input. An empty pool falls back to DefaultPool() so a
// bare-minimum ralph.yaml still runs. Either way, any *.yaml files under
// agentOverridesDir in the repo root are merged on top last, letting an
// operator patch in a one-off backend without touching ralph.yaml.
func buildCatalog(cfg *config.Config) (*codingagent.Catalog, error) {
	var catalog *codingagent.Catalog
	if len(cfg.AgentPool) == 0 {
		catalog = codingagent.DefaultPool()
	} else {
		entries := make(map[string]codingagent.PoolEntry, len(cfg.AgentPool))
		for id, e := range cfg.AgentPool {
			entries[id] = codingagent.PoolEntry{
				Type:                e.Type,
				Model:               e.Model,
				Binary:              e.Binary,
				Args:                e.Args,
				SupportedModels:     e.SupportedModels,
				RequiredCredentials: e.RequiredCredentials,
				IsScheduler:         e.IsScheduler,
				IsMergeQueue:        e.IsMergeQueue,
			}
		}
		catalog = codingagent.NewPool(entries)
	}
	if err := catalog.LoadOverrides(filepath.Join(cfg.RepoRoot, agentOverridesDir)); err != nil {
		return nil, fmt.Errorf("engine: load agent overrides: %w", err)
	}
	return catalog, nil
}

func (e *Engine) publishEvent(env eventbus.EventEnvelope) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(eventbus.RunSubject(e.RunID), env); err != nil && e.Logger != nil {
		e.Logger.Warn(map[string]interface{}{"message": "engine: publish event failed", "error": err.Error()})
	}
}

// Run drives the fixed-point loop until termination, per spec.md §4.8.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	fs := newFrameState()

	candidates, err := resume.Scan(ctx, e.Store, e.RunID)
	if err != nil {
		return nil, fmt.Errorf("engine: resume scan: %w", err)
	}
	e.ResumeCandidates = candidates

	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
			return &Report{Status: StatusCancelled, Frames: frame}, nil
		default:
		}

		accessor := ctxaccessor.New(ctx, e.Store, e.RunID)
		discoveryRows, err := e.discoveryRows(ctx)
		if err != nil {
			return nil, err
		}
		tickets := ticket.FoldDiscoveries(discoveryRows)

		root := e.buildPlan(accessor, tickets, fs)
		iterations := planast.LoopIterations{ralphLoopID: fs.iteration(ralphLoopID)}
		snap := planast.Render(root, iterations)

		sched := scheduler.New(deps{fs: fs, store: e.Store, runID: e.RunID, ctx: ctx}, e.Config.MaxConcurrency)
		result := sched.Compute(snap)

		if err := e.reconcileJobQueue(ctx, accessor, fs.iteration(ralphLoopID)); err != nil {
			return nil, fmt.Errorf("engine: reconcile job queue: %w", err)
		}

		activeJobs, err := e.Queue.Active(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: list active jobs: %w", err)
		}

		if len(result.Runnable) == 0 && len(result.LoopAdvances) == 0 && len(activeJobs) == 0 {
			return e.finalReport(ctx, StatusFinished, frame, tickets), nil
		}

		descByID := descriptorIndex(snap)
		if failReport, err := e.dispatchFrame(ctx, result.Runnable, descByID, accessor, fs, frame); failReport != nil || err != nil {
			return failReport, err
		}

		for _, loopID := range result.LoopAdvances {
			switch fs.advanceLoop(loopID) {
			case loopFailsRun:
				return e.finalReport(ctx, StatusFailed, frame, tickets), nil
			}
		}

		e.publishEvent(eventbus.EventEnvelope{Kind: eventbus.EventFrame, RunID: e.RunID, Frame: frame, At: time.Now()})
	}
}

func descriptorIndex(snap *planast.Snapshot) map[string]planast.Descriptor {
	idx := make(map[string]planast.Descriptor, len(snap.Descriptors))
	for _, d := range snap.Descriptors {
		idx[d.NodeID] = d
	}
	return idx
}

func (e *Engine) discoveryRows(ctx context.Context) ([]ticket.DiscoveryRow, error) {
	rows, err := e.Store.Scan(ctx, "discover", e.RunID)
	if err != nil {
		return nil, fmt.Errorf("engine: scan discover rows: %w", err)
	}
	out := make([]ticket.DiscoveryRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ticket.DiscoveryRow{Iteration: r.Iteration, Payload: r.Payload})
	}
	return out, nil
}

type dispatchOutcome struct {
	err       error
	failed    bool
	cancelled bool
}

// dispatchFrame runs every runnable task concurrently over a worker pool
// bounded by the configured concurrency (errgroup applies its own natural
// backpressure since the scheduler already trimmed the set to the budget),
// and awaits them all before the frame ends, per spec.md §4.8's "no
// pipelining across frames."
func (e *Engine) dispatchFrame(ctx context.Context, runnable []string, descByID map[string]planast.Descriptor, accessor *ctxaccessor.Accessor, fs *frameState, frame int) (*Report, error) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var firstFailure error

	for _, id := range runnable {
		id := id
		d := descByID[id]
		fs.markInProgress(id)
		g.Go(func() error {
			defer fs.clearInProgress(id)
			outcome := e.dispatch(gctx, d, accessor)
			if outcome.cancelled {
				return nil
			}
			if outcome.failed {
				fs.incrementFailure(id)
				if !d.ContinueOnFail {
					mu.Lock()
					if firstFailure == nil {
						firstFailure = fmt.Errorf("engine: task %s failed: %w", id, outcome.err)
					}
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if firstFailure != nil {
		return &Report{Status: StatusFailed, Frames: frame, Err: firstFailure}, nil
	}
	return nil, nil
}

func (e *Engine) finalReport(ctx context.Context, status Status, frame int, tickets map[string]ticket.Ticket) *Report {
	report := &Report{Status: status, Frames: frame}
	for id := range tickets {
		row, err := e.Store.GetLatest(ctx, "land", e.RunID, id+":land")
		if err != nil {
			continue
		}
		if landed, _ := row.Payload["landed"].(string); landed == "yes" {
			report.Landed = append(report.Landed, id)
		}
		if evicted, _ := row.Payload["evicted"].(string); evicted == "yes" {
			report.Evicted = append(report.Evicted, id)
		}
	}
	return report
}
