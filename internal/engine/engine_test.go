package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/egv/super-ralph-lite/internal/config"
	"github.com/egv/super-ralph-lite/internal/eventbus"
	"github.com/egv/super-ralph-lite/internal/jobqueue"
	"github.com/egv/super-ralph-lite/internal/logging"
	"github.com/egv/super-ralph-lite/internal/planast"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/egv/super-ralph-lite/internal/workspace"
	"github.com/stretchr/testify/require"
)

func TestAdvanceLoopContinuesBeforeUntilOrCeiling(t *testing.T) {
	fs := newFrameState()
	fs.setLoopMeta("ralph", loopMeta{until: func() bool { return false }, maxIterations: 10, onMaxIter: planast.PolicyReturnLast})
	require.Equal(t, loopContinues, fs.advanceLoop("ralph"))
	require.Equal(t, 1, fs.iteration("ralph"))
}

func TestAdvanceLoopEndsWhenUntilHolds(t *testing.T) {
	fs := newFrameState()
	fs.setLoopMeta("ralph", loopMeta{until: func() bool { return true }, maxIterations: 10, onMaxIter: planast.PolicyFail})
	require.Equal(t, loopEnds, fs.advanceLoop("ralph"))
}

func TestAdvanceLoopFailsRunAtMaxIterationsUnderPolicyFail(t *testing.T) {
	fs := newFrameState()
	fs.setLoopMeta("ralph", loopMeta{until: func() bool { return false }, maxIterations: 1, onMaxIter: planast.PolicyFail})
	require.Equal(t, loopFailsRun, fs.advanceLoop("ralph"))
}

func TestAdvanceLoopReturnsLastAtMaxIterationsUnderPolicyReturnLast(t *testing.T) {
	fs := newFrameState()
	fs.setLoopMeta("ralph", loopMeta{until: func() bool { return false }, maxIterations: 1, onMaxIter: planast.PolicyReturnLast})
	require.Equal(t, loopEnds, fs.advanceLoop("ralph"))
}

func TestAdvanceLoopUnknownLoopIDEndsImmediately(t *testing.T) {
	fs := newFrameState()
	require.Equal(t, loopEnds, fs.advanceLoop("nonexistent"))
}

func TestDepsSatisfySchedulerDeps(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.Row{SchemaKey: "discover", RunID: "run-1", NodeID: "discovery", Iteration: 0,
		Payload: map[string]interface{}{"id": "T-1"}}))

	fs := newFrameState()
	d := deps{fs: fs, store: st, runID: "run-1", ctx: ctx}

	require.True(t, d.OutputExists("discover", "discovery", 0))
	require.False(t, d.OutputExists("discover", "discovery", 1))

	fs.markInProgress("T-1:implement")
	require.True(t, d.IsInProgress("T-1:implement"))
	fs.clearInProgress("T-1:implement")
	require.False(t, d.IsInProgress("T-1:implement"))

	fs.incrementFailure("T-1:implement")
	fs.incrementFailure("T-1:implement")
	require.Equal(t, 2, d.FailureCount("T-1:implement"))

	require.False(t, d.LoopTerminated("ralph"))
	fs.loopDone["ralph"] = true
	require.True(t, d.LoopTerminated("ralph"))
}

// stubTemplater renders only the schema key so scriptedAgentRunner can
// route its canned response without needing to parse a real prompt body;
// prompts.FileTemplater's own rendering is exercised in its own package.
type stubTemplater struct{}

func (stubTemplater) Render(name string, props map[string]interface{}) (string, error) {
	return fmt.Sprintf("schema=%v", props["schema"]), nil
}

// scriptedAgentRunner answers every agent invocation deterministically
// based on the schema the prompt was rendered for, so a single "claude-code"
// agent binary can serve discovery, progress, scheduling, and ticket-stage
// tasks without the tests caring about dispatch order.
type scriptedAgentRunner struct{}

func (scriptedAgentRunner) Run(ctx context.Context, binary string, args []string, prompt string) (string, string, error) {
	schema := strings.TrimPrefix(prompt, "schema=")
	switch schema {
	case "progress":
		return `{"summary":"on track","ticketsLanded":0,"ticketsInFlight":1}`, "", nil
	case "ticket_schedule":
		return `{"jobs":[],"rateLimitedAgents":[]}`, "", nil
	case "implement":
		return `{"ticketId":"T-1","summary":"did it","filesChanged":null,"commitMessage":null}`, "", nil
	case "build_verify":
		return `{"ticketId":"T-1","passed":true,"output":null}`, "", nil
	default:
		return "", "", fmt.Errorf("scriptedAgentRunner: unhandled schema %q", schema)
	}
}

type alwaysPassCI struct{}

func (alwaysPassCI) Run(ctx context.Context, ticketID, workspacePath string) (bool, string, error) {
	return true, "", nil
}

// TestRunDrivesTrivialTicketThroughLanding wires a full Engine over fakes
// for every subprocess/VCS boundary and drives one trivial-tier ticket
// (implement -> build-verify) all the way to a landed merge-queue outcome.
func TestRunDrivesTrivialTicketThroughLanding(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "out.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	q, err := jobqueue.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close()) })

	fakeVCS := vcs.NewFake()
	fakeVCS.SeedBranch("ticket/T-1", vcs.CommitSummary{Revision: "r1", Description: "implement T-1"})

	cfg := &config.Config{
		ProjectName:         "demo",
		RepoRoot:            dir,
		MaxConcurrency:      4,
		MainBranch:          "main",
		MaxSpeculativeDepth: 3,
	}
	logger := logging.New(io.Discard, "error", logging.Fields{Component: "engine-test", RunID: "run-1"})

	eng, err := New(cfg, "run-1", st, q, fakeVCS, logger)
	require.NoError(t, err)

	eng.Templater = stubTemplater{}
	eng.Invoker.Runner = scriptedAgentRunner{}
	eng.Coordinator.CI = alwaysPassCI{}

	// Root workspaces under a hermetic temp dir rather than engine.New's
	// os.TempDir() default, so cleanup never touches real shared state.
	ws := workspace.NewManager(fakeVCS, t.TempDir())
	eng.Workspaces = ws
	eng.Coordinator.Workspaces = ws

	busCh, cancel, err := eng.Bus.Subscribe(eventbus.RunSubject("run-1"))
	require.NoError(t, err)
	t.Cleanup(cancel)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.Row{
		SchemaKey: "discover",
		RunID:     "run-1",
		NodeID:    "discovery",
		Iteration: 0,
		Payload: map[string]interface{}{
			"id":             "T-1",
			"title":          "fix bug",
			"description":    "fix the thing",
			"category":       "bug",
			"priority":       "medium",
			"complexityTier": "trivial",
		},
	}))

	report, err := eng.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, report.Status)
	require.Equal(t, []string{"T-1"}, report.Landed)
	require.Empty(t, report.Evicted)
	require.Equal(t, []string{"main"}, fakeVCS.Pushed())

	var sawTaskCompleted, sawFrame bool
	drain := func() bool {
		select {
		case raw := <-busCh:
			var env eventbus.EventEnvelope
			require.NoError(t, json.Unmarshal(raw, &env))
			require.Equal(t, "run-1", env.RunID)
			switch env.Kind {
			case eventbus.EventTaskCompleted:
				sawTaskCompleted = true
			case eventbus.EventFrame:
				sawFrame = true
			}
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}
	for drain() {
	}
	require.True(t, sawTaskCompleted, "expected at least one task-completed event on the bus")
	require.True(t, sawFrame, "expected at least one frame-boundary event on the bus")
}

// TestRunEvictsTicketOnCIFailure drives the same trivial ticket but with a
// CI runner that always fails, and checks the run still terminates cleanly
// with the ticket evicted rather than landed.
func TestRunEvictsTicketOnCIFailure(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "out.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	q, err := jobqueue.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close()) })

	fakeVCS := vcs.NewFake()
	fakeVCS.SeedBranch("ticket/T-1", vcs.CommitSummary{Revision: "r1", Description: "implement T-1"})

	cfg := &config.Config{
		ProjectName:         "demo",
		RepoRoot:            dir,
		MaxConcurrency:      4,
		MainBranch:          "main",
		MaxSpeculativeDepth: 3,
	}
	logger := logging.New(io.Discard, "error", logging.Fields{Component: "engine-test", RunID: "run-1"})

	eng, err := New(cfg, "run-1", st, q, fakeVCS, logger)
	require.NoError(t, err)

	eng.Templater = stubTemplater{}
	eng.Invoker.Runner = scriptedAgentRunner{}
	eng.Coordinator.CI = alwaysFailCI{}

	ws := workspace.NewManager(fakeVCS, t.TempDir())
	eng.Workspaces = ws
	eng.Coordinator.Workspaces = ws

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.Row{
		SchemaKey: "discover",
		RunID:     "run-1",
		NodeID:    "discovery",
		Iteration: 0,
		Payload: map[string]interface{}{
			"id":             "T-1",
			"title":          "fix bug",
			"description":    "fix the thing",
			"category":       "bug",
			"priority":       "medium",
			"complexityTier": "trivial",
		},
	}))

	report, err := eng.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, report.Status)
	require.Empty(t, report.Landed)
	require.Equal(t, []string{"T-1"}, report.Evicted)
}

type alwaysFailCI struct{}

func (alwaysFailCI) Run(ctx context.Context, ticketID, workspacePath string) (bool, string, error) {
	return false, "build failed", nil
}
