// Package scheduler implements node-state determination and per-container
// runnable-set computation over a rendered plan tree, per spec.md §4.7.
// It generalizes dpolishuk-yolo-runner/internal/scheduler/graph.go's flat
// dependency-graph ReadySet/state-machine approach to the tree-shaped
// Sequence/Parallel/Loop container semantics the plan AST requires.
package scheduler

import "github.com/egv/super-ralph-lite/internal/planast"

// NodeState is the outcome of the top-down determination in spec.md §4.7.
type NodeState string

const (
	StateSkipped    NodeState = "skipped"
	StateInProgress NodeState = "in-progress"
	StateFinished   NodeState = "finished"
	StateFailed     NodeState = "failed"
	StatePending    NodeState = "pending"
)

func isTerminalState(s NodeState) bool {
	return s == StateFinished || s == StateFailed || s == StateSkipped
}

// Deps supplies the engine-held state the pure tree walk needs: which
// attempts are in flight, how many times a node has failed, whether a
// valid output row exists, and whether a loop has permanently terminated
// (its until predicate held, or it exhausted maxIterations under the fail
// policy).
type Deps interface {
	IsInProgress(nodeID string) bool
	FailureCount(nodeID string) int
	OutputExists(schema, nodeID string, iteration int) bool
	LoopTerminated(loopID string) bool
}

// DetermineState applies spec.md §4.7's top-down rule list to one task
// descriptor.
func DetermineState(d planast.Descriptor, deps Deps) NodeState {
	if d.Skip != nil && d.Skip() {
		return StateSkipped
	}
	if deps.IsInProgress(d.NodeID) {
		return StateInProgress
	}
	if deps.OutputExists(d.Schema, d.NodeID, d.Iteration) {
		return StateFinished
	}
	if d.LoopID != "" && deps.LoopTerminated(d.LoopID) {
		return StateSkipped
	}
	if deps.FailureCount(d.NodeID) >= d.Retries+1 {
		return StateFailed
	}
	return StatePending
}

// Result is the scheduler's per-frame output: the ordered runnable task
// ids and the loop ids that should advance to their next iteration.
type Result struct {
	Runnable     []string
	LoopAdvances []string
}

// Scheduler walks a rendered snapshot and computes Result subject to a
// global concurrency cap plus each Parallel/MergeQueue's own cap.
type Scheduler struct {
	Deps       Deps
	GlobalCap  int
}

// New returns a Scheduler with the given global concurrency cap (spec.md
// §5's WORKFLOW_MAX_CONCURRENCY, default 6, bounded 1-32).
func New(deps Deps, globalCap int) *Scheduler {
	if globalCap <= 0 {
		globalCap = 6
	}
	return &Scheduler{Deps: deps, GlobalCap: globalCap}
}

// Compute returns the runnable set and loop-advance signals for snap.
func (s *Scheduler) Compute(snap *planast.Snapshot) Result {
	descs := descriptorIndex(snap)
	globalBudget := s.GlobalCap
	var loopAdvances []string
	runnable := s.walk(snap.Root, &globalBudget, s.GlobalCap, descs, &loopAdvances)
	return Result{Runnable: runnable, LoopAdvances: loopAdvances}
}

func descriptorIndex(snap *planast.Snapshot) map[string]planast.Descriptor {
	idx := make(map[string]planast.Descriptor, len(snap.Descriptors))
	for _, d := range snap.Descriptors {
		idx[d.NodeID] = d
	}
	return idx
}

// walk returns the runnable task ids reachable from n, decrementing
// globalBudget (shared across the whole frame) and honoring groupBudget
// (the cap of the nearest enclosing Parallel/MergeQueue, or the inherited
// value when n doesn't start a new group).
func (s *Scheduler) walk(n *planast.RenderedNode, globalBudget *int, groupBudget int, descs map[string]planast.Descriptor, loopAdvances *[]string) []string {
	if n == nil || *globalBudget <= 0 || groupBudget <= 0 {
		return nil
	}

	switch n.Kind {
	case planast.KindTask:
		d, ok := descs[n.ID]
		if !ok {
			return nil
		}
		if DetermineState(d, s.Deps) != StatePending {
			return nil
		}
		*globalBudget--
		return []string{n.ID}

	case planast.KindParallel, planast.KindMergeQueue:
		local := groupBudget
		if n.ConcurrencyCap > 0 {
			local = n.ConcurrencyCap
		}
		var out []string
		for _, child := range n.Children {
			if *globalBudget <= 0 || local <= 0 {
				break
			}
			if s.terminal(child, descs) {
				continue
			}
			before := len(out)
			out = append(out, s.walk(child, globalBudget, local, descs, loopAdvances)...)
			local -= len(out) - before
		}
		return out

	case planast.KindLoop:
		if s.Deps.LoopTerminated(n.ID) {
			return nil
		}
		allTerminal := true
		for _, child := range n.Children {
			if !s.terminal(child, descs) {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			*loopAdvances = append(*loopAdvances, n.ID)
			return nil
		}
		return s.walkSequence(n.Children, globalBudget, groupBudget, descs, loopAdvances)

	default: // Workflow, Sequence, Worktree
		return s.walkSequence(n.Children, globalBudget, groupBudget, descs, loopAdvances)
	}
}

// walkSequence implements "first non-terminal child only": it recurses
// into the first child that hasn't reached a terminal state and stops,
// even if that recursion yields no runnable tasks (e.g. the child is
// in-progress).
func (s *Scheduler) walkSequence(children []*planast.RenderedNode, globalBudget *int, groupBudget int, descs map[string]planast.Descriptor, loopAdvances *[]string) []string {
	for _, child := range children {
		if s.terminal(child, descs) {
			continue
		}
		return s.walk(child, globalBudget, groupBudget, descs, loopAdvances)
	}
	return nil
}

// terminal reports whether node (and everything under it) has reached a
// terminal state for the current frame: a Task is terminal per
// DetermineState; a Loop is terminal only once it has permanently ended;
// any other container is terminal iff every child is terminal.
func (s *Scheduler) terminal(n *planast.RenderedNode, descs map[string]planast.Descriptor) bool {
	if n == nil {
		return true
	}
	switch n.Kind {
	case planast.KindTask:
		d, ok := descs[n.ID]
		if !ok {
			return true
		}
		return isTerminalState(DetermineState(d, s.Deps))
	case planast.KindLoop:
		return s.Deps.LoopTerminated(n.ID)
	default:
		for _, child := range n.Children {
			if !s.terminal(child, descs) {
				return false
			}
		}
		return true
	}
}
