package planast

import "time"

// Descriptor is one task-descriptor the reconciler emits: everything the
// engine needs to dispatch a task without re-walking the tree, per
// spec.md §4.6.
type Descriptor struct {
	NodeID         string
	Schema         string
	Agent          *AgentRef
	Compute        ComputeFunc
	StaticPayload  map[string]interface{}
	Retries        int
	Timeout        time.Duration
	ContinueOnFail bool
	Skip           SkipPredicate
	Iteration      int
	LoopID         string // "" if not enclosed by a Loop
	WorkspaceID    string // "" if not enclosed by a Worktree
}

// RenderedNode mirrors Node but with Branch already resolved to its active
// subtree and carrying the iteration/loop/workspace context resolved for
// this frame, so the scheduler doesn't need predicates or loop-iteration
// bookkeeping to walk it.
type RenderedNode struct {
	Kind           Kind
	ID             string
	Children       []*RenderedNode
	ConcurrencyCap int
	Iteration      int // meaningful for Loop nodes: the iteration currently rendering
	LoopID         string
	WorkspaceID    string
}

// Snapshot is the reconciler's output: the resolved tree plus the flat list
// of task descriptors reachable in this frame.
type Snapshot struct {
	Root        *RenderedNode
	Descriptors []Descriptor
	ByID        map[string]*RenderedNode
}

// LoopIterations supplies each loop's current iteration counter, keyed by
// loop id. A loop id absent from the map is treated as iteration 0.
type LoopIterations map[string]int

// Render is a pure function of root and the current loop-iteration state:
// it resolves every Branch predicate, threads the current loop iteration
// and enclosing workspace id down to each Task leaf, and collects the flat
// descriptor list the scheduler and engine consume.
func Render(root *Node, iterations LoopIterations) *Snapshot {
	snap := &Snapshot{ByID: map[string]*RenderedNode{}}
	rendered := renderNode(root, iterations, "", 0, "", snap)
	snap.Root = rendered
	return snap
}

func renderNode(n *Node, iterations LoopIterations, loopID string, iteration int, workspaceID string, snap *Snapshot) *RenderedNode {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case KindBranch:
		active := n.WhenFalse
		if n.Predicate != nil && n.Predicate() {
			active = n.WhenTrue
		}
		return renderNode(active, iterations, loopID, iteration, workspaceID, snap)

	case KindLoop:
		it := iterations[n.ID]
		out := &RenderedNode{Kind: KindLoop, ID: n.ID, Iteration: it, LoopID: n.ID, WorkspaceID: workspaceID}
		for _, child := range n.Children {
			out.Children = append(out.Children, renderNode(child, iterations, n.ID, it, workspaceID, snap))
		}
		if n.ID != "" {
			snap.ByID[n.ID] = out
		}
		return out

	case KindWorktree:
		out := &RenderedNode{Kind: KindWorktree, ID: n.WorkspaceID, LoopID: loopID, Iteration: iteration, WorkspaceID: n.WorkspaceID}
		for _, child := range n.Children {
			out.Children = append(out.Children, renderNode(child, iterations, loopID, iteration, n.WorkspaceID, snap))
		}
		return out

	case KindTask:
		out := &RenderedNode{Kind: KindTask, ID: n.ID, LoopID: loopID, Iteration: iteration, WorkspaceID: workspaceID}
		snap.ByID[n.ID] = out
		snap.Descriptors = append(snap.Descriptors, Descriptor{
			NodeID:         n.ID,
			Schema:         n.Schema,
			Agent:          n.Agent,
			Compute:        n.Compute,
			StaticPayload:  n.StaticPayload,
			Retries:        n.Retries,
			Timeout:        n.Timeout,
			ContinueOnFail: n.ContinueOnFail,
			Skip:           n.Skip,
			Iteration:      iteration,
			LoopID:         loopID,
			WorkspaceID:    workspaceID,
		})
		return out

	default: // Workflow, Sequence, Parallel, MergeQueue
		out := &RenderedNode{Kind: n.Kind, ID: n.ID, ConcurrencyCap: n.ConcurrencyCap, LoopID: loopID, Iteration: iteration, WorkspaceID: workspaceID}
		for _, child := range n.Children {
			out.Children = append(out.Children, renderNode(child, iterations, loopID, iteration, workspaceID, snap))
		}
		return out
	}
}
