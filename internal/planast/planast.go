// Package planast implements the declarative component-tree AST and its
// construction DSL, per spec.md §4.6 and §9's re-architecture directive:
// "a tagged-variant AST... built by a small tree-construction DSL."
package planast

import "time"

// Kind tags a Node's variant.
type Kind string

const (
	KindWorkflow    Kind = "workflow"
	KindSequence    Kind = "sequence"
	KindParallel    Kind = "parallel"
	KindLoop        Kind = "loop"
	KindBranch      Kind = "branch"
	KindTask        Kind = "task"
	KindWorktree    Kind = "worktree"
	KindMergeQueue  Kind = "merge_queue"
)

// MaxIterationsPolicy governs what happens when a Loop hits its declared
// maxIterations without its until predicate holding.
type MaxIterationsPolicy string

const (
	PolicyFail       MaxIterationsPolicy = "fail"
	PolicyReturnLast MaxIterationsPolicy = "return-last"
)

// ComputeFunc is a pure-Go task body, used for tasks that don't invoke an
// agent (e.g. the merge queue's programmatic steps, static validations).
type ComputeFunc func() (payload map[string]interface{}, err error)

// AgentRef names the agent (or fallback list) a Task should invoke.
type AgentRef struct {
	Agents []string // primary first, fallbacks after; length 1 means no fallback
}

// SkipPredicate reports whether a node should be skipped this frame.
type SkipPredicate func() bool

// UntilPredicate reports whether a Loop has reached its terminal condition.
type UntilPredicate func() bool

// BranchPredicate selects between a Branch's two subtrees.
type BranchPredicate func() bool

// Node is the tagged-variant AST node. Only the fields relevant to Kind are
// populated; this mirrors a sum type via a discriminated struct, the
// idiomatic Go rendering of the source's variant.
type Node struct {
	Kind Kind
	ID   string // required for Task and Loop (as the loop id); a Worktree's id is WorkspaceID

	Children []*Node // Sequence, Parallel, Loop, Worktree, MergeQueue

	// Parallel / MergeQueue
	ConcurrencyCap int // 0 means "inherit global cap"; MergeQueue is always 1

	// Loop
	Until         UntilPredicate
	MaxIterations int
	OnMaxIter     MaxIterationsPolicy

	// Branch
	Predicate    BranchPredicate
	WhenTrue     *Node
	WhenFalse    *Node

	// Task
	Schema         string
	Agent          *AgentRef
	Compute        ComputeFunc
	StaticPayload  map[string]interface{}
	Retries        int
	Timeout        time.Duration
	ContinueOnFail bool
	Skip           SkipPredicate

	// Worktree
	WorkspaceID string
}

// Workflow is the root container; semantically equivalent to Sequence.
func Workflow(children ...*Node) *Node {
	return &Node{Kind: KindWorkflow, Children: children}
}

// Sequence requires children to reach terminal state in declaration order.
func Sequence(children ...*Node) *Node {
	return &Node{Kind: KindSequence, Children: children}
}

// Parallel schedules every non-terminal child up to cap concurrently. cap
// <= 0 means "inherit the global cap."
func Parallel(cap int, children ...*Node) *Node {
	return &Node{Kind: KindParallel, ConcurrencyCap: cap, Children: children}
}

// Loop re-renders children for iteration i+1 once all terminate at
// iteration i, until until holds, maxIterations is reached (per onMaxIter),
// or a render produces no runnable tasks.
func Loop(id string, until UntilPredicate, maxIterations int, onMaxIter MaxIterationsPolicy, children ...*Node) *Node {
	return &Node{Kind: KindLoop, ID: id, Until: until, MaxIterations: maxIterations, OnMaxIter: onMaxIter, Children: children}
}

// Branch activates exactly one of whenTrue/whenFalse based on predicate.
func Branch(predicate BranchPredicate, whenTrue, whenFalse *Node) *Node {
	return &Node{Kind: KindBranch, Predicate: predicate, WhenTrue: whenTrue, WhenFalse: whenFalse}
}

// Task is a leaf. Exactly one of Agent/Compute/StaticPayload should be set
// by the caller; the reconciler doesn't enforce this, callers do.
type TaskOpts struct {
	Schema         string
	Agent          *AgentRef
	Compute        ComputeFunc
	StaticPayload  map[string]interface{}
	Retries        int
	Timeout        time.Duration
	ContinueOnFail bool
	Skip           SkipPredicate
}

func Task(id string, opts TaskOpts) *Node {
	return &Node{
		Kind:           KindTask,
		ID:             id,
		Schema:         opts.Schema,
		Agent:          opts.Agent,
		Compute:        opts.Compute,
		StaticPayload:  opts.StaticPayload,
		Retries:        opts.Retries,
		Timeout:        opts.Timeout,
		ContinueOnFail: opts.ContinueOnFail,
		Skip:           opts.Skip,
	}
}

// Worktree binds children's cwd to the workspace identified by workspaceID.
func Worktree(workspaceID string, children ...*Node) *Node {
	return &Node{Kind: KindWorktree, WorkspaceID: workspaceID, Children: children}
}

// MergeQueue is a Parallel variant with an effective concurrency of 1.
func MergeQueue(children ...*Node) *Node {
	return &Node{Kind: KindMergeQueue, ConcurrencyCap: 1, Children: children}
}
