package engine

import (
	"context"
	"sync"

	"github.com/egv/super-ralph-lite/internal/planast"
	"github.com/egv/super-ralph-lite/internal/store"
)

// loopMeta captures the per-loop termination policy from the Node built for
// the current frame, since scheduler.Deps.LoopTerminated is queried against
// a RenderedNode that no longer carries predicates.
type loopMeta struct {
	until         planast.UntilPredicate
	maxIterations int
	onMaxIter     planast.MaxIterationsPolicy
}

// frameState tracks the engine-owned state that persists across frames:
// which tasks are mid-flight, how many times each has failed, and each
// loop's current iteration and termination status.
type frameState struct {
	mu         sync.Mutex
	inProgress map[string]bool
	failures   map[string]int
	loopIter   map[string]int
	loopDone   map[string]bool
	loopMeta   map[string]loopMeta
}

func newFrameState() *frameState {
	return &frameState{
		inProgress: map[string]bool{},
		failures:   map[string]int{},
		loopIter:   map[string]int{},
		loopDone:   map[string]bool{},
		loopMeta:   map[string]loopMeta{},
	}
}

func (fs *frameState) markInProgress(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.inProgress[id] = true
}

func (fs *frameState) clearInProgress(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.inProgress, id)
}

func (fs *frameState) incrementFailure(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failures[id]++
}

func (fs *frameState) setLoopMeta(id string, m loopMeta) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.loopMeta[id] = m
}

func (fs *frameState) iteration(id string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.loopIter[id]
}

// FailurePolicy is the result of applying a Loop's onMaxIter policy once
// maxIterations is exhausted without until holding.
type FailurePolicy int

const (
	loopContinues FailurePolicy = iota
	loopEnds
	loopFailsRun
)

// advanceLoop applies one loop-advance signal: evaluates until, then
// maxIterations/onMaxIter, per spec.md §4.6's Loop semantics.
func (fs *frameState) advanceLoop(id string) FailurePolicy {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	meta, ok := fs.loopMeta[id]
	if !ok {
		fs.loopDone[id] = true
		return loopEnds
	}
	if meta.until != nil && meta.until() {
		fs.loopDone[id] = true
		return loopEnds
	}
	next := fs.loopIter[id] + 1
	if meta.maxIterations > 0 && next >= meta.maxIterations {
		if meta.onMaxIter == planast.PolicyFail {
			fs.loopDone[id] = true
			return loopFailsRun
		}
		fs.loopDone[id] = true
		return loopEnds
	}
	fs.loopIter[id] = next
	return loopContinues
}

// deps implements scheduler.Deps over the frame state plus a store snapshot
// scoped to one run.
type deps struct {
	fs    *frameState
	store *store.Store
	runID string
	ctx   context.Context
}

func (d deps) IsInProgress(nodeID string) bool {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.fs.inProgress[nodeID]
}

func (d deps) FailureCount(nodeID string) int {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.fs.failures[nodeID]
}

func (d deps) OutputExists(schema, nodeID string, iteration int) bool {
	_, err := d.store.GetExact(d.ctx, schema, d.runID, nodeID, iteration)
	return err == nil
}

func (d deps) LoopTerminated(loopID string) bool {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	return d.fs.loopDone[loopID]
}
