// Package ctxaccessor builds the per-frame read-only Context Accessor over
// an output-store snapshot, exposing three distinctly-named lookups so
// caller intent (exact vs. cross-iteration) is syntactically visible, per
// spec.md §4.9 and §9's re-architecture directive.
package ctxaccessor

import (
	"context"
	"errors"
	"fmt"

	"github.com/egv/super-ralph-lite/internal/store"
)

// ErrNotFound is returned by Output when no row exists for the exact key.
var ErrNotFound = errors.New("ctxaccessor: not found")

// Reader is the subset of *store.Store the accessor needs; declared as an
// interface so tests can substitute an in-memory fake.
type Reader interface {
	GetExact(ctx context.Context, schemaKey, runID, nodeID string, iteration int) (store.Row, error)
	GetLatest(ctx context.Context, schemaKey, runID, nodeID string) (store.Row, error)
}

// Accessor is built once per frame and reused by every task rendered in
// that frame; it never mutates and never re-queries the store after
// construction is implied by the frame boundary — callers construct a new
// Accessor at the start of each render.
type Accessor struct {
	reader Reader
	runID  string
	ctx    context.Context
}

// New returns an Accessor scoped to runID, reading through reader.
func New(ctx context.Context, reader Reader, runID string) *Accessor {
	return &Accessor{reader: reader, runID: runID, ctx: ctx}
}

// Output is the exact lookup: iteration must be given explicitly by the
// caller (typically the current frame's iteration for that node's enclosing
// loop). Fails with ErrNotFound if absent. Use when certainty of existence
// is required — a missing row here is a caller bug, not an expected case.
func (a *Accessor) Output(schemaKey, nodeID string, iteration int) (map[string]interface{}, error) {
	row, err := a.reader.GetExact(a.ctx, schemaKey, a.runID, nodeID, iteration)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s@%d", ErrNotFound, schemaKey, nodeID, iteration)
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

// OutputMaybe is the same exact, iteration-scoped lookup as Output, but
// returns (nil, nil) instead of erroring on absence. Use for a stage's own
// recomputation within a loop iteration, where "not yet run this
// iteration" is an expected, non-exceptional state.
func (a *Accessor) OutputMaybe(schemaKey, nodeID string, iteration int) (map[string]interface{}, error) {
	row, err := a.reader.GetExact(a.ctx, schemaKey, a.runID, nodeID, iteration)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

// Latest is the cross-iteration lookup: the row with the maximum iteration
// for (run, nodeID), or (nil, nil) if none exists yet. Use for dependency
// stages from earlier iterations — pinning a repeating job's first
// iteration forever by using Latest on it is the misuse spec.md §4.9 warns
// against; repeating jobs must use OutputMaybe against the current
// iteration instead.
func (a *Accessor) Latest(schemaKey, nodeID string) (map[string]interface{}, error) {
	row, err := a.reader.GetLatest(a.ctx, schemaKey, a.runID, nodeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}
