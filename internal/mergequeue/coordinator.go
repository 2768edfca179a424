package mergequeue

import (
	"context"
	"fmt"

	"github.com/egv/super-ralph-lite/internal/eviction"
	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/egv/super-ralph-lite/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// Reviewer performs the optional post-rebase semantic review of spec.md
// §4.12 step 5.
type Reviewer interface {
	Review(ctx context.Context, ticketID, branchLog, mainlineDelta string) (approved bool, err error)
}

// CIRunner runs a window entry's declared post-land checks inside its
// workspace, per spec.md §4.12 step 6.
type CIRunner interface {
	Run(ctx context.Context, ticketID, workspacePath string) (passed bool, output string, err error)
}

// EvictionOutcome records one entry's structured eviction diagnostics.
type EvictionOutcome struct {
	TicketID string
	Reason   string
	Context  eviction.Context
}

// PassResult is what one Coordinator.RunPass call produces.
type PassResult struct {
	Landed      []string
	Evicted     []EvictionOutcome
	Invalidated map[string]int
}

// Coordinator runs the strict programmatic speculative-window algorithm.
// Per spec.md §9's Open Question, this implementation does not also ship
// the agent-driven inline-conflict-resolve variant (see DESIGN.md).
type Coordinator struct {
	VCS        vcs.VCS
	Workspaces *workspace.Manager
	MainBranch string
	Depth      int
	Reviewer   Reviewer // optional; nil skips semantic review
	CI         CIRunner

	// states holds one EntryStateMachine per ticket ever seen by RunPass,
	// the authoritative cross-pass bookkeeping for reopen guards and
	// invalidation counts; the store's "land" row remains the source of
	// truth for what a caller outside this package observes.
	states map[string]*EntryStateMachine
}

// RunPass executes one window attempt: stacked rebase (restarting on
// conflict until the window rebases cleanly or the ready list is
// exhausted), then a single round of semantic review + parallel CI,
// landing/evicting/invalidating accordingly. Callers invoke RunPass again
// on the next frame for entries left in Invalidated or otherwise not
// resolved.
func (c *Coordinator) RunPass(ctx context.Context, ready []Entry) (*PassResult, error) {
	result := &PassResult{Invalidated: map[string]int{}}
	if err := c.VCS.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("mergequeue: fetch: %w", err)
	}
	if err := c.VCS.GitFetch(ctx); err != nil {
		return nil, fmt.Errorf("mergequeue: git fetch: %w", err)
	}

	remaining := c.reconcile(ready)
	window, err := c.rebaseWindow(ctx, remaining, result)
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return result, nil
	}

	reviewFailIndex := -1
	if c.Reviewer != nil {
		for i, entry := range window {
			bookmark := vcs.TicketBookmark(entry.TicketID)
			branchLog, err := c.commitLog(ctx, vcs.BranchRange(c.MainBranch, bookmark))
			if err != nil {
				return nil, err
			}
			mainlineDelta, err := c.commitLog(ctx, vcs.MainlineRange(bookmark, c.MainBranch))
			if err != nil {
				return nil, err
			}
			approved, err := c.Reviewer.Review(ctx, entry.TicketID, branchLog, mainlineDelta)
			if err != nil {
				return nil, fmt.Errorf("mergequeue: review %s: %w", entry.TicketID, err)
			}
			if !approved {
				reviewFailIndex = i
				break
			}
		}
	}

	// CI for every window entry runs concurrently, per spec.md §4.12 step 6 —
	// the eventual land/evict split point only depends on which indices
	// passed, not on wall-clock order.
	ciPassed := make([]bool, len(window))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range window {
		i, entry := i, entry
		g.Go(func() error {
			path, err := c.Workspaces.Create(gctx, entry.TicketID, vcs.TicketBookmark(entry.TicketID))
			if err != nil {
				return fmt.Errorf("mergequeue: workspace for %s: %w", entry.TicketID, err)
			}
			passed, _, err := c.CI.Run(gctx, entry.TicketID, path)
			if err != nil {
				return fmt.Errorf("mergequeue: CI %s: %w", entry.TicketID, err)
			}
			ciPassed[i] = passed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	k, reason := -1, ""
	for i := range window {
		if reviewFailIndex == i {
			k, reason = i, "review_failed"
			break
		}
		if !ciPassed[i] {
			k, reason = i, "ci_failed"
			break
		}
	}

	if k == -1 {
		if err := c.land(ctx, window, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := c.land(ctx, window[:k], result); err != nil {
		return nil, err
	}
	if err := c.evict(ctx, window[k], reason, result); err != nil {
		return nil, err
	}
	for _, entry := range window[k+1:] {
		result.Invalidated[entry.TicketID]++
		c.stateFor(entry.TicketID).Invalidations++
	}
	return result, nil
}

// reconcile drives each ready entry's EntryStateMachine and drops any that
// the machine rejects: a ticket already resolved (landed or evicted) only
// re-enters the window when its ReportIteration has strictly advanced,
// per spec.md §4.12's reopen rule. This is a staleness guard on top of the
// caller's own not-yet-landed filter — it protects against re-attempting an
// evicted ticket whose review-fix stage hasn't produced a new iteration yet.
func (c *Coordinator) reconcile(ready []Entry) []Entry {
	if c.states == nil {
		c.states = map[string]*EntryStateMachine{}
	}
	out := make([]Entry, 0, len(ready))
	for _, entry := range ready {
		sm, ok := c.states[entry.TicketID]
		if !ok {
			c.states[entry.TicketID] = NewEntryStateMachine(entry.TicketID, entry.ReportIteration)
			out = append(out, entry)
			continue
		}
		if !sm.State.IsTerminal() {
			out = append(out, entry)
			continue
		}
		if err := sm.Apply(EventReopen, entry.ReportIteration); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (c *Coordinator) stateFor(ticketID string) *EntryStateMachine {
	if c.states == nil {
		c.states = map[string]*EntryStateMachine{}
	}
	sm, ok := c.states[ticketID]
	if !ok {
		sm = NewEntryStateMachine(ticketID, 0)
		c.states[ticketID] = sm
	}
	return sm
}

// rebaseWindow takes up to c.Depth entries from remaining and stacks them
// via Rebase; a conflict evicts that entry and restarts window selection
// from the (now-shorter) remaining list, per spec.md §4.12 step 4.
func (c *Coordinator) rebaseWindow(ctx context.Context, remaining []Entry, result *PassResult) ([]Entry, error) {
	for {
		if len(remaining) == 0 {
			return nil, nil
		}
		depth := c.Depth
		if depth <= 0 || depth > len(remaining) {
			depth = len(remaining)
		}
		window := remaining[:depth]

		prevBookmark := c.MainBranch
		conflict := -1
		for i, entry := range window {
			bookmark := vcs.TicketBookmark(entry.TicketID)
			if err := c.VCS.Rebase(ctx, bookmark, prevBookmark); err != nil {
				conflict = i
				break
			}
			prevBookmark = bookmark
		}
		if conflict == -1 {
			return window, nil
		}

		bad := window[conflict]
		if err := c.evict(ctx, bad, "rebase_conflict", result); err != nil {
			return nil, err
		}
		remaining = removeTicket(remaining, bad.TicketID)
	}
}

func (c *Coordinator) land(ctx context.Context, entries []Entry, result *PassResult) error {
	if len(entries) == 0 {
		return nil
	}
	tail := entries[len(entries)-1]
	if err := c.VCS.BookmarkSet(ctx, c.MainBranch, vcs.TicketBookmark(tail.TicketID)); err != nil {
		return fmt.Errorf("mergequeue: fast-forward: %w", err)
	}
	if err := c.pushWithRetry(ctx); err != nil {
		return err
	}
	for _, entry := range entries {
		result.Landed = append(result.Landed, entry.TicketID)
		if err := c.stateFor(entry.TicketID).Apply(EventLand, entry.ReportIteration); err != nil {
			return fmt.Errorf("mergequeue: land state for %s: %w", entry.TicketID, err)
		}
		if err := c.cleanup(ctx, entry.TicketID); err != nil {
			return err
		}
	}
	return nil
}

// pushWithRetry retries a push up to three times with re-fetch, per
// spec.md §4.12's "Push failures are retried up to three times with
// re-fetch before evicting."
func (c *Coordinator) pushWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.VCS.Push(ctx, c.MainBranch); err != nil {
			lastErr = err
			if fetchErr := c.VCS.Fetch(ctx); fetchErr != nil {
				return fmt.Errorf("mergequeue: re-fetch after push failure: %w", fetchErr)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("mergequeue: push failed after 3 attempts: %w", lastErr)
}

func (c *Coordinator) evict(ctx context.Context, entry Entry, reason string, result *PassResult) error {
	evictionCtx, err := eviction.Build(ctx, c.VCS, entry.TicketID, c.MainBranch, reason)
	if err != nil {
		return fmt.Errorf("mergequeue: build eviction context for %s: %w", entry.TicketID, err)
	}
	result.Evicted = append(result.Evicted, EvictionOutcome{TicketID: entry.TicketID, Reason: reason, Context: evictionCtx})
	if err := c.stateFor(entry.TicketID).Apply(EventEvict, entry.ReportIteration); err != nil {
		return fmt.Errorf("mergequeue: evict state for %s: %w", entry.TicketID, err)
	}
	return c.cleanup(ctx, entry.TicketID)
}

func (c *Coordinator) cleanup(ctx context.Context, ticketID string) error {
	bookmark := vcs.TicketBookmark(ticketID)
	if err := c.VCS.BookmarkDelete(ctx, bookmark); err != nil {
		return fmt.Errorf("mergequeue: delete bookmark %s: %w", bookmark, err)
	}
	if err := c.Workspaces.Close(ctx, ticketID); err != nil {
		return fmt.Errorf("mergequeue: close workspace %s: %w", ticketID, err)
	}
	return c.Workspaces.Remove(ticketID)
}

func (c *Coordinator) commitLog(ctx context.Context, revset string) (string, error) {
	commits, err := c.VCS.Log(ctx, revset)
	if err != nil {
		return "", fmt.Errorf("mergequeue: log %s: %w", revset, err)
	}
	out := ""
	for _, commit := range commits {
		out += commit.Revision + " " + commit.Description + "\n"
	}
	return out, nil
}

func removeTicket(entries []Entry, ticketID string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.TicketID != ticketID {
			out = append(out, e)
		}
	}
	return out
}
