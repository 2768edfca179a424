package mergequeue

import (
	"context"
	"os"
	"testing"

	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/egv/super-ralph-lite/internal/workspace"
	"github.com/stretchr/testify/require"
)

type stubReviewer struct {
	rejects map[string]bool
}

func (r *stubReviewer) Review(ctx context.Context, ticketID, branchLog, mainlineDelta string) (bool, error) {
	return !r.rejects[ticketID], nil
}

type stubCI struct {
	fails map[string]bool
}

func (c *stubCI) Run(ctx context.Context, ticketID, workspacePath string) (bool, string, error) {
	if c.fails[ticketID] {
		return false, "test failure", nil
	}
	return true, "ok", nil
}

func newCoordinator(t *testing.T, f *vcs.Fake, depth int, reviewer Reviewer, ci CIRunner) *Coordinator {
	t.Helper()
	dir := t.TempDir()
	t.Cleanup(func() { os.RemoveAll(dir) })
	return &Coordinator{
		VCS:        f,
		Workspaces: workspace.NewManager(f, dir),
		MainBranch: "main",
		Depth:      depth,
		Reviewer:   reviewer,
		CI:         ci,
	}
}

func seedTickets(f *vcs.Fake, ids ...string) []Entry {
	entries := make([]Entry, 0, len(ids))
	for i, id := range ids {
		f.SeedBranch(vcs.TicketBookmark(id), vcs.CommitSummary{Revision: "r-" + id, Description: id + "-feature"})
		entries = append(entries, Entry{TicketID: id, EnqueueSeq: i})
	}
	return entries
}

func TestRunPassLandsCleanWindow(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1", "T2")
	c := newCoordinator(t, f, 2, nil, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Equal(t, []string{"T1", "T2"}, result.Landed)
	require.Empty(t, result.Evicted)
	require.Empty(t, result.Invalidated)
	require.True(t, f.Deleted[vcs.TicketBookmark("T1")])
	require.True(t, f.Deleted[vcs.TicketBookmark("T2")])
}

func TestRunPassEvictsOnRebaseConflict(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1", "T2")
	f.FailRebase[vcs.TicketBookmark("T1")] = true
	c := newCoordinator(t, f, 2, nil, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Len(t, result.Evicted, 1)
	require.Equal(t, "T1", result.Evicted[0].TicketID)
	require.Equal(t, "rebase_conflict", result.Evicted[0].Reason)
	require.Equal(t, []string{"T2"}, result.Landed)
}

func TestRunPassMiddleFailureEvictsAndInvalidatesTail(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1", "T2", "T3")
	ci := &stubCI{fails: map[string]bool{"T2": true}}
	c := newCoordinator(t, f, 3, nil, ci)

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, result.Landed)
	require.Len(t, result.Evicted, 1)
	require.Equal(t, "T2", result.Evicted[0].TicketID)
	require.Equal(t, "ci_failed", result.Evicted[0].Reason)
	require.Equal(t, 1, result.Invalidated["T3"])
	require.Equal(t, 1, c.stateFor("T3").Invalidations)
	require.True(t, f.Deleted[vcs.TicketBookmark("T1")])
	require.True(t, f.Deleted[vcs.TicketBookmark("T2")])
	require.False(t, f.Deleted[vcs.TicketBookmark("T3")])
}

func TestRunPassFirstEntryFailureLandsNothing(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1", "T2")
	reviewer := &stubReviewer{rejects: map[string]bool{"T1": true}}
	c := newCoordinator(t, f, 2, reviewer, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Empty(t, result.Landed)
	require.Len(t, result.Evicted, 1)
	require.Equal(t, "T1", result.Evicted[0].TicketID)
	require.Equal(t, "review_failed", result.Evicted[0].Reason)
	require.Equal(t, 1, result.Invalidated["T2"])
}

func TestRunPassDepthLimitsWindowSize(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1", "T2", "T3")
	c := newCoordinator(t, f, 1, nil, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, result.Landed)
	require.Empty(t, result.Evicted)
	require.Empty(t, result.Invalidated)
}

func TestRunPassEmptyReadyListIsNoop(t *testing.T) {
	f := vcs.NewFake()
	c := newCoordinator(t, f, 2, nil, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, result.Landed)
	require.Empty(t, result.Evicted)
}

func TestRunPassRetriesPushOnFailureThenSucceeds(t *testing.T) {
	f := vcs.NewFake()
	ready := seedTickets(f, "T1")
	f.FailPush["main"] = true
	c := newCoordinator(t, f, 1, nil, &stubCI{fails: map[string]bool{}})

	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, result.Landed)
	require.Contains(t, f.Pushed(), "main")
}

func TestRunPassRejectsReEnqueueOfEvictedTicketAtSameIteration(t *testing.T) {
	f := vcs.NewFake()
	ci := &stubCI{fails: map[string]bool{"T2": true}}
	c := newCoordinator(t, f, 2, nil, ci)

	result, err := c.RunPass(context.Background(), seedTickets(f, "T1", "T2"))
	require.NoError(t, err)
	require.Equal(t, []string{"T1"}, result.Landed)
	require.Len(t, result.Evicted, 1)

	// T2 comes back in the ready list at the same report iteration, as if
	// re-enqueued before its review-fix stage produced a new iteration; the
	// reopen guard should drop it rather than re-attempt.
	result2, err := c.RunPass(context.Background(), seedTickets(f, "T2"))
	require.NoError(t, err)
	require.Empty(t, result2.Landed)
	require.Empty(t, result2.Evicted)
}

func TestRunPassReopensEvictedTicketAtHigherIteration(t *testing.T) {
	f := vcs.NewFake()
	ci := &stubCI{fails: map[string]bool{"T2": true}}
	c := newCoordinator(t, f, 2, nil, ci)

	_, err := c.RunPass(context.Background(), seedTickets(f, "T1", "T2"))
	require.NoError(t, err)

	ci.fails["T2"] = false
	ready := seedTickets(f, "T2")
	ready[0].ReportIteration = 1
	result, err := c.RunPass(context.Background(), ready)
	require.NoError(t, err)
	require.Equal(t, []string{"T2"}, result.Landed)
}
