package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/egv/super-ralph-lite/internal/jobqueue"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	done map[string]bool
}

func (f *fakeChecker) Exists(jobType, jobID string) bool { return f.done[jobID] }

func openQueue(t *testing.T) *jobqueue.Queue {
	t.Helper()
	q, err := jobqueue.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close()) })
	return q
}

func TestReconcileInsertsOnlyMissingJobs(t *testing.T) {
	q := openQueue(t)
	checker := &fakeChecker{done: map[string]bool{"T-1:implement": true}}
	b := New(q, checker)
	ctx := context.Background()

	schedule := []ScheduledJob{
		{JobType: "ticket:implement", AgentID: "a", TicketID: "T-1"},
		{JobType: "ticket:test", AgentID: "a", TicketID: "T-2"},
	}
	require.NoError(t, b.Reconcile(ctx, schedule, time.Now()))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "T-2:test", active[0].JobID)
}

func TestReconcileIsIdempotentAcrossFrames(t *testing.T) {
	q := openQueue(t)
	checker := &fakeChecker{done: map[string]bool{}}
	b := New(q, checker)
	ctx := context.Background()

	schedule := []ScheduledJob{{JobType: "discovery", AgentID: "scout"}}
	require.NoError(t, b.Reconcile(ctx, schedule, time.Now()))
	require.NoError(t, b.Reconcile(ctx, schedule, time.Now()))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1) // no-double-schedule
}

func TestReapDeletesCompletedJobs(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	require.NoError(t, q.InsertIfAbsent(ctx, jobqueue.Job{JobID: "T-1:implement", JobType: "ticket:implement", AgentID: "a", CreatedAtMs: 1}))
	require.NoError(t, q.InsertIfAbsent(ctx, jobqueue.Job{JobID: "T-2:implement", JobType: "ticket:implement", AgentID: "a", CreatedAtMs: 2}))

	checker := &fakeChecker{done: map[string]bool{"T-1:implement": true}}
	b := New(q, checker)
	require.NoError(t, b.Reap(ctx))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "T-2:implement", active[0].JobID)
}

func TestReapIsIdempotentWithNoNewOutput(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	require.NoError(t, q.InsertIfAbsent(ctx, jobqueue.Job{JobID: "discovery", JobType: "discovery", AgentID: "scout", CreatedAtMs: 1}))

	checker := &fakeChecker{done: map[string]bool{}}
	b := New(q, checker)
	require.NoError(t, b.Reap(ctx))
	require.NoError(t, b.Reap(ctx))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestJobIDForGlobalVsTicketScoped(t *testing.T) {
	require.Equal(t, "discovery", jobIDFor(ScheduledJob{JobType: "discovery"}))
	require.Equal(t, "T-1:review-fix", jobIDFor(ScheduledJob{JobType: "ticket:review-fix", TicketID: "T-1"}))
}
