package jobqueue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close()) })
	return q
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	job := Job{JobID: "j1", JobType: "discovery", AgentID: "scout", CreatedAtMs: 100}

	require.NoError(t, q.InsertIfAbsent(ctx, job))
	require.NoError(t, q.InsertIfAbsent(ctx, job)) // no-double-schedule: repeat insert is a no-op

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Remove(ctx, "absent")) // removing a nonexistent job is a no-op, not an error
}

func TestActiveOrderedByCreatedAt(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "j2", JobType: "ticket:implement", AgentID: "a", TicketID: "T-2", CreatedAtMs: 200}))
	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "j1", JobType: "ticket:implement", AgentID: "a", TicketID: "T-1", CreatedAtMs: 100}))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "j1", active[0].JobID)
	require.Equal(t, "j2", active[1].JobID)
}

func TestReapIdempotence(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "j1", JobType: "discovery", AgentID: "a", CreatedAtMs: 1}))

	// Simulate reap-and-reconcile with no new scheduler output twice: fixed set.
	has, err := q.Has(ctx, "j1")
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, q.Remove(ctx, "j1"))
	require.NoError(t, q.Remove(ctx, "j1"))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}
