// Package bridge implements the Scheduler Agent Bridge: it turns the
// scheduler agent's ticket_schedule output into Job Queue mutations every
// frame, per spec.md §4.11.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/egv/super-ralph-lite/internal/jobqueue"
)

// ScheduledJob is one entry of the latest ticket_schedule row's "jobs" list.
type ScheduledJob struct {
	JobType  string
	AgentID  string
	TicketID string
	FocusID  string
	Reason   string
}

// RateLimitedAgent is one entry of ticket_schedule's "rateLimitedAgents".
type RateLimitedAgent struct {
	AgentID  string
	ResumeAt time.Time
}

// OutputChecker reports whether the output row for (jobType -> schema) has
// appeared for jobID, so a completed job can be reaped.
type OutputChecker interface {
	// Exists uses the iteration-scoped accessor for repeating job types
	// (discovery, progress-update) and the cross-iteration accessor for
	// one-shot per-ticket stages, per spec.md §4.11's closing paragraph.
	Exists(jobType, jobID string) bool
}

// jobIDFor derives the node id / job id a scheduled job renders as. Global
// job types use the job type itself, or "{jobType}:{focusId}" when the job
// carries a focus id; per-ticket stages use "{ticketId}:{stage}".
func jobIDFor(job ScheduledJob) string {
	switch job.JobType {
	case "discovery", "progress-update", "codebase-review", "integration-test":
		if job.FocusID != "" {
			return job.JobType + ":" + job.FocusID
		}
		return job.JobType
	default:
		// "ticket:<stage>" job types render as "{ticketId}:{stage}".
		return job.TicketID + ":" + stageSuffix(job.JobType)
	}
}

func stageSuffix(jobType string) string {
	const prefix = "ticket:"
	if len(jobType) > len(prefix) && jobType[:len(prefix)] == prefix {
		return jobType[len(prefix):]
	}
	return jobType
}

// Bridge reaps completed jobs and reconciles the latest schedule into the
// active job queue every frame.
type Bridge struct {
	Queue   *jobqueue.Queue
	Checker OutputChecker
}

// New returns a Bridge over queue, checking completion via checker.
func New(queue *jobqueue.Queue, checker OutputChecker) *Bridge {
	return &Bridge{Queue: queue, Checker: checker}
}

// Reap deletes every active job whose output has appeared.
func (b *Bridge) Reap(ctx context.Context) error {
	active, err := b.Queue.Active(ctx)
	if err != nil {
		return fmt.Errorf("bridge: reap: %w", err)
	}
	for _, job := range active {
		if b.Checker.Exists(job.JobType, job.JobID) {
			if err := b.Queue.Remove(ctx, job.JobID); err != nil {
				return fmt.Errorf("bridge: reap remove %s: %w", job.JobID, err)
			}
		}
	}
	return nil
}

// Reconcile inserts every job in schedule that has no output yet and is
// not already active.
func (b *Bridge) Reconcile(ctx context.Context, schedule []ScheduledJob, now time.Time) error {
	for _, job := range schedule {
		jobID := jobIDFor(job)
		if b.Checker.Exists(job.JobType, jobID) {
			continue
		}
		err := b.Queue.InsertIfAbsent(ctx, jobqueue.Job{
			JobID:       jobID,
			JobType:     job.JobType,
			AgentID:     job.AgentID,
			TicketID:    job.TicketID,
			FocusID:     job.FocusID,
			CreatedAtMs: now.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("bridge: reconcile insert %s: %w", jobID, err)
		}
	}
	return nil
}
