package engine

import (
	"context"
	"time"

	"github.com/egv/super-ralph-lite/internal/bridge"
	"github.com/egv/super-ralph-lite/internal/ctxaccessor"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/ticket"
)

// reconcileJobQueue implements spec.md §4.11's reap/reconcile pass: it reaps
// active jobs whose output has appeared, then inserts every job named by the
// scheduler agent's latest schedule that isn't already active, so Run's
// termination check ("no active jobs") reflects what the scheduler agent
// itself still considers outstanding.
func (e *Engine) reconcileJobQueue(ctx context.Context, accessor *ctxaccessor.Accessor, iteration int) error {
	e.Bridge.Checker = bridgeChecker{accessor: accessor, iteration: iteration}

	if err := e.Bridge.Reap(ctx); err != nil {
		return err
	}

	payload, err := accessor.Latest("ticket_schedule", "scheduler")
	if err != nil || payload == nil {
		return err
	}
	jobs := decodeScheduledJobs(payload)
	if len(jobs) == 0 {
		return nil
	}
	return e.Bridge.Reconcile(ctx, jobs, time.Now())
}

func decodeScheduledJobs(payload map[string]interface{}) []bridge.ScheduledJob {
	raw, _ := payload["jobs"].([]interface{})
	out := make([]bridge.ScheduledJob, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, bridge.ScheduledJob{
			JobType:  scheduleField(m, "jobType"),
			AgentID:  scheduleField(m, "agentId"),
			TicketID: scheduleField(m, "ticketId"),
			FocusID:  scheduleField(m, "focusId"),
			Reason:   scheduleField(m, "reason"),
		})
	}
	return out
}

func scheduleField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

// bridgeChecker adapts the frame's context accessor to bridge.OutputChecker:
// discovery and progress-update are repeating jobs whose completion check is
// scoped to the current loop iteration, everything else is a one-shot
// per-ticket stage checked cross-iteration, per spec.md §4.11's closing
// paragraph.
type bridgeChecker struct {
	accessor  *ctxaccessor.Accessor
	iteration int
}

func (c bridgeChecker) Exists(jobType, jobID string) bool {
	switch jobType {
	case "discovery":
		payload, err := c.accessor.OutputMaybe("discover", "discovery", c.iteration)
		return err == nil && payload != nil
	case "progress-update":
		payload, err := c.accessor.OutputMaybe("progress", "progress-update", c.iteration)
		return err == nil && payload != nil
	default:
		_, stage, ok := store.SplitNodeID(jobID)
		if !ok {
			return false
		}
		payload, err := c.accessor.Latest(ticket.SchemaFor(ticket.Stage(stage)), jobID)
		return err == nil && payload != nil
	}
}
