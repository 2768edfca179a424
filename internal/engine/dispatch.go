package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/egv/super-ralph-lite/internal/agentinvoker"
	"github.com/egv/super-ralph-lite/internal/ctxaccessor"
	"github.com/egv/super-ralph-lite/internal/eventbus"
	"github.com/egv/super-ralph-lite/internal/mergequeue"
	"github.com/egv/super-ralph-lite/internal/planast"
	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/ticket"
)

// templateFor maps a task's schema to the prompt template that produces its
// agent's instructions. Schemas without a dedicated template fall back to
// "implement", matching the teacher's own generic-task fallback.
var templateFor = map[string]string{
	"discover":        "research",
	"research":        "research",
	"plan":            "plan",
	"implement":       "implement",
	"test_results":    "implement",
	"build_verify":    "implement",
	"spec_review":     "code-review",
	"code_review":     "code-review",
	"review_fix":      "review-fix",
	"report":          "implement",
	"ticket_schedule": "scheduler",
	"progress":        "scheduler",
}

// dispatch executes one runnable task descriptor: an agent invocation, a
// compute callback, or a static payload, and persists a successful result.
func (e *Engine) dispatch(ctx context.Context, d planast.Descriptor, accessor *ctxaccessor.Accessor) dispatchOutcome {
	switch {
	case d.Compute != nil:
		payload, err := d.Compute()
		return e.finish(ctx, d, payload, err)

	case d.Agent != nil:
		if d.WorkspaceID != "" {
			if _, err := e.Workspaces.Create(ctx, d.WorkspaceID, ""); err != nil {
				return dispatchOutcome{err: err, failed: true}
			}
		}
		prompt, err := e.renderPrompt(d, accessor)
		if err != nil {
			return dispatchOutcome{err: err, failed: true}
		}
		agents := e.resolveAgents(d.Agent)
		result := e.Invoker.Invoke(ctx, agents, prompt, d.Schema, d.Retries)
		switch result.Outcome {
		case agentinvoker.OutcomeSuccess:
			return e.finish(ctx, d, result.Payload, nil)
		case agentinvoker.OutcomeCancelled:
			return dispatchOutcome{cancelled: true}
		default:
			return dispatchOutcome{err: result.Err, failed: true}
		}

	default:
		return e.finish(ctx, d, d.StaticPayload, nil)
	}
}

func (e *Engine) finish(ctx context.Context, d planast.Descriptor, payload map[string]interface{}, err error) dispatchOutcome {
	if err != nil {
		return dispatchOutcome{err: err, failed: true}
	}
	row := store.Row{SchemaKey: d.Schema, RunID: e.RunID, NodeID: d.NodeID, Iteration: d.Iteration, Payload: payload}
	if putErr := e.Store.Put(ctx, row); putErr != nil {
		return dispatchOutcome{err: putErr, failed: true}
	}
	e.publishEvent(eventbus.EventEnvelope{
		Kind:      eventbus.EventTaskCompleted,
		RunID:     e.RunID,
		NodeID:    d.NodeID,
		Schema:    d.Schema,
		Iteration: d.Iteration,
		At:        time.Now(),
	})
	return dispatchOutcome{}
}

func (e *Engine) resolveAgents(ref *planast.AgentRef) []agentinvoker.AgentBinary {
	out := make([]agentinvoker.AgentBinary, 0, len(ref.Agents))
	for _, name := range ref.Agents {
		def, ok := e.Catalog.Get(name)
		if !ok {
			continue
		}
		out = append(out, agentinvoker.AgentBinary{Name: def.Name, Bin: def.Binary, Args: def.Args})
	}
	return out
}

func (e *Engine) renderPrompt(d planast.Descriptor, accessor *ctxaccessor.Accessor) (string, error) {
	name := templateFor[d.Schema]
	if name == "" {
		name = "implement"
	}
	props := map[string]interface{}{
		"nodeId":    d.NodeID,
		"schema":    d.Schema,
		"iteration": d.Iteration,
	}
	if name == "scheduler" && len(e.ResumeCandidates) > 0 {
		resumable := make([]string, 0, len(e.ResumeCandidates))
		for _, c := range e.ResumeCandidates {
			resumable = append(resumable, c.TicketID)
		}
		props["resumableTickets"] = resumable
	}
	if ticketID, stage, ok := store.SplitNodeID(d.NodeID); ok {
		props["ticketId"] = ticketID
		props["stage"] = stage
		if d.WorkspaceID != "" {
			props["workspacePath"] = e.Workspaces.Path(d.WorkspaceID)
		}
		if row, err := accessor.Latest("land", ticketID+":land"); err == nil && row != nil {
			for k, v := range row {
				props["eviction"+ucFirst(k)] = v
			}
		}
	}
	return e.Templater.Render(name, props)
}

func ucFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// mergeQueueCompute returns the "merge-queue" task's Compute body: it
// gathers tier-complete, not-yet-landed tickets, orders them per the
// configured strategy, runs one Coordinator.RunPass, and persists the
// outcome onto each affected ticket's "land" row.
func (e *Engine) mergeQueueCompute(tickets map[string]ticket.Ticket) planast.ComputeFunc {
	return func() (map[string]interface{}, error) {
		ctx := context.Background()
		accessor := ctxaccessor.New(ctx, e.Store, e.RunID)

		ready := e.readyEntries(tickets, accessor)
		strategy := mergequeue.OrderingPriority
		switch e.Config.OrderingStrategy {
		case "positional", "ticket-order":
			strategy = mergequeue.OrderingPositional
		case "report-complete-fifo":
			strategy = mergequeue.OrderingReportCompleteFIFO
		}
		ordered := mergequeue.Order(ready, strategy)

		result, err := e.Coordinator.RunPass(ctx, ordered)
		if err != nil {
			return nil, fmt.Errorf("engine: merge queue pass: %w", err)
		}

		for _, id := range result.Landed {
			if err := e.putLandRow(ctx, id, "yes", "no", "", nil); err != nil {
				return nil, err
			}
		}
		for _, outcome := range result.Evicted {
			ctxFields := outcome.Context.PromptFields()
			if err := e.putLandRow(ctx, outcome.TicketID, "no", "yes", outcome.Reason, ctxFields); err != nil {
				return nil, err
			}
		}

		return map[string]interface{}{
			"landedCount":      len(result.Landed),
			"evictedCount":     len(result.Evicted),
			"invalidatedCount": len(result.Invalidated),
		}, nil
	}
}

func (e *Engine) putLandRow(ctx context.Context, ticketID, landed, evicted, reason string, evictionFields map[string]interface{}) error {
	payload := map[string]interface{}{
		"ticketId": ticketID,
		"landed":   landed,
		"evicted":  evicted,
	}
	if reason != "" {
		payload["reason"] = reason
	} else {
		payload["reason"] = nil
	}
	payload["commitLog"] = stringOrNil(evictionFields, "evictionCommitLog")
	payload["summaryDiff"] = stringOrNil(evictionFields, "evictionSummaryDiff")
	payload["mainlineLog"] = stringOrNil(evictionFields, "evictionMainlineLog")

	return e.Store.Put(ctx, store.Row{
		SchemaKey: "land",
		RunID:     e.RunID,
		NodeID:    ticketID + ":land",
		Iteration: 0,
		Payload:   payload,
	})
}

func stringOrNil(fields map[string]interface{}, key string) interface{} {
	if fields == nil {
		return nil
	}
	v, ok := fields[key]
	if !ok {
		return nil
	}
	return v
}

// readyEntries collects tier-complete, not-landed tickets as merge queue
// entries. EnqueueSeq/PositionalIndex approximate discovery order with
// sorted ticket ids, since folded discovery state doesn't retain each
// ticket's first-seen iteration.
func (e *Engine) readyEntries(tickets map[string]ticket.Ticket, accessor *ctxaccessor.Accessor) []mergequeue.Entry {
	ids := make([]string, 0, len(tickets))
	for id := range tickets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entries []mergequeue.Entry
	for i, id := range ids {
		t := tickets[id]
		exists := e.stageExists(accessor, id)
		if !ticket.IsTierComplete(t.ComplexityTier, id, exists) {
			continue
		}
		if row, err := accessor.Latest("land", id+":land"); err == nil && row != nil {
			if landed, _ := row["landed"].(string); landed == "yes" {
				continue
			}
		}
		finalStage := ticket.FinalStage(t.ComplexityTier)
		reportIteration := e.finalStageIteration(id, finalStage)
		entries = append(entries, mergequeue.Entry{
			TicketID:        id,
			Priority:        t.Priority,
			EnqueueSeq:      i,
			PositionalIndex: i,
			ReportIteration: reportIteration,
		})
	}
	return entries
}

func (e *Engine) finalStageIteration(ticketID string, stage ticket.Stage) int {
	row, err := e.Store.GetLatest(context.Background(), ticket.SchemaFor(stage), e.RunID, ticketID+":"+string(stage))
	if err != nil {
		return 0
	}
	return row.Iteration
}
