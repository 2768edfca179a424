package engine

import (
	"github.com/egv/super-ralph-lite/internal/ctxaccessor"
	"github.com/egv/super-ralph-lite/internal/planast"
	"github.com/egv/super-ralph-lite/internal/ticket"
)

const ralphLoopID = "ralph"

// buildPlan constructs a fresh Node graph for the current frame. Repeating
// job types (discovery, progress-update, the scheduler, and the merge
// queue's own trigger) live inside the "ralph" Loop so their completion
// check is iteration-scoped and they can re-run every frame, per spec.md
// §4.9's repeating-job rule. One-shot per-ticket stage tasks live outside
// any Loop at iteration 0, so their completion check always looks at
// iteration 0 of the current run and a finished stage stays finished across
// ralph iterations.
//
// A ticket's full tier sequence is not encoded as a static Sequence of
// Task nodes, since the sequence itself (from ticket.TierTable) is only
// known once discovery has assigned a tier — instead the plan builder emits
// exactly one Task per ticket per frame, the one ticket.NextStage names.
// This is behaviorally identical to a Sequence's "first non-terminal child
// only" rule, since NextStage already performs that walk.
func (e *Engine) buildPlan(accessor *ctxaccessor.Accessor, tickets map[string]ticket.Ticket, fs *frameState) *planast.Node {
	schedulerAgent := "scheduler-agent"
	if def, ok := e.Catalog.Scheduler(); ok {
		schedulerAgent = def.Name
	}
	ralph := planast.Loop(ralphLoopID, e.ralphUntil(tickets, accessor), maxRalphIterations, planast.PolicyReturnLast,
		planast.Task("discovery", planast.TaskOpts{
			Schema:  "discover",
			Agent:   &planast.AgentRef{Agents: e.defaultAgentChain()},
			Retries: 2,
		}),
		planast.Task("progress-update", planast.TaskOpts{
			Schema:  "progress",
			Agent:   &planast.AgentRef{Agents: e.defaultAgentChain()},
			Retries: 1,
			Skip:    func() bool { return len(tickets) == 0 },
		}),
		planast.Task("scheduler", planast.TaskOpts{
			Schema:  "ticket_schedule",
			Agent:   &planast.AgentRef{Agents: []string{schedulerAgent}},
			Retries: 2,
		}),
		planast.Task("merge-queue", planast.TaskOpts{
			Schema:  "merge_pass",
			Compute: e.mergeQueueCompute(tickets),
			Skip:    func() bool { return !e.anyReadyToLand(tickets, accessor) },
		}),
	)
	fs.setLoopMeta(ralphLoopID, loopMeta{until: ralph.Until, maxIterations: ralph.MaxIterations, onMaxIter: ralph.OnMaxIter})

	// The root must be a Parallel, not a Sequence/Workflow: the ralph Loop
	// is effectively never terminal until the whole run ends, and a
	// Sequence only ever descends into its first non-terminal child, which
	// would starve the ticket-task branch for the run's entire duration.
	return planast.Parallel(0, ralph, planast.Parallel(e.Config.MaxConcurrency, e.buildTicketTasks(tickets, accessor)...))
}

func (e *Engine) defaultAgentChain() []string {
	names := e.Catalog.Names()
	chain := make([]string, 0, len(names))
	for _, name := range names {
		if def, ok := e.Catalog.Get(name); ok && !def.IsScheduler && !def.IsMergeQueue {
			chain = append(chain, name)
		}
	}
	if len(chain) == 0 {
		chain = []string{"claude-code"}
	}
	return chain
}

func (e *Engine) buildTicketTasks(tickets map[string]ticket.Ticket, accessor *ctxaccessor.Accessor) []*planast.Node {
	var out []*planast.Node
	for id, t := range tickets {
		exists := e.stageExists(accessor, id)
		if ticket.IsTierComplete(t.ComplexityTier, id, exists) {
			continue // ready to land; the merge queue owns it now
		}
		stage := ticket.NextStage(t.ComplexityTier, id, exists)
		if stage == "" {
			continue
		}
		nodeID := id + ":" + string(stage)
		task := planast.Task(nodeID, planast.TaskOpts{
			Schema:  ticket.SchemaFor(stage),
			Agent:   &planast.AgentRef{Agents: e.defaultAgentChain()},
			Retries: 2,
		})
		out = append(out, planast.Worktree(id, task))
	}
	return out
}

// stageExists returns a ticket.StageOutputExists closure using the
// cross-iteration accessor, matching spec.md §4.10's "output exists" check
// for one-shot per-ticket stages.
func (e *Engine) stageExists(accessor *ctxaccessor.Accessor, ticketID string) ticket.StageOutputExists {
	return func(id string, stage ticket.Stage) bool {
		payload, err := accessor.Latest(ticket.SchemaFor(stage), id+":"+string(stage))
		return err == nil && payload != nil
	}
}

func (e *Engine) anyReadyToLand(tickets map[string]ticket.Ticket, accessor *ctxaccessor.Accessor) bool {
	for id, t := range tickets {
		exists := e.stageExists(accessor, id)
		if !ticket.IsTierComplete(t.ComplexityTier, id, exists) {
			continue
		}
		row, err := accessor.Latest("land", id+":land")
		if err == nil && row != nil {
			if landed, _ := row["landed"].(string); landed == "yes" {
				continue
			}
		}
		return true
	}
	return false
}

// ralphUntil terminates the run once every discovered ticket has landed and
// nothing is left pending discovery.
func (e *Engine) ralphUntil(tickets map[string]ticket.Ticket, accessor *ctxaccessor.Accessor) planast.UntilPredicate {
	return func() bool {
		if len(tickets) == 0 {
			return false
		}
		for id := range tickets {
			row, err := accessor.Latest("land", id+":land")
			if err != nil || row == nil {
				return false
			}
			if landed, _ := row["landed"].(string); landed != "yes" {
				return false
			}
		}
		return true
	}
}
