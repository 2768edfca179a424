// Package board implements the read-only terminal dashboard's data layer:
// polling the output store for one run's ticket table and folding it into a
// renderable snapshot, independent of the Bubble Tea model that displays it.
package board

import (
	"context"
	"sort"

	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/ticket"
)

// Reader is the subset of *store.Store the dashboard needs; declared as an
// interface so tests can substitute an in-memory fake.
type Reader interface {
	Scan(ctx context.Context, schemaKey, runID string) ([]store.Row, error)
	GetLatest(ctx context.Context, schemaKey, runID, nodeID string) (store.Row, error)
}

// TicketStatus is one row of the dashboard's ticket table.
type TicketStatus struct {
	ID           string
	Tier         ticket.Tier
	CurrentStage ticket.Stage
	Landed       bool
	Evicted      bool
	EvictReason  string
}

// Snapshot is one poll's worth of dashboard state.
type Snapshot struct {
	RunID   string
	Tickets []TicketStatus
	Err     error
}

// Poll reads the current ticket table for runID: discovered tickets folded
// per ticket.FoldDiscoveries, each annotated with its furthest-advanced
// stage and landing outcome. It never blocks on anything but the reader.
func Poll(ctx context.Context, r Reader, runID string) Snapshot {
	rows, err := r.Scan(ctx, "discover", runID)
	if err != nil {
		return Snapshot{RunID: runID, Err: err}
	}
	discoveryRows := make([]ticket.DiscoveryRow, 0, len(rows))
	for _, row := range rows {
		discoveryRows = append(discoveryRows, ticket.DiscoveryRow{Iteration: row.Iteration, Payload: row.Payload})
	}
	tickets := ticket.FoldDiscoveries(discoveryRows)

	ids := make([]string, 0, len(tickets))
	for id := range tickets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := make([]TicketStatus, 0, len(ids))
	for _, id := range ids {
		t := tickets[id]
		exists := func(ticketID string, stage ticket.Stage) bool {
			row, err := r.GetLatest(ctx, ticket.SchemaFor(stage), runID, ticketID+":"+string(stage))
			return err == nil && row.Payload != nil
		}
		status := TicketStatus{
			ID:           id,
			Tier:         t.ComplexityTier,
			CurrentStage: ticket.CurrentStage(t.ComplexityTier, id, exists),
		}
		if row, err := r.GetLatest(ctx, "land", runID, id+":land"); err == nil {
			if landed, _ := row.Payload["landed"].(string); landed == "yes" {
				status.Landed = true
			}
			if evicted, _ := row.Payload["evicted"].(string); evicted == "yes" {
				status.Evicted = true
				if reason, ok := row.Payload["reason"].(string); ok {
					status.EvictReason = reason
				}
			}
		}
		statuses = append(statuses, status)
	}
	return Snapshot{RunID: runID, Tickets: statuses}
}
