// Package resume implements the Durability/Resume scan: on startup, find
// tickets left in-progress by a prior run and rank them by furthest-advanced
// stage, per spec.md §4.13.
package resume

import (
	"context"
	"fmt"
	"sort"

	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/egv/super-ralph-lite/internal/ticket"
)

// stagePriority orders stages from most to least advanced, per spec.md
// §4.13: "report > review-fix > review > test > implement > plan >
// research". "review" here covers both spec-review and code-review, which
// rank equally since neither tier runs both ahead of the other.
var stagePriority = map[ticket.Stage]int{
	ticket.StageReport:      0,
	ticket.StageReviewFix:   1,
	ticket.StageSpecReview:  2,
	ticket.StageCodeReview:  2,
	ticket.StageTest:        3,
	ticket.StageBuildVerify: 3,
	ticket.StageImplement:   4,
	ticket.StagePlan:        5,
	ticket.StageResearch:    6,
}

// Candidate is one resumable ticket surfaced to the scheduler agent as
// having priority over fresh discovery.
type Candidate struct {
	TicketID      string
	FurthestStage ticket.Stage
	RunID         string
}

// Reader is the subset of *store.Store the scan needs.
type Reader interface {
	ScanAllRuns(ctx context.Context, schemaKey string) ([]store.Row, error)
}

// Scan inspects every stage schema plus the "land" schema across all runs,
// and returns tickets with a stage row but no landed=true land row, ranked
// furthest-advanced-first. currentRun is excluded, matching spec.md §4.13's
// "run_id != currentRun".
func Scan(ctx context.Context, r Reader, currentRun string) ([]Candidate, error) {
	furthest := map[string]stageProgress{} // ticketID -> best stage seen, across excluded runs
	landed := map[string]bool{}

	for stage, schemaKey := range allStageSchemas() {
		rows, err := r.ScanAllRuns(ctx, schemaKey)
		if err != nil {
			return nil, fmt.Errorf("resume: scan %s: %w", schemaKey, err)
		}
		for _, row := range rows {
			if row.RunID == currentRun {
				continue
			}
			ticketID, rowStage, ok := store.SplitNodeID(row.NodeID)
			if !ok || ticket.Stage(rowStage) != stage {
				continue
			}
			rank, known := stagePriority[stage]
			if !known {
				continue
			}
			if cur, exists := furthest[ticketID]; !exists || rank < cur.rank {
				furthest[ticketID] = stageProgress{stage: stage, rank: rank, runID: row.RunID}
			}
		}
	}

	landRows, err := r.ScanAllRuns(ctx, "land")
	if err != nil {
		return nil, fmt.Errorf("resume: scan land: %w", err)
	}
	for _, row := range landRows {
		if row.RunID == currentRun {
			continue
		}
		ticketID, _, ok := store.SplitNodeID(row.NodeID)
		if !ok {
			continue
		}
		if landedVal, _ := row.Payload["landed"].(string); landedVal == "yes" {
			landed[ticketID] = true
		}
	}

	var candidates []Candidate
	for ticketID, progress := range furthest {
		if landed[ticketID] {
			continue
		}
		candidates = append(candidates, Candidate{TicketID: ticketID, FurthestStage: progress.stage, RunID: progress.runID})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := stagePriority[candidates[i].FurthestStage], stagePriority[candidates[j].FurthestStage]
		if ri != rj {
			return ri < rj
		}
		return candidates[i].TicketID < candidates[j].TicketID
	})
	return candidates, nil
}

type stageProgress struct {
	stage ticket.Stage
	rank  int
	runID string
}

func allStageSchemas() map[ticket.Stage]string {
	out := map[ticket.Stage]string{}
	for _, stages := range ticket.TierTable {
		for _, s := range stages {
			out[s] = ticket.SchemaFor(s)
		}
	}
	return out
}
