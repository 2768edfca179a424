// Package ticket implements the Ticket Pipeline Model: the tier table,
// discovery-row folding, and the current/next-stage predicates spec.md
// §3 and §4.10 describe.
package ticket

// Tier is a complexity classification fixing a ticket's stage sequence.
type Tier string

const (
	TierTrivial Tier = "trivial"
	TierSmall   Tier = "small"
	TierMedium  Tier = "medium"
	TierLarge   Tier = "large"
)

// Stage is one step in a ticket's pipeline.
type Stage string

const (
	StageResearch    Stage = "research"
	StagePlan        Stage = "plan"
	StageImplement   Stage = "implement"
	StageTest        Stage = "test"
	StageBuildVerify Stage = "build-verify"
	StageSpecReview  Stage = "spec-review"
	StageCodeReview  Stage = "code-review"
	StageReviewFix   Stage = "review-fix"
	StageReport      Stage = "report"
)

// stageSchema maps a stage to the schema_key its output row is written
// under, since some stage names (build-verify, spec-review, code-review)
// don't literally match their schema_key.
var stageSchema = map[Stage]string{
	StageResearch:    "research",
	StagePlan:        "plan",
	StageImplement:   "implement",
	StageTest:        "test_results",
	StageBuildVerify: "build_verify",
	StageSpecReview:  "spec_review",
	StageCodeReview:  "code_review",
	StageReviewFix:   "review_fix",
	StageReport:      "report",
}

// SchemaFor returns the schema_key an output row for stage is written
// under.
func SchemaFor(stage Stage) string { return stageSchema[stage] }

// TierTable is the tier -> ordered stage sequence table, per spec.md §3.
var TierTable = map[Tier][]Stage{
	TierTrivial: {StageImplement, StageBuildVerify},
	TierSmall:   {StageImplement, StageTest, StageBuildVerify},
	TierMedium:  {StageResearch, StagePlan, StageImplement, StageTest, StageBuildVerify, StageCodeReview},
	TierLarge:   {StageResearch, StagePlan, StageImplement, StageTest, StageBuildVerify, StageSpecReview, StageCodeReview, StageReviewFix, StageReport},
}

// FinalStage returns the last stage of tier's sequence.
func FinalStage(tier Tier) Stage {
	stages := TierTable[tier]
	return stages[len(stages)-1]
}

// Ticket is a discovered unit of work. Tier is fixed at discovery time and
// immutable afterward.
type Ticket struct {
	ID                  string
	Title               string
	Description         string
	Category            string
	Priority            string
	ComplexityTier      Tier
	AcceptanceCriteria  []string
	RelevantFiles       []string
	ReferenceFiles      []string
}

// DiscoveryRow is the decoded payload of one "discover" schema output row,
// tagged with the iteration it was written at.
type DiscoveryRow struct {
	Iteration int
	Payload   map[string]interface{}
}

// FoldDiscoveries implements spec.md §3's discovery-authority rule:
// "discovery rows are processed in iteration order with later rows
// overriding earlier (same ticket-id wins last)." Open Question #1 (see
// DESIGN.md) resolves the ambiguity as whole-row replacement, not a
// field-by-field merge.
func FoldDiscoveries(rows []DiscoveryRow) map[string]Ticket {
	sorted := make([]DiscoveryRow, len(rows))
	copy(sorted, rows)
	// Stable insertion sort by iteration: rows are typically already
	// ascending (callers pass store.Scan results), this just guards
	// against out-of-order input.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Iteration > sorted[j].Iteration; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	tickets := map[string]Ticket{}
	for _, row := range sorted {
		t := decodeTicket(row.Payload)
		if t.ID == "" {
			continue
		}
		tickets[t.ID] = t
	}
	return tickets
}

func decodeTicket(payload map[string]interface{}) Ticket {
	return Ticket{
		ID:                 stringField(payload, "id"),
		Title:              stringField(payload, "title"),
		Description:        stringField(payload, "description"),
		Category:           stringField(payload, "category"),
		Priority:           stringField(payload, "priority"),
		ComplexityTier:     Tier(stringField(payload, "complexityTier")),
		AcceptanceCriteria: stringListField(payload, "acceptanceCriteria"),
		RelevantFiles:      stringListField(payload, "relevantFiles"),
		ReferenceFiles:     stringListField(payload, "referenceFiles"),
	}
}

func stringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func stringListField(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// StageOutputExists reports whether a valid output row exists for stage of
// ticketID, used by CurrentStage/IsTierComplete. Implementations wrap the
// context accessor's cross-iteration Latest lookup, since stage completion
// for landing purposes must survive across loop iterations.
type StageOutputExists func(ticketID string, stage Stage) bool

// CurrentStage reverse-walks tier's stage sequence and returns the furthest
// advanced stage whose output exists, or "" if none has run yet.
func CurrentStage(tier Tier, ticketID string, exists StageOutputExists) Stage {
	stages := TierTable[tier]
	for i := len(stages) - 1; i >= 0; i-- {
		if exists(ticketID, stages[i]) {
			return stages[i]
		}
	}
	return ""
}

// IsTierComplete reports whether the tier's final stage has produced an
// output row for ticketID. Intermediate stages are not checked here — that
// is enforced only at scheduling time per spec.md §3.
func IsTierComplete(tier Tier, ticketID string, exists StageOutputExists) bool {
	return exists(ticketID, FinalStage(tier))
}

// NextStage returns the first tier-stage after ticketID's current stage, or
// "" if the ticket is already tier-complete.
func NextStage(tier Tier, ticketID string, exists StageOutputExists) Stage {
	stages := TierTable[tier]
	current := CurrentStage(tier, ticketID, exists)
	if current == "" {
		return stages[0]
	}
	for i, s := range stages {
		if s == current {
			if i+1 < len(stages) {
				return stages[i+1]
			}
			return ""
		}
	}
	return ""
}
