package mergequeue

import "sort"

// OrderingStrategy selects how ready tickets are ordered into the
// speculative window, per spec.md §4.12 step 1.
type OrderingStrategy string

const (
	OrderingPriority           OrderingStrategy = "priority"
	OrderingPositional         OrderingStrategy = "positional"
	OrderingReportCompleteFIFO OrderingStrategy = "report-complete-fifo"
)

// Entry is one ready (tier-complete, not landed) ticket eligible for the
// window.
type Entry struct {
	TicketID        string
	Priority        string // critical > high > medium > low
	EnqueueSeq      int    // tie-break for priority ordering
	PositionalIndex int    // snapshot index, for positional ordering
	ReportIteration int    // iteration of the tier-completing stage
}

var priorityRank = map[string]int{"critical": 0, "high": 1, "medium": 2, "low": 3}

// Order sorts entries according to strategy, without mutating the input.
func Order(entries []Entry, strategy OrderingStrategy) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)

	switch strategy {
	case OrderingPriority:
		sort.SliceStable(out, func(i, j int) bool {
			ri, rj := priorityRank[out[i].Priority], priorityRank[out[j].Priority]
			if ri != rj {
				return ri < rj
			}
			return out[i].EnqueueSeq < out[j].EnqueueSeq
		})
	case OrderingPositional:
		sort.SliceStable(out, func(i, j int) bool { return out[i].PositionalIndex < out[j].PositionalIndex })
	case OrderingReportCompleteFIFO:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].ReportIteration != out[j].ReportIteration {
				return out[i].ReportIteration < out[j].ReportIteration
			}
			return out[i].EnqueueSeq < out[j].EnqueueSeq
		})
	}
	return out
}
