package mergequeue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderPrioritySortsByRankThenSeq(t *testing.T) {
	entries := []Entry{
		{TicketID: "low1", Priority: "low", EnqueueSeq: 0},
		{TicketID: "crit1", Priority: "critical", EnqueueSeq: 1},
		{TicketID: "crit0", Priority: "critical", EnqueueSeq: 2},
		{TicketID: "high", Priority: "high", EnqueueSeq: 3},
	}
	out := Order(entries, OrderingPriority)
	ids := ticketIDs(out)
	require.Equal(t, []string{"crit1", "crit0", "high", "low1"}, ids)
}

func TestOrderPositionalSortsByPositionalIndex(t *testing.T) {
	entries := []Entry{
		{TicketID: "third", PositionalIndex: 2},
		{TicketID: "first", PositionalIndex: 0},
		{TicketID: "second", PositionalIndex: 1},
	}
	out := Order(entries, OrderingPositional)
	require.Equal(t, []string{"first", "second", "third"}, ticketIDs(out))
}

func TestOrderReportCompleteFIFOSortsByIterationThenSeq(t *testing.T) {
	entries := []Entry{
		{TicketID: "late", ReportIteration: 5, EnqueueSeq: 0},
		{TicketID: "early", ReportIteration: 2, EnqueueSeq: 1},
		{TicketID: "tie-later", ReportIteration: 2, EnqueueSeq: 2},
	}
	out := Order(entries, OrderingReportCompleteFIFO)
	require.Equal(t, []string{"early", "tie-later", "late"}, ticketIDs(out))
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	entries := []Entry{{TicketID: "a", Priority: "low"}, {TicketID: "b", Priority: "critical"}}
	_ = Order(entries, OrderingPriority)
	require.Equal(t, "a", entries[0].TicketID)
}

func ticketIDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TicketID
	}
	return ids
}
