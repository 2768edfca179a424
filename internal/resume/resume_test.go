package resume

import (
	"context"
	"testing"

	"github.com/egv/super-ralph-lite/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	rows map[string][]store.Row
}

func (f *fakeReader) ScanAllRuns(ctx context.Context, schemaKey string) ([]store.Row, error) {
	return f.rows[schemaKey], nil
}

func row(schemaKey, runID, nodeID string, iteration int, payload map[string]interface{}) store.Row {
	return store.Row{SchemaKey: schemaKey, RunID: runID, NodeID: nodeID, Iteration: iteration, Payload: payload}
}

func TestScanSurfacesInProgressTicketNotLanded(t *testing.T) {
	r := &fakeReader{rows: map[string][]store.Row{
		"implement": {row("implement", "run-1", "T-Y:implement", 0, map[string]interface{}{})},
	}}

	candidates, err := Scan(context.Background(), r, "run-2")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "T-Y", candidates[0].TicketID)
	require.Equal(t, "implement", string(candidates[0].FurthestStage))
	require.Equal(t, "run-1", candidates[0].RunID)
}

func TestScanExcludesLandedTickets(t *testing.T) {
	r := &fakeReader{rows: map[string][]store.Row{
		"implement": {row("implement", "run-1", "T-Z:implement", 0, map[string]interface{}{})},
		"land":      {row("land", "run-1", "T-Z:land", 1, map[string]interface{}{"landed": "yes"})},
	}}

	candidates, err := Scan(context.Background(), r, "run-2")
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestScanExcludesCurrentRun(t *testing.T) {
	r := &fakeReader{rows: map[string][]store.Row{
		"implement": {row("implement", "run-2", "T-Y:implement", 0, map[string]interface{}{})},
	}}

	candidates, err := Scan(context.Background(), r, "run-2")
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestScanRanksFurthestAdvancedStageFirst(t *testing.T) {
	r := &fakeReader{rows: map[string][]store.Row{
		"research":  {row("research", "run-1", "T-A:research", 0, map[string]interface{}{})},
		"implement": {row("implement", "run-1", "T-B:implement", 0, map[string]interface{}{})},
		"report":    {row("report", "run-1", "T-C:report", 0, map[string]interface{}{})},
	}}

	candidates, err := Scan(context.Background(), r, "run-2")
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	require.Equal(t, []string{"T-C", "T-B", "T-A"}, []string{candidates[0].TicketID, candidates[1].TicketID, candidates[2].TicketID})
}

func TestScanKeepsFurthestStageWhenMultipleRowsExist(t *testing.T) {
	r := &fakeReader{rows: map[string][]store.Row{
		"research":  {row("research", "run-1", "T-Y:research", 0, map[string]interface{}{})},
		"implement": {row("implement", "run-1", "T-Y:implement", 1, map[string]interface{}{})},
	}}

	candidates, err := Scan(context.Background(), r, "run-2")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "implement", string(candidates[0].FurthestStage))
}
