package eviction

import (
	"context"
	"testing"

	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/stretchr/testify/require"
)

func TestBuildCollectsAllThreeArtifacts(t *testing.T) {
	f := vcs.NewFake()
	f.SeedBranch("ticket/T-1", vcs.CommitSummary{Revision: "r1", Description: "add feature"})

	ctxData, err := Build(context.Background(), f, "T-1", "main", "rebase_conflict")
	require.NoError(t, err)
	require.Equal(t, "rebase_conflict", ctxData.Reason)
	require.Contains(t, ctxData.CommitLog, "add feature")
	require.Contains(t, ctxData.SummaryDiff, "add feature.go")
}

func TestPromptFieldsIncludesEvictionReason(t *testing.T) {
	c := Context{Reason: "ci_failed", CommitLog: "log", SummaryDiff: "diff", MainlineLog: "mainline"}
	fields := c.PromptFields()
	require.Equal(t, "ci_failed", fields["evictionReason"])
	require.Equal(t, "log", fields["evictionCommitLog"])
}
