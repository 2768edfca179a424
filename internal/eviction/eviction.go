// Package eviction implements the Eviction Context Builder: after a ticket
// is evicted from the merge queue, it collects the branch's commits since
// the branch point, a changed-files summary, and mainline's commits since
// the branch point, per spec.md §4.14.
package eviction

import (
	"context"
	"fmt"
	"strings"

	"github.com/egv/super-ralph-lite/internal/vcs"
)

// Context is the structured diagnostic bundle threaded into the ticket's
// next Implement (and Research/Plan) prompt.
type Context struct {
	TicketID          string
	Reason            string
	CommitLog         string
	SummaryDiff       string
	MainlineLog       string
}

// Build queries v for the three artifacts spec.md §4.14 names and formats
// them for both storage on the land row and verbatim prompt injection.
func Build(ctx context.Context, v vcs.VCS, ticketID, mainBranch, reason string) (Context, error) {
	bookmark := vcs.TicketBookmark(ticketID)

	branchCommits, err := v.Log(ctx, vcs.BranchRange(mainBranch, bookmark))
	if err != nil {
		return Context{}, fmt.Errorf("eviction: log branch commits: %w", err)
	}
	changedFiles, err := v.Diff(ctx, vcs.BranchRange(mainBranch, bookmark))
	if err != nil {
		return Context{}, fmt.Errorf("eviction: diff summary: %w", err)
	}
	mainlineCommits, err := v.Log(ctx, vcs.MainlineRange(bookmark, mainBranch))
	if err != nil {
		return Context{}, fmt.Errorf("eviction: log mainline commits: %w", err)
	}

	return Context{
		TicketID:    ticketID,
		Reason:      reason,
		CommitLog:   formatCommits(branchCommits),
		SummaryDiff: strings.Join(changedFiles, "\n"),
		MainlineLog: formatCommits(mainlineCommits),
	}, nil
}

func formatCommits(commits []vcs.CommitSummary) string {
	lines := make([]string, 0, len(commits))
	for _, c := range commits {
		lines = append(lines, c.Revision+" "+c.Description)
	}
	return strings.Join(lines, "\n")
}

// PromptFields renders c as the verbatim prompt-injection fields spec.md
// §4.14 requires: "injected verbatim into Research/Plan/Implement prompts
// on the next pipeline attempt."
func (c Context) PromptFields() map[string]interface{} {
	return map[string]interface{}{
		"evictionReason":      c.Reason,
		"evictionCommitLog":   c.CommitLog,
		"evictionSummaryDiff": c.SummaryDiff,
		"evictionMainlineLog": c.MainlineLog,
	}
}
