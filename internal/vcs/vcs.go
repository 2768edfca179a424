// Package vcs abstracts the functional-VCS operations spec.md §6 requires
// (fetch, rebase, bookmark set/delete, push, workspace add/close, log,
// diff) behind an interface so the merge queue and workspace manager can be
// tested against a fake instead of a real binary.
package vcs

import "context"

// VCS is the set of operations spec.md §6 names, modeled on jj's
// bookmark-plus-workspace model rather than plain git branches.
type VCS interface {
	// Fetch imports new commits from the remote into jj's view (a "jj git
	// fetch"), updating remote-tracking bookmarks that Rebase/Log/Diff
	// resolve against.
	Fetch(ctx context.Context) error

	// GitFetch runs a plain "git fetch" against the colocated git repo
	// directly, independent of jj's own view. Callers whose buildCmds/
	// testCmds shell out to git themselves (spec.md §6) need this second,
	// lower-level fetch since a "jj git fetch" alone does not necessarily
	// leave the colocated repo's own remote-tracking refs in the state a
	// bare git invocation expects.
	GitFetch(ctx context.Context) error

	// Rebase replays the branch bookmark onto destination, returning a
	// *RebaseConflictError on conflict.
	Rebase(ctx context.Context, bookmark, destination string) error

	// BookmarkSet points bookmark at revset (used for fast-forward).
	BookmarkSet(ctx context.Context, bookmark, revset string) error

	// BookmarkDelete removes a branch bookmark.
	BookmarkDelete(ctx context.Context, bookmark string) error

	// Push pushes bookmark to the remote git peer.
	Push(ctx context.Context, bookmark string) error

	// WorkspaceAdd materializes a new working copy at path, optionally
	// pinned to atRevset (empty string means the current head).
	WorkspaceAdd(ctx context.Context, name, path, atRevset string) error

	// WorkspaceClose dismisses a working copy.
	WorkspaceClose(ctx context.Context, name string) error

	// Log lists commit summaries in revset, oldest first.
	Log(ctx context.Context, revset string) ([]CommitSummary, error)

	// Diff lists changed files in revset.
	Diff(ctx context.Context, revset string) ([]string, error)
}

// CommitSummary is one entry of a Log result.
type CommitSummary struct {
	Revision    string
	Description string
}

// RebaseConflictError signals a non-zero exit from a rebase, which the
// merge queue treats as an eviction trigger rather than a retryable error.
type RebaseConflictError struct {
	Bookmark    string
	Destination string
	Output      string
}

func (e *RebaseConflictError) Error() string {
	return "vcs: rebase conflict rebasing " + e.Bookmark + " onto " + e.Destination
}

// PushFailedError signals a push rejection, retried up to three times with
// re-fetch before the caller gives up (spec.md §4.12).
type PushFailedError struct {
	Bookmark string
	Output   string
}

func (e *PushFailedError) Error() string {
	return "vcs: push failed for bookmark " + e.Bookmark
}

// TicketBookmark returns the branch bookmark name for a ticket, per
// spec.md §6: "ticket/{ticketId}".
func TicketBookmark(ticketID string) string { return "ticket/" + ticketID }

// MainlineRange returns the revset selecting commits landed on mainline
// since the branch point, per spec.md §6's "X..main" directional range.
func MainlineRange(branchPoint, mainBranch string) string {
	return branchPoint + ".." + mainBranch
}

// BranchRange returns the revset selecting commits on the branch since the
// branch point, per spec.md §6's "main..X" directional range.
func BranchRange(mainBranch, bookmark string) string {
	return mainBranch + ".." + bookmark
}
