package vcs

import (
	"context"
	"sort"
	"sync"
)

// Fake is an in-memory VCS double for tests, tracking bookmarks as pointers
// into a linear commit log per branch and mainline separately.
type Fake struct {
	mu sync.Mutex

	Mainline   []CommitSummary
	Bookmarks  map[string][]CommitSummary // bookmark -> commits unique to that branch, in order
	Deleted    map[string]bool
	Workspaces map[string]string // name -> path
	Closed     map[string]bool

	// FailRebase, when set, names a bookmark whose next Rebase call fails;
	// the entry is cleared by that failure.
	FailRebase map[string]bool
	// FailPush, when set, names a bookmark whose next Push call fails; the
	// entry is cleared by that failure.
	FailPush map[string]bool

	pushed []string
}

// NewFake returns an empty Fake ready for use.
func NewFake() *Fake {
	return &Fake{
		Bookmarks:  map[string][]CommitSummary{},
		Deleted:    map[string]bool{},
		Workspaces: map[string]string{},
		Closed:     map[string]bool{},
		FailRebase: map[string]bool{},
		FailPush:   map[string]bool{},
	}
}

// SeedBranch registers a bookmark with its own unique commits, as if it had
// already been created and committed to.
func (f *Fake) SeedBranch(bookmark string, commits ...CommitSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bookmarks[bookmark] = commits
}

func (f *Fake) Fetch(ctx context.Context) error { return nil }

func (f *Fake) GitFetch(ctx context.Context) error { return nil }

func (f *Fake) Rebase(ctx context.Context, bookmark, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRebase[bookmark] {
		delete(f.FailRebase, bookmark)
		return &RebaseConflictError{Bookmark: bookmark, Destination: destination, Output: "conflict"}
	}
	// Rebasing is a no-op on the fake's linear model: the branch's unique
	// commits are unaffected by where the destination points.
	return nil
}

func (f *Fake) BookmarkSet(ctx context.Context, bookmark, revset string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if revset == "main" {
		return nil
	}
	// Fast-forwarding mainline to a branch: append that branch's commits.
	if commits, ok := f.Bookmarks[revset]; ok {
		f.Mainline = append(f.Mainline, commits...)
		return nil
	}
	if bookmark == "main" {
		if commits, ok := f.Bookmarks[revset]; ok {
			f.Mainline = append(f.Mainline, commits...)
		}
	}
	return nil
}

func (f *Fake) BookmarkDelete(ctx context.Context, bookmark string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted[bookmark] = true
	return nil
}

func (f *Fake) Push(ctx context.Context, bookmark string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPush[bookmark] {
		delete(f.FailPush, bookmark)
		return &PushFailedError{Bookmark: bookmark, Output: "rejected"}
	}
	f.pushed = append(f.pushed, bookmark)
	return nil
}

func (f *Fake) WorkspaceAdd(ctx context.Context, name, path, atRevset string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Workspaces[name] = path
	delete(f.Closed, name)
	return nil
}

func (f *Fake) WorkspaceClose(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed[name] = true
	return nil
}

func (f *Fake) Log(ctx context.Context, revset string) ([]CommitSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for bookmark, commits := range f.Bookmarks {
		if revset == BranchRange("main", bookmark) {
			return commits, nil
		}
	}
	if commits, ok := f.Bookmarks[revset]; ok {
		return commits, nil
	}
	return nil, nil
}

func (f *Fake) Diff(ctx context.Context, revset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var files []string
	seen := map[string]bool{}
	for bookmark, commits := range f.Bookmarks {
		if revset != bookmark && revset != BranchRange("main", bookmark) {
			continue
		}
		for _, c := range commits {
			if !seen[c.Description] {
				seen[c.Description] = true
				files = append(files, c.Description+".go")
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Pushed returns the bookmarks pushed so far, in order.
func (f *Fake) Pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.pushed))
	copy(out, f.pushed)
	return out
}
