package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner is the seam the command-backed adapter shells out through;
// tests substitute a fake, matching dpolishuk-yolo-runner's command_runner.go.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands via os/exec, inheriting the parent environment.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// CommandVCS drives a jj-like functional VCS binary as a subprocess,
// grounded on dpolishuk-yolo-runner/internal/vcs/git/adapter.go's thin
// wrapper-over-a-command-runner shape.
type CommandVCS struct {
	Runner  CommandRunner
	RepoDir string
	Binary  string // defaults to "jj"
}

// NewCommandVCS returns a CommandVCS using the real OS process runner.
func NewCommandVCS(repoDir string) *CommandVCS {
	return &CommandVCS{Runner: ExecRunner{}, RepoDir: repoDir, Binary: "jj"}
}

func (c *CommandVCS) binary() string {
	if c.Binary == "" {
		return "jj"
	}
	return c.Binary
}

func (c *CommandVCS) run(ctx context.Context, args ...string) (string, string, error) {
	return c.Runner.Run(ctx, c.RepoDir, c.binary(), args...)
}

func (c *CommandVCS) Fetch(ctx context.Context) error {
	_, stderr, err := c.run(ctx, "git", "fetch")
	if err != nil {
		return fmt.Errorf("vcs: fetch: %w: %s", err, stderr)
	}
	return nil
}

// GitFetch shells a plain "git fetch" directly, bypassing the jj binary
// entirely, so the colocated git repo's own remote-tracking refs are
// current for any buildCmds/testCmds that invoke git themselves.
func (c *CommandVCS) GitFetch(ctx context.Context) error {
	_, stderr, err := c.Runner.Run(ctx, c.RepoDir, "git", "fetch")
	if err != nil {
		return fmt.Errorf("vcs: git fetch: %w: %s", err, stderr)
	}
	return nil
}

func (c *CommandVCS) Rebase(ctx context.Context, bookmark, destination string) error {
	_, stderr, err := c.run(ctx, "rebase", "-b", bookmark, "-d", destination)
	if err != nil {
		return &RebaseConflictError{Bookmark: bookmark, Destination: destination, Output: stderr}
	}
	return nil
}

func (c *CommandVCS) BookmarkSet(ctx context.Context, bookmark, revset string) error {
	_, stderr, err := c.run(ctx, "bookmark", "set", bookmark, "-r", revset)
	if err != nil {
		return fmt.Errorf("vcs: bookmark set %s: %w: %s", bookmark, err, stderr)
	}
	return nil
}

func (c *CommandVCS) BookmarkDelete(ctx context.Context, bookmark string) error {
	_, stderr, err := c.run(ctx, "bookmark", "delete", bookmark)
	if err != nil {
		return fmt.Errorf("vcs: bookmark delete %s: %w: %s", bookmark, err, stderr)
	}
	return nil
}

func (c *CommandVCS) Push(ctx context.Context, bookmark string) error {
	_, stderr, err := c.run(ctx, "git", "push", "--bookmark", bookmark)
	if err != nil {
		return &PushFailedError{Bookmark: bookmark, Output: stderr}
	}
	return nil
}

func (c *CommandVCS) WorkspaceAdd(ctx context.Context, name, path, atRevset string) error {
	args := []string{"workspace", "add", name, path}
	if atRevset != "" {
		args = append(args, "--at-operation", atRevset)
	}
	_, stderr, err := c.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("vcs: workspace add %s: %w: %s", name, err, stderr)
	}
	return nil
}

func (c *CommandVCS) WorkspaceClose(ctx context.Context, name string) error {
	_, stderr, err := c.run(ctx, "workspace", "close", name)
	if err != nil {
		return fmt.Errorf("vcs: workspace close %s: %w: %s", name, err, stderr)
	}
	return nil
}

func (c *CommandVCS) Log(ctx context.Context, revset string) ([]CommitSummary, error) {
	stdout, stderr, err := c.run(ctx, "log", "-r", revset, "--reversed", "-T", `revision ++ "\x1f" ++ description ++ "\x1e"`)
	if err != nil {
		return nil, fmt.Errorf("vcs: log %s: %w: %s", revset, err, stderr)
	}
	var out []CommitSummary
	for _, entry := range strings.Split(strings.TrimRight(stdout, "\x1e"), "\x1e") {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "\x1f", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, CommitSummary{Revision: parts[0], Description: parts[1]})
	}
	return out, nil
}

func (c *CommandVCS) Diff(ctx context.Context, revset string) ([]string, error) {
	stdout, stderr, err := c.run(ctx, "diff", "-r", revset, "--summary")
	if err != nil {
		return nil, fmt.Errorf("vcs: diff %s: %w: %s", revset, err, stderr)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		files = append(files, strings.TrimSpace(line))
	}
	return files, nil
}
