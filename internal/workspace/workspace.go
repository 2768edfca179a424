// Package workspace implements the Workspace Manager: lazily-created,
// per-ticket-reused VCS workspaces bound to filesystem paths, per spec.md
// §4.5 and §6's "<tmp>/workflow-wt-{id}" naming convention.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/egv/super-ralph-lite/internal/vcs"
)

// Manager creates, reuses, and tears down workspaces. All stages of a given
// ticket must resolve to the same path — this is the critical invariant
// spec.md §4.5 calls out.
type Manager struct {
	vcs   vcs.VCS
	rootDir string

	mu    sync.Mutex
	paths map[string]string // id -> path, for ids already materialized
}

// NewManager returns a Manager rooted at rootDir (typically os.TempDir()).
func NewManager(v vcs.VCS, rootDir string) *Manager {
	return &Manager{vcs: v, rootDir: rootDir, paths: map[string]string{}}
}

// Path returns the deterministic workspace path for id without creating
// anything, matching spec.md §6's "<tmp>/workflow-wt-{id}".
func (m *Manager) Path(id string) string {
	return filepath.Join(m.rootDir, "workflow-wt-"+id)
}

// Create materializes the workspace for id at its deterministic path if it
// doesn't already exist. Calling Create again for the same id is a no-op —
// this is what lets every stage of a ticket reuse the same workspace.
func (m *Manager) Create(ctx context.Context, id, atRevset string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path, ok := m.paths[id]; ok {
		return path, nil
	}
	path := m.Path(id)
	name := workspaceName(id)
	if err := m.vcs.WorkspaceAdd(ctx, name, path, atRevset); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", id, err)
	}
	m.paths[id] = path
	return path, nil
}

// Close dismisses the working copy but leaves its directory on disk; use
// Remove afterward to reclaim the path.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.paths[id]; !ok {
		return nil
	}
	if err := m.vcs.WorkspaceClose(ctx, workspaceName(id)); err != nil {
		return fmt.Errorf("workspace: close %s: %w", id, err)
	}
	delete(m.paths, id)
	return nil
}

// Remove deletes the workspace directory from disk. Callers close the VCS
// workspace first; Remove is purely a filesystem cleanup step.
func (m *Manager) Remove(id string) error {
	path := m.Path(id)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("workspace: remove %s: %w", id, err)
	}
	return nil
}

func workspaceName(id string) string { return "wt-" + id }

// ReapOrphans removes on-disk workspace directories under rootDir with the
// "workflow-wt-" prefix whose id is not in liveIDs, per spec.md §9's
// suggested improvement over relying on OS temp cleanup after a crash.
func ReapOrphans(rootDir string, liveIDs map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: reap orphans: %w", err)
	}
	const prefix = "workflow-wt-"
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) <= len(prefix) || entry.Name()[:len(prefix)] != prefix {
			continue
		}
		id := entry.Name()[len(prefix):]
		if liveIDs[id] {
			continue
		}
		path := filepath.Join(rootDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("workspace: reap %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
