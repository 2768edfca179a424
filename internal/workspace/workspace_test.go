package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/egv/super-ralph-lite/internal/vcs"
	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotentPerID(t *testing.T) {
	root := t.TempDir()
	f := vcs.NewFake()
	m := NewManager(f, root)
	ctx := context.Background()

	path1, err := m.Create(ctx, "T-1", "")
	require.NoError(t, err)
	path2, err := m.Create(ctx, "T-1", "")
	require.NoError(t, err)
	require.Equal(t, path1, path2)
	require.Equal(t, filepath.Join(root, "workflow-wt-T-1"), path1)
	require.Len(t, f.Workspaces, 1) // only one WorkspaceAdd call reached the VCS
}

func TestCloseThenRemove(t *testing.T) {
	root := t.TempDir()
	f := vcs.NewFake()
	m := NewManager(f, root)
	ctx := context.Background()

	path, err := m.Create(ctx, "T-1", "")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(path, 0o755))

	require.NoError(t, m.Close(ctx, "T-1"))
	require.True(t, f.Closed["wt-T-1"])
	require.NoError(t, m.Remove("T-1"))
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestReapOrphansRemovesOnlyDeadWorkspaces(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "workflow-wt-T-1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "workflow-wt-T-2"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "unrelated"), 0o755))

	removed, err := ReapOrphans(root, map[string]bool{"T-1": true})
	require.NoError(t, err)
	require.Len(t, removed, 1)

	_, err = os.Stat(filepath.Join(root, "workflow-wt-T-1"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "workflow-wt-T-2"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "unrelated"))
	require.NoError(t, err)
}
