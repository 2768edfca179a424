package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "projectName: demo\nrepoRoot: /repo\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.MaxConcurrency)
	require.Equal(t, "main", cfg.MainBranch)
	require.Equal(t, 3, cfg.MaxSpeculativeDepth)
	require.Equal(t, OrderingPriority, cfg.OrderingStrategy)
}

func TestLoadRejectsMissingProjectName(t *testing.T) {
	path := writeConfig(t, "repoRoot: /repo\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOutOfBoundsConcurrency(t *testing.T) {
	path := writeConfig(t, "projectName: demo\nrepoRoot: /repo\nmaxConcurrency: 64\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownOrderingStrategy(t *testing.T) {
	path := writeConfig(t, "projectName: demo\nrepoRoot: /repo\norderingStrategy: random\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesMaxConcurrency(t *testing.T) {
	path := writeConfig(t, "projectName: demo\nrepoRoot: /repo\n")
	t.Setenv("WORKFLOW_MAX_CONCURRENCY", "10")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxConcurrency)
}
