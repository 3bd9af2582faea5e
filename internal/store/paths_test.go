package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWorkspaceRootPath_ExpandsHomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ResolveWorkspaceRootPath("~/.inspect/workspaces")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".inspect", "workspaces"), got)
}

func TestWorkspaceFiles(t *testing.T) {
	root := t.TempDir()

	db, err := GetDatabasePath("default", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "default", "inspect.db"), db)

	claims, err := GetClaimsPath("default", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "default", "governance", "publish_claims.json"), claims)

	_, err = GetWorkspacePath("../escape", root)
	assert.Error(t, err)
}
