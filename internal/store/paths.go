package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/inspect/internal/pathutil"
)

// ResolveWorkspaceRootPath resolves the configured workspace root, falling back
// to ~/.inspect/workspaces.
func ResolveWorkspaceRootPath(workspaceRootPath string) (string, error) {
	if trimmed := strings.TrimSpace(workspaceRootPath); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".inspect", "workspaces"), nil
}

// GetWorkspacePath returns the base directory of a workspace.
func GetWorkspacePath(workspaceID string, workspaceRootPath string) (string, error) {
	root, err := ResolveWorkspaceRootPath(workspaceRootPath)
	if err != nil {
		return "", err
	}
	return pathutil.Within(root, workspaceID)
}

func workspaceFile(workspaceID, workspaceRootPath string, elem ...string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{base}, elem...)...), nil
}

// GetDatabasePath returns the SQLite file holding session state.
func GetDatabasePath(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceFile(workspaceID, workspaceRootPath, "inspect.db")
}

// GetClaimsPath returns the file holding in-flight publish claims.
func GetClaimsPath(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceFile(workspaceID, workspaceRootPath, "governance", "publish_claims.json")
}

// GetSecretKeyPath returns the generated sealing key used when none is configured.
func GetSecretKeyPath(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceFile(workspaceID, workspaceRootPath, "governance", "secret.key")
}
