package main

import (
	"fmt"
	"time"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/store"

	"github.com/spf13/cobra"
)

// cliLockTimeout bounds how long offline commands wait for a workspace a
// running server already holds.
const cliLockTimeout = 2 * time.Second

func resolveWorkspaceID(cmd *cobra.Command) string {
	if workspaceID, _ := cmd.Flags().GetString("workspace"); workspaceID != "" {
		return workspaceID
	}
	return config.DefaultWorkspaceID
}

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.Load(cmd)
}

// withStore opens the workspace store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(*store.Manager) error) error {
	loaded, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runtimeCfg, err := store.RuntimeConfigFrom(loaded.Store)
	if err != nil {
		return err
	}
	if runtimeCfg.LockTimeout > cliLockTimeout {
		runtimeCfg.LockTimeout = cliLockTimeout
	}

	workspaceID := resolveWorkspaceID(cmd)
	m, err := store.NewManager(workspaceID, loaded.Store.WorkspacePath, runtimeCfg)
	if err != nil {
		return fmt.Errorf("failed to open workspace %s (is the server running?): %w", workspaceID, err)
	}
	defer m.Stop()

	return fn(m)
}
