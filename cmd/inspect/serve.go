package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/inspect/internal/daemon"
	"github.com/harunnryd/inspect/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session API server",
	Long:  `Starts the long-running server: session store, pull request publisher, HTTP API and maintenance jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		storeComp := components.NewStoreComponent(workspaceID, &cfg.Store)
		publisherComp := components.NewPublisherComponent(cfg, storeComp)
		schedulerComp := components.NewSchedulerComponent(cfg, storeComp)
		httpComp := components.NewHTTPServerComponent(&cfg.Server, storeComp, publisherComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(publisherComp)
		daemonMgr.AddComponent(schedulerComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("Inspect server starting up...", "port", cfg.Server.Port, "workspace", workspaceID)
		err = daemonMgr.Start(context.Background())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Inspect server stopped gracefully", "workspace", workspaceID, "uptime", daemonMgr.Uptime())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	serveCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
