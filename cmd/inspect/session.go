package main

import (
	"fmt"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/formatter"
	"github.com/harunnryd/inspect/internal/session"
	"github.com/harunnryd/inspect/internal/store"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long:  `Create, list and inspect sessions in the workspace.`,
}

func outputFormatter(cmd *cobra.Command) (formatter.SessionFormatter, error) {
	raw, _ := cmd.Flags().GetString("output")
	if raw == "" {
		raw = string(formatter.OutputFormatTable)
	}
	format, err := formatter.ParseOutputFormat(raw)
	if err != nil {
		return nil, err
	}
	return formatter.New(format)
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd, func(m *store.Manager) error {
			sessions, err := m.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			out, err := f.FormatSessions(sessions)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a session with its participants, messages and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := outputFormatter(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd, func(m *store.Manager) error {
			ctx := cmd.Context()
			w, err := m.Session(ctx, args[0])
			if err != nil {
				return err
			}
			detail := &formatter.Detail{}
			if detail.Session, err = w.GetSession(ctx); err != nil {
				return err
			}
			if detail.Participants, err = w.ListParticipants(ctx); err != nil {
				return err
			}
			if detail.Messages, err = w.ListMessages(ctx); err != nil {
				return err
			}
			if detail.Artifacts, err = w.ListArtifacts(ctx); err != nil {
				return err
			}
			out, err := f.FormatSession(detail)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session bound to a repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		provider, _ := cmd.Flags().GetString("provider")
		owner, _ := cmd.Flags().GetString("owner")
		name, _ := cmd.Flags().GetString("repo")

		if provider == "" && cfg != nil {
			provider = cfg.Providers.Default
		}
		if provider == "" {
			provider = config.DefaultProvider
		}

		return withStore(cmd, func(m *store.Manager) error {
			s, err := m.CreateSession(cmd.Context(), title, session.RepoBinding{
				Provider: provider,
				Owner:    owner,
				Name:     name,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created session %s\n", color.New(color.FgGreen).Sprint("✓"), s.ID)
			return nil
		})
	},
}

func init() {
	sessionCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	sessionLsCmd.Flags().StringP("output", "o", "table", "Output format (table, json, yaml)")
	sessionShowCmd.Flags().StringP("output", "o", "table", "Output format (table, json, yaml)")
	sessionCreateCmd.Flags().String("title", "", "Session title")
	sessionCreateCmd.Flags().String("provider", "", "Source control provider (default from config)")
	sessionCreateCmd.Flags().String("owner", "", "Repository owner or namespace")
	sessionCreateCmd.Flags().String("repo", "", "Repository name")
	_ = sessionCreateCmd.MarkFlagRequired("owner")
	_ = sessionCreateCmd.MarkFlagRequired("repo")

	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	rootCmd.AddCommand(sessionCmd)
}
