package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/inspect/internal/secrets"
	"github.com/harunnryd/inspect/internal/store"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage scoped secrets",
	Long: `Store secrets in the workspace, globally or for one repository.

OAuth credentials used to publish pull requests live under the keys
OAUTH_ACCESS_TOKEN, OAUTH_REFRESH_TOKEN, OAUTH_EXPIRES_AT (unix milliseconds)
and OAUTH_ACCOUNT_ID. Repository secrets take precedence over global ones.`,
}

func secretScope(cmd *cobra.Command) (secrets.Scope, string) {
	repoID, _ := cmd.Flags().GetString("repo")
	if repoID = strings.TrimSpace(repoID); repoID != "" {
		return secrets.ScopeRepository, repoID
	}
	return secrets.ScopeGlobal, ""
}

func scopeLabel(scope secrets.Scope, scopeID string) string {
	if scope == secrets.ScopeGlobal {
		return "global"
	}
	return fmt.Sprintf("%s %s", scope, scopeID)
}

var secretSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE [KEY=VALUE...]",
	Short: "Set one or more secrets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]string, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return fmt.Errorf("invalid secret %q, expected KEY=VALUE", arg)
			}
			values[key] = value
		}

		scope, scopeID := secretScope(cmd)
		return withStore(cmd, func(m *store.Manager) error {
			if err := m.Secrets().Scoped(scope, scopeID).SetSecrets(cmd.Context(), values); err != nil {
				return fmt.Errorf("failed to store secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %d secret(s) in %s scope\n",
				color.New(color.FgGreen).Sprint("✓"), len(values), scopeLabel(scope, scopeID))
			return nil
		})
	},
}

var secretLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List secret keys (values are never shown)",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, scopeID := secretScope(cmd)
		return withStore(cmd, func(m *store.Manager) error {
			keys, err := m.Secrets().Scoped(scope, scopeID).Keys(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list secrets: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintf(out, "No secrets in %s scope.\n", scopeLabel(scope, scopeID))
				return nil
			}
			sort.Strings(keys)
			fmt.Fprintf(out, "Secrets (%s):\n", color.New(color.FgCyan).Sprint(scopeLabel(scope, scopeID)))
			for _, k := range keys {
				fmt.Fprintf(out, "- %s\n", k)
			}
			return nil
		})
	},
}

func init() {
	secretCmd.PersistentFlags().StringP("workspace", "w", "", "Target workspace ID")
	secretCmd.PersistentFlags().String("repo", "", "Repository id for repository-scoped secrets (default: global)")
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretLsCmd)
	rootCmd.AddCommand(secretCmd)
}
