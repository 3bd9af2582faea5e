package main

import (
	"bytes"
	"testing"

	"github.com/harunnryd/inspect/internal/config"
	"github.com/harunnryd/inspect/internal/secrets"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// useTestConfig points the package config at a fresh workspace.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)

	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{
			WorkspacePath: t.TempDir(),
			LockTimeout:   "500ms",
			LockRetry:     "10ms",
			SecretKey:     key,
		},
		Providers: config.ProvidersConfig{Default: "github"},
	}
	t.Cleanup(func() { cfg = prev })
	return cfg
}

// run executes one subcommand's RunE with the given flags set.
func run(t *testing.T, c *cobra.Command, flags map[string]string, args ...string) (string, error) {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(c.Flags())
	cmd.Flags().AddFlagSet(c.InheritedFlags())
	if c.Parent() != nil {
		cmd.Flags().AddFlagSet(c.Parent().PersistentFlags())
	}
	for k, v := range flags {
		require.NoError(t, cmd.Flags().Set(k, v))
	}
	t.Cleanup(func() {
		for k := range flags {
			if f := cmd.Flags().Lookup(k); f != nil {
				_ = f.Value.Set(f.DefValue)
			}
		}
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	err := c.RunE(cmd, args)
	return out.String(), err
}
