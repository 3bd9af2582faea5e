package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/inspect/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigInitCmd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	out, err := run(t, configInitCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized config")

	configPath := filepath.Join(home, ".inspect", "config.yaml")
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)

	var parsed config.Config
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Equal(t, config.DefaultServerPort, parsed.Server.Port)
	assert.Equal(t, config.DefaultProvider, parsed.Providers.Default)

	out, err = run(t, configInitCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigViewMasksCredentials(t *testing.T) {
	c := useTestConfig(t)
	c.Auth.ClientSecret = "super-secret"
	c.Providers.GitLab.Token = "glpat-123"

	out, err := run(t, configViewCmd, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "glpat-123")
	assert.NotContains(t, out, c.Store.SecretKey)
	assert.Contains(t, out, "********")
}
