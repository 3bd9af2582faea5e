package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretSetAndList(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, secretSetCmd, nil, "OAUTH_REFRESH_TOKEN=rt-1", "OAUTH_ACCESS_TOKEN=at-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 2 secret(s) in global scope")

	out, err = run(t, secretLsCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "OAUTH_ACCESS_TOKEN")
	assert.Contains(t, out, "OAUTH_REFRESH_TOKEN")
	assert.NotContains(t, out, "rt-1")

	out, err = run(t, secretLsCmd, map[string]string{"repo": "acme/web"})
	require.NoError(t, err)
	assert.Contains(t, out, "No secrets in repository acme/web scope")
}

func TestSecretSetRepositoryScope(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, secretSetCmd, map[string]string{"repo": "42"}, "OAUTH_ACCESS_TOKEN=at")
	require.NoError(t, err)
	assert.Contains(t, out, "repository 42")

	out, err = run(t, secretLsCmd, map[string]string{"repo": "42"})
	require.NoError(t, err)
	assert.Contains(t, out, "OAUTH_ACCESS_TOKEN")
}

func TestSecretSetRejectsMalformed(t *testing.T) {
	useTestConfig(t)

	_, err := run(t, secretSetCmd, nil, "NOVALUE")
	assert.Error(t, err)
	_, err = run(t, secretSetCmd, nil, "=value")
	assert.Error(t, err)
}
