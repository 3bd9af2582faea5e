package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/harunnryd/inspect/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLsEmpty(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, sessionLsCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")
}

func TestSessionCreateListShow(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, sessionCreateCmd, map[string]string{"title": "Fix login", "owner": "acme", "repo": "web"})
	require.NoError(t, err)
	assert.Contains(t, out, "Created session")
	id := strings.TrimSpace(out[strings.LastIndex(out, " ")+1:])
	require.NotEmpty(t, id)

	out, err = run(t, sessionLsCmd, map[string]string{"output": "json"})
	require.NoError(t, err)
	var sessions []session.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "github", sessions[0].Repository.Provider)

	out, err = run(t, sessionShowCmd, nil, id)
	require.NoError(t, err)
	assert.Contains(t, out, "Fix login")
	assert.Contains(t, out, "github:acme/web")
}

func TestSessionShowUnknown(t *testing.T) {
	useTestConfig(t)

	_, err := run(t, sessionShowCmd, nil, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Error(t, err)
}

func TestSessionLsRejectsUnknownFormat(t *testing.T) {
	useTestConfig(t)

	_, err := run(t, sessionLsCmd, map[string]string{"output": "xml"})
	assert.Error(t, err)
}
