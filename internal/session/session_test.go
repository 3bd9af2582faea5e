package session

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTransitions(t *testing.T) {
	allowed := map[[2]MessageStatus]bool{
		{MessageQueued, MessageProcessing}: true,
		{MessageProcessing, MessageDone}:   true,
		{MessageProcessing, MessageFailed}: true,
	}
	all := []MessageStatus{MessageQueued, MessageProcessing, MessageDone, MessageFailed}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]MessageStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestMessageTransitionStampsTimes(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &Message{ID: "m1", Status: MessageQueued}

	require.NoError(t, m.Transition(MessageProcessing, now))
	require.NotNil(t, m.StartedAt)
	assert.Equal(t, now, *m.StartedAt)
	assert.Nil(t, m.CompletedAt)

	require.NoError(t, m.Transition(MessageDone, now.Add(time.Minute)))
	require.NotNil(t, m.CompletedAt)
	assert.True(t, m.Status.Terminal())

	err := m.Transition(MessageProcessing, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, MessageDone, m.Status)
}

func TestParseEnums(t *testing.T) {
	st, err := ParseMessageStatus("processing")
	require.NoError(t, err)
	assert.Equal(t, MessageProcessing, st)
	_, err = ParseMessageStatus("running")
	assert.Error(t, err)

	k, err := ParseArtifactKind("pr")
	require.NoError(t, err)
	assert.Equal(t, ArtifactPR, k)
	_, err = ParseArtifactKind("commit")
	assert.Error(t, err)
}

func TestRepoBinding(t *testing.T) {
	r := RepoBinding{Provider: "github", Owner: "Acme", Name: "Widgets"}
	assert.False(t, r.Bound())
	assert.Equal(t, "github:acme/widgets", r.CanonicalID())

	r.ProviderRepoID = "12345"
	assert.True(t, r.Bound())
}

func TestHasPullRequest(t *testing.T) {
	assert.False(t, HasPullRequest(nil))
	assert.False(t, HasPullRequest([]Artifact{{Kind: ArtifactBranch}}))
	assert.True(t, HasPullRequest([]Artifact{{Kind: ArtifactBranch}, {Kind: ArtifactPR}}))
}

func TestNewIDUnique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.Len(t, NewID(), 26)
}
