package pipeline

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
	"github.com/harunnryd/inspect/internal/session"
	"github.com/harunnryd/inspect/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Pipeline, string, string) {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	m, err := store.NewManager("pipeline", t.TempDir(), store.RuntimeConfig{
		LockTimeout: 200 * time.Millisecond,
		LockRetry:   10 * time.Millisecond,
		SecretKey:   key,
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	ctx := context.Background()
	s, err := m.CreateSession(ctx, "t", session.RepoBinding{Provider: "github", Owner: "o", Name: "n"})
	require.NoError(t, err)
	w, err := m.Session(ctx, s.ID)
	require.NoError(t, err)
	p := &session.Participant{UserID: "u1"}
	require.NoError(t, w.AddParticipant(ctx, p))

	return New(m), s.ID, p.ID
}

func TestPipelineLifecycle(t *testing.T) {
	pl, sid, author := setup(t)
	ctx := context.Background()

	first, err := pl.Enqueue(ctx, sid, author, "add a readme", "web")
	require.NoError(t, err)
	assert.Equal(t, session.MessageQueued, first.Status)
	_, err = pl.Enqueue(ctx, sid, author, "then tests", "slack")
	require.NoError(t, err)

	current, err := pl.Processing(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, current)

	started, err := pl.StartNext(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, started.ID)
	assert.Equal(t, session.MessageProcessing, started.Status)

	_, err = pl.StartNext(ctx, sid)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	current, err = pl.Processing(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, first.ID, current.ID)

	done, err := pl.Complete(ctx, sid, first.ID)
	require.NoError(t, err)
	assert.Equal(t, session.MessageDone, done.Status)

	second, err := pl.StartNext(ctx, sid)
	require.NoError(t, err)
	failed, err := pl.Fail(ctx, sid, second.ID)
	require.NoError(t, err)
	assert.Equal(t, session.MessageFailed, failed.Status)

	_, err = pl.StartNext(ctx, sid)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	msgs, err := pl.List(ctx, sid)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, session.MessageDone, msgs[0].Status)
	assert.Equal(t, session.MessageFailed, msgs[1].Status)
}

func TestPipelineRejectsIllegalTransitions(t *testing.T) {
	pl, sid, author := setup(t)
	ctx := context.Background()

	msg, err := pl.Enqueue(ctx, sid, author, "x", "")
	require.NoError(t, err)

	_, err = pl.Complete(ctx, sid, msg.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
	_, err = pl.Fail(ctx, sid, msg.ID)
	assert.True(t, apperrors.Is(err, session.ErrInvalidTransition))

	_, err = pl.Complete(ctx, sid, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPipelineValidation(t *testing.T) {
	pl, sid, _ := setup(t)
	ctx := context.Background()

	_, err := pl.Enqueue(ctx, sid, "stranger", "hi", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = pl.Enqueue(ctx, sid, "stranger", "  ", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))

	_, err = pl.StartNext(ctx, "no-such-session")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
