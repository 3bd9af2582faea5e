package store

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
	"github.com/harunnryd/inspect/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)

	m, err := NewManager("test-ws", t.TempDir(), RuntimeConfig{
		LockTimeout: 200 * time.Millisecond,
		LockRetry:   10 * time.Millisecond,
		SecretKey:   key,
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func newTestSession(t *testing.T, m *Manager) (*Worker, *session.Participant) {
	t.Helper()
	ctx := context.Background()
	s, err := m.CreateSession(ctx, "fix flaky test", session.RepoBinding{Provider: "github", Owner: "acme", Name: "widgets"})
	require.NoError(t, err)

	w, err := m.Session(ctx, s.ID)
	require.NoError(t, err)

	p := &session.Participant{
		UserID:         "user-1",
		ProviderLogin:  "octocat",
		AccessToken:    "gho_access",
		RefreshToken:   "ghr_refresh",
		TokenExpiresAt: time.Now().Add(time.Hour).Truncate(time.Millisecond),
	}
	require.NoError(t, w.AddParticipant(ctx, p))
	return w, p
}

func TestManagerSessionLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	w, p := newTestSession(t, m)

	s, err := w.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.False(t, s.Repository.Bound())

	bound := s.Repository
	bound.ProviderRepoID = "42"
	bound.DefaultBranch = "main"
	bound.FullName = "acme/widgets"
	require.NoError(t, w.BindRepository(ctx, bound))

	s, err = w.GetSession(ctx)
	require.NoError(t, err)
	assert.True(t, s.Repository.Bound())
	assert.Equal(t, "main", s.Repository.DefaultBranch)

	got, err := w.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_access", got.AccessToken)
	assert.Equal(t, "ghr_refresh", got.RefreshToken)
	assert.True(t, p.TokenExpiresAt.Equal(got.TokenExpiresAt))

	same, err := m.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, w, same)
	assert.Equal(t, 1, m.ActiveWorkers())

	list, err := m.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestManagerUnknownSession(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Session(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestCreateSessionRequiresRepository(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession(context.Background(), "x", session.RepoBinding{Provider: "github"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
}

func TestParticipantTokensSealedAtRest(t *testing.T) {
	m := newTestManager(t)
	_, p := newTestSession(t, m)

	var access, refresh string
	require.NoError(t, m.db.QueryRow(`SELECT access_token, refresh_token FROM participants WHERE id = ?`, p.ID).Scan(&access, &refresh))
	assert.NotEmpty(t, access)
	assert.NotContains(t, access, "gho_access")
	assert.NotContains(t, refresh, "ghr_refresh")
}

func TestUpdateParticipantTokens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	w, p := newTestSession(t, m)

	p.AccessToken = "gho_new"
	p.RefreshToken = "ghr_new"
	require.NoError(t, w.UpdateParticipantTokens(ctx, p))

	got, err := w.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "gho_new", got.AccessToken)
	assert.Equal(t, "ghr_new", got.RefreshToken)

	ghost := &session.Participant{ID: "nope"}
	assert.True(t, apperrors.Is(w.UpdateParticipantTokens(ctx, ghost), apperrors.ErrNotFound))
}

func TestEnqueueRequiresParticipant(t *testing.T) {
	m := newTestManager(t)
	w, _ := newTestSession(t, m)

	err := w.EnqueueMessage(context.Background(), &session.Message{AuthorID: "stranger", Content: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestAtMostOneProcessingMessage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	w, p := newTestSession(t, m)

	for _, content := range []string{"first", "second"} {
		require.NoError(t, w.EnqueueMessage(ctx, &session.Message{AuthorID: p.ID, Content: content}))
	}

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.StartNextMessage(ctx)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	started := 0
	for err := range results {
		if err == nil {
			started++
			continue
		}
		assert.True(t, apperrors.Is(err, apperrors.ErrConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, started)

	processing, err := w.ProcessingMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, processing)
	assert.Equal(t, "first", processing.Content)
	assert.NotNil(t, processing.StartedAt)

	// the partial unique index rejects a second processing row written behind the worker's back
	_, err = m.db.Exec(`UPDATE messages SET status = 'processing' WHERE session_id = ? AND status = 'queued'`, w.SessionID())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestFinishMessage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	w, p := newTestSession(t, m)

	msg := &session.Message{AuthorID: p.ID, Content: "do it"}
	require.NoError(t, w.EnqueueMessage(ctx, msg))

	_, err := w.FinishMessage(ctx, msg.ID, session.MessageDone)
	assert.True(t, apperrors.Is(err, session.ErrInvalidTransition))

	_, err = w.StartNextMessage(ctx)
	require.NoError(t, err)

	done, err := w.FinishMessage(ctx, msg.ID, session.MessageDone)
	require.NoError(t, err)
	assert.Equal(t, session.MessageDone, done.Status)
	assert.NotNil(t, done.CompletedAt)

	processing, err := w.ProcessingMessage(ctx)
	require.NoError(t, err)
	assert.Nil(t, processing)

	_, err = w.StartNextMessage(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestAtMostOnePRArtifact(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	w, _ := newTestSession(t, m)

	require.NoError(t, w.AppendArtifact(ctx, &session.Artifact{
		Kind: session.ArtifactBranch, URL: "https://github.com/acme/widgets/pull/new/main...x",
		Metadata: map[string]string{"mode": "manual"},
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.AppendArtifact(ctx, &session.Artifact{Kind: session.ArtifactPR, URL: "https://github.com/acme/widgets/pull/1"})
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
		} else {
			assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
		}
	}
	assert.Equal(t, 1, created)

	artifacts, err := w.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "manual", artifacts[0].Metadata["mode"])

	has, err := w.HasArtifact(ctx, session.ArtifactPR)
	require.NoError(t, err)
	assert.True(t, has)

	// direct insert bypassing the worker still hits the partial unique index
	err = m.repo.InsertArtifact(ctx, &session.Artifact{SessionID: w.SessionID(), Kind: session.ArtifactPR, URL: "dup"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestSecretsScopes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	repoStore := m.Secrets().Repository("github:acme/widgets")
	global := m.Secrets().Global()

	require.NoError(t, global.SetSecrets(ctx, map[string]string{"OAUTH_ACCESS_TOKEN": "global", "OTHER": "g"}))
	require.NoError(t, repoStore.SetSecrets(ctx, map[string]string{"OAUTH_ACCESS_TOKEN": "repo"}))
	require.NoError(t, repoStore.SetSecrets(ctx, map[string]string{"OAUTH_REFRESH_TOKEN": "r1"}))

	got, err := secrets.Resolve(ctx, repoStore, global)
	require.NoError(t, err)
	assert.Equal(t, "repo", got["OAUTH_ACCESS_TOKEN"])
	assert.Equal(t, "r1", got["OAUTH_REFRESH_TOKEN"])
	assert.Equal(t, "g", got["OTHER"])

	keys, err := m.Secrets().Scoped(secrets.ScopeRepository, "github:acme/widgets").Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"OAUTH_ACCESS_TOKEN", "OAUTH_REFRESH_TOKEN"}, keys)

	var raw string
	require.NoError(t, m.db.QueryRow(`SELECT value FROM secrets WHERE scope = 'global' AND key = 'OTHER'`).Scan(&raw))
	assert.NotEqual(t, "g", raw)
}

func TestSecondManagerIsLockedOut(t *testing.T) {
	root := t.TempDir()
	cfg := RuntimeConfig{LockTimeout: 100 * time.Millisecond, LockRetry: 10 * time.Millisecond}

	first, err := NewManager("ws", root, cfg)
	require.NoError(t, err)
	assert.True(t, first.IsLockHeld())

	_, err = NewManager("ws", root, cfg)
	assert.Error(t, err)

	first.Stop()
	assert.False(t, first.IsLockHeld())

	second, err := NewManager("ws", root, cfg)
	require.NoError(t, err)
	second.Stop()
}

func TestGeneratedSecretKeyIsReused(t *testing.T) {
	root := t.TempDir()
	cfg := RuntimeConfig{LockTimeout: 100 * time.Millisecond, LockRetry: 10 * time.Millisecond}
	ctx := context.Background()

	first, err := NewManager("ws", root, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Secrets().Global().SetSecrets(ctx, map[string]string{"K": "v"}))
	first.Stop()

	second, err := NewManager("ws", root, cfg)
	require.NoError(t, err)
	defer second.Stop()
	got, err := second.Secrets().Global().GetDecryptedSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", got["K"])
}

func TestStoppedManagerRejectsSessions(t *testing.T) {
	m := newTestManager(t)
	w, _ := newTestSession(t, m)
	m.Stop()

	assert.False(t, w.IsRunning())
	_, err := m.Session(context.Background(), w.SessionID())
	assert.True(t, apperrors.Is(err, apperrors.ErrTransient))
}
