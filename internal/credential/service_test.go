package credential

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoID = "github:acme/widgets"

type fakeRefresher struct {
	mu    sync.Mutex
	calls []string
	fn    func(call int, refreshToken string) (*RefreshResult, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refreshToken)
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(n, refreshToken)
}

func (f *fakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func expiresIn(d time.Duration) string {
	return strconv.FormatInt(time.Now().Add(d).UnixMilli(), 10)
}

func newService(p secrets.Provider, r Refresher) *Service {
	return NewService(p, r, Options{
		RefreshBuffer:  5 * time.Minute,
		RaceDelay:      10 * time.Millisecond,
		RefreshTimeout: time.Second,
	})
}

func TestCachedTokenNeverRefreshes(t *testing.T) {
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.RepositoryStore(repoID).SetSecrets(context.Background(), map[string]string{
		KeyAccessToken:  "cached",
		KeyRefreshToken: "r1",
		KeyExpiresAt:    expiresIn(6 * time.Minute),
		KeyAccountID:    "acct",
	}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, errors.New("unexpected") }}

	tok, err := newService(p, r).Resolve(context.Background(), Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
	assert.Equal(t, "acct", tok.AccountID)
	assert.Equal(t, secrets.ScopeRepository, tok.Scope)
	assert.False(t, tok.Refreshed)
	assert.Greater(t, tok.ExpiresIn, 5*time.Minute)
	assert.Empty(t, r.Calls())
}

func TestTokenInsideBufferIsRefreshed(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{
		KeyAccessToken:  "stale",
		KeyRefreshToken: "r1",
		KeyExpiresAt:    expiresIn(4 * time.Minute),
	}))
	newExpiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		return &RefreshResult{AccessToken: "fresh", RefreshToken: "r2", ExpiresAt: newExpiry, AccountID: "acct-9"}, nil
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.True(t, tok.Refreshed)
	assert.Equal(t, []string{"r1"}, r.Calls())

	stored, _ := repo.GetDecryptedSecrets(ctx)
	assert.Equal(t, "fresh", stored[KeyAccessToken])
	assert.Equal(t, "r2", stored[KeyRefreshToken])
	assert.Equal(t, strconv.FormatInt(newExpiry.UnixMilli(), 10), stored[KeyExpiresAt])
	assert.Equal(t, "acct-9", stored[KeyAccountID])

	global, _ := p.GlobalStore().GetDecryptedSecrets(ctx)
	assert.Empty(t, global)
}

func TestFallsBackToGlobalScopeAndWritesBackThere(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.RepositoryStore(repoID).SetSecrets(ctx, map[string]string{KeyAccessToken: "expired", KeyExpiresAt: "1"}))
	require.NoError(t, p.GlobalStore().SetSecrets(ctx, map[string]string{KeyRefreshToken: "g1"}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		return &RefreshResult{AccessToken: "from-global", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "from-global", tok.AccessToken)
	assert.Equal(t, secrets.ScopeGlobal, tok.Scope)

	global, _ := p.GlobalStore().GetDecryptedSecrets(ctx)
	assert.Equal(t, "from-global", global[KeyAccessToken])
	assert.Equal(t, "g1", global[KeyRefreshToken])
	repo, _ := p.RepositoryStore(repoID).GetDecryptedSecrets(ctx)
	assert.Equal(t, "expired", repo[KeyAccessToken])
}

func TestRepositoryScopeWinsOverGlobal(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.RepositoryStore(repoID).SetSecrets(ctx, map[string]string{KeyRefreshToken: "repo-r"}))
	require.NoError(t, p.GlobalStore().SetSecrets(ctx, map[string]string{
		KeyAccessToken: "global-cached", KeyExpiresAt: expiresIn(time.Hour),
	}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		return &RefreshResult{AccessToken: "repo-fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "repo-fresh", tok.AccessToken)
	assert.Equal(t, []string{"repo-r"}, r.Calls())
}

func TestNotConfigured(t *testing.T) {
	p := secrets.NewMemoryProvider()
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, nil }}

	_, err := newService(p, r).Resolve(context.Background(), Principal{RepositoryID: repoID})
	assert.ErrorIs(t, err, ErrCredentialNotConfigured)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthenticated))
	assert.Empty(t, r.Calls())
}

func TestPersistFailureStillReturnsToken(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))
	repo.SetErr = errors.New("disk full")
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		return &RefreshResult{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

func TestUnauthorizedThenConcurrentRotationReturnsRotatedToken(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		// another actor wins the race while our refresh is being rejected
		_ = repo.SetSecrets(ctx, map[string]string{
			KeyAccessToken:  "rotated",
			KeyRefreshToken: "r2",
			KeyExpiresAt:    expiresIn(time.Hour),
		})
		return nil, ErrRefreshRejected
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok.AccessToken)
	assert.Equal(t, []string{"r1"}, r.Calls())
}

func TestRotationDuringBackoffWindowIsPickedUp(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, ErrRefreshRejected }}
	svc := newService(p, r)

	var slept []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		// the refresher has already rejected r1; the winner persists now
		before, err := repo.GetDecryptedSecrets(ctx)
		require.NoError(t, err)
		assert.Empty(t, before[KeyAccessToken])
		return repo.SetSecrets(ctx, map[string]string{
			KeyAccessToken:  "rotated-in-window",
			KeyRefreshToken: "r2",
			KeyExpiresAt:    expiresIn(time.Hour),
		})
	}

	tok, err := svc.Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "rotated-in-window", tok.AccessToken)
	assert.False(t, tok.Refreshed)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, slept)
	assert.Equal(t, []string{"r1"}, r.Calls())
}

func TestRefreshTokenRotatedDuringBackoffWindowRetries(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	global := p.GlobalStore()
	require.NoError(t, global.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(call int, token string) (*RefreshResult, error) {
		if token == "r1" {
			return nil, ErrRefreshRejected
		}
		return &RefreshResult{AccessToken: "via-" + token, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	svc := newService(p, r)
	sleeps := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return global.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r2"})
	}

	tok, err := svc.Resolve(ctx, Principal{})
	require.NoError(t, err)
	assert.Equal(t, "via-r2", tok.AccessToken)
	assert.Equal(t, 1, sleeps)
	assert.Equal(t, []string{"r1", "r2"}, r.Calls())
}

func TestCancelledBackoffWindowIsTransient(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.GlobalStore().SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, ErrRefreshRejected }}
	svc := newService(p, r)
	svc.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, err := svc.Resolve(ctx, Principal{})
	require.Error(t, err)
	assert.Equal(t, "Transient", apperrors.Category(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnauthorizedThenRotatedRefreshTokenRetriesOnce(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(call int, token string) (*RefreshResult, error) {
		if call == 1 {
			_ = repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r2"})
			return nil, ErrRefreshRejected
		}
		return &RefreshResult{AccessToken: "via-r2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}

	tok, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, "via-r2", tok.AccessToken)
	assert.Equal(t, []string{"r1", "r2"}, r.Calls())
}

func TestUnauthorizedRetriesAtMostOnce(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	repo := p.RepositoryStore(repoID)
	require.NoError(t, repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))

	r := &fakeRefresher{fn: func(call int, token string) (*RefreshResult, error) {
		_ = repo.SetSecrets(ctx, map[string]string{KeyRefreshToken: "r" + strconv.Itoa(call+1)})
		return nil, ErrRefreshRejected
	}}

	_, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	assert.ErrorIs(t, err, ErrRefreshUnauthorized)
	assert.Equal(t, []string{"r1", "r2"}, r.Calls())
}

func TestUnauthorizedWithoutRotationFails(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.GlobalStore().SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, ErrRefreshRejected }}

	_, err := newService(p, r).Resolve(ctx, Principal{})
	assert.ErrorIs(t, err, ErrRefreshUnauthorized)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthenticated))
	assert.Equal(t, []string{"r1"}, r.Calls())
}

func TestOtherRefreshFailureIsUpstream(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.GlobalStore().SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) { return nil, errors.New("503 from issuer") }}

	_, err := newService(p, r).Resolve(ctx, Principal{RepositoryID: repoID})
	assert.ErrorIs(t, err, ErrUpstreamRefresh)
	assert.Equal(t, "UpstreamFailure", apperrors.Category(err))
	assert.Len(t, r.Calls(), 1)
}

func TestConcurrentResolvesRefreshOnce(t *testing.T) {
	ctx := context.Background()
	p := secrets.NewMemoryProvider()
	require.NoError(t, p.RepositoryStore(repoID).SetSecrets(ctx, map[string]string{KeyRefreshToken: "r1"}))
	r := &fakeRefresher{fn: func(int, string) (*RefreshResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &RefreshResult{AccessToken: "fresh", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	svc := newService(p, r)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := svc.Resolve(ctx, Principal{RepositoryID: repoID})
			assert.NoError(t, err)
			if tok != nil {
				assert.Equal(t, "fresh", tok.AccessToken)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.Calls(), 1)
}
