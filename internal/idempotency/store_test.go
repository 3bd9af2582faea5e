package idempotency

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	return s, path
}

func TestCheckAndMark(t *testing.T) {
	s, _ := newTestStore(t)

	held, err := s.CheckAndMark("publish:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)

	held, err = s.CheckAndMark("publish:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, s.Release("publish:s1"))
	held, err = s.CheckAndMark("publish:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestExpiredClaimCanBeRetaken(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.CheckAndMark("k", time.Second)
	require.NoError(t, err)
	assert.True(t, s.Held("k"))

	now = now.Add(2 * time.Second)
	assert.False(t, s.Held("k"))
	held, err := s.CheckAndMark("k", time.Second)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestClaimsPersistAcrossReload(t *testing.T) {
	s, path := newTestStore(t)
	_, err := s.CheckAndMark("publish:s1", time.Hour)
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Held("publish:s1"))
}

func TestPrune(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, _ = s.CheckAndMark("short", time.Second)
	_, _ = s.CheckAndMark("long", time.Hour)

	now = now.Add(time.Minute)
	n, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, s.Held("long"))
}

func TestActiveCountsUnexpiredClaims(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }
	assert.Equal(t, 0, s.Active())

	_, _ = s.CheckAndMark("publish:a", time.Second)
	_, _ = s.CheckAndMark("publish:b", time.Hour)
	assert.Equal(t, 2, s.Active())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Active())
	require.NoError(t, s.Release("publish:b"))
	assert.Equal(t, 0, s.Active())
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held, err := s.CheckAndMark("publish:race", time.Minute)
			if err == nil && !held {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
