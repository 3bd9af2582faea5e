package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRepositoryWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore(map[string]string{"A": "repo"})
	global := NewMemoryStore(map[string]string{"A": "global", "B": "global"})

	got, err := Resolve(ctx, repo, nil, global)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "repo", "B": "global"}, got)
}

func TestMemoryStoreUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(map[string]string{"A": "1", "B": "2"})

	require.NoError(t, s.SetSecrets(ctx, map[string]string{"B": "3", "C": "4"}))
	got, err := s.GetDecryptedSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, got)

	got["A"] = "mutated"
	again, _ := s.GetDecryptedSecrets(ctx)
	assert.Equal(t, "1", again["A"])

	s.SetErr = errors.New("disk full")
	assert.Error(t, s.SetSecrets(ctx, map[string]string{"A": "x"}))
}

func TestMemoryProviderScopes(t *testing.T) {
	p := NewMemoryProvider()
	assert.Same(t, p.RepositoryStore("github:a/b"), p.RepositoryStore("github:a/b"))
	assert.NotSame(t, p.RepositoryStore("github:a/b"), p.RepositoryStore("github:a/c"))
	assert.Same(t, p.GlobalStore(), p.Global())
}

func TestCipherRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal("gho_secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "gho_secret")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "gho_secret", plain)

	empty, err := c.Seal("")
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	other, _ := GenerateKey()
	c2, _ := NewCipher(other)
	_, err = c2.Open(sealed)
	assert.Error(t, err)
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	_, err := NewCipher("not base64!")
	assert.Error(t, err)
	_, err = NewCipher("c2hvcnQ=")
	assert.Error(t, err)
}
