// Package secrets defines the read/write contract for scoped secret storage.
package secrets

import (
	"context"
	"maps"
	"sync"
)

// Store reads and writes the secrets of a single scope. SetSecrets upserts the
// given keys and leaves the others untouched.
type Store interface {
	GetDecryptedSecrets(ctx context.Context) (map[string]string, error)
	SetSecrets(ctx context.Context, values map[string]string) error
}

type Scope string

const (
	ScopeRepository Scope = "repository"
	ScopeGlobal     Scope = "global"
)

// Provider hands out the stores for each scope.
type Provider interface {
	Repository(repoID string) Store
	Global() Store
}

// Resolve merges stores in priority order; earlier stores win.
func Resolve(ctx context.Context, stores ...Store) (map[string]string, error) {
	out := make(map[string]string)
	for i := len(stores) - 1; i >= 0; i-- {
		if stores[i] == nil {
			continue
		}
		values, err := stores[i].GetDecryptedSecrets(ctx)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, values)
	}
	return out, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	// SetErr, when set, is returned from SetSecrets without writing.
	SetErr error
}

func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	maps.Copy(values, initial)
	return &MemoryStore{values: values}
}

func (m *MemoryStore) GetDecryptedSecrets(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values), nil
}

func (m *MemoryStore) SetSecrets(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	maps.Copy(m.values, values)
	return nil
}

// MemoryProvider keeps one MemoryStore per scope.
type MemoryProvider struct {
	mu    sync.Mutex
	repos map[string]*MemoryStore
	glob  *MemoryStore
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		repos: make(map[string]*MemoryStore),
		glob:  NewMemoryStore(nil),
	}
}

func (p *MemoryProvider) Repository(repoID string) Store {
	return p.RepositoryStore(repoID)
}

// RepositoryStore returns the concrete store for repoID, creating it on first use.
func (p *MemoryProvider) RepositoryStore(repoID string) *MemoryStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.repos[repoID]
	if !ok {
		s = NewMemoryStore(nil)
		p.repos[repoID] = s
	}
	return s
}

func (p *MemoryProvider) Global() Store {
	return p.glob
}

func (p *MemoryProvider) GlobalStore() *MemoryStore {
	return p.glob
}
