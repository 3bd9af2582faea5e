// Package idempotency keeps short-lived claims on keys such as "publish:<session>".
// Claims survive a restart until their TTL lapses.
package idempotency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

type Claims struct {
	Keys map[string]int64 `json:"keys"` // Key -> Expiry (Unix milliseconds)
}

type Store struct {
	path  string
	state Claims
	mu    sync.Mutex
	now   func() time.Time
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		state: Claims{Keys: make(map[string]int64)},
		now:   time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.save()
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return err
	}
	if s.state.Keys == nil {
		s.state.Keys = make(map[string]int64)
	}
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// CheckAndMark reports whether key is already held. If it is not, the key is
// marked for ttl and persisted before returning.
func (s *Store) CheckAndMark(key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	if expiry, exists := s.state.Keys[key]; exists && expiry > now {
		return true, nil
	}

	s.state.Keys[key] = now + ttl.Milliseconds()
	if err := s.save(); err != nil {
		delete(s.state.Keys, key)
		return false, err
	}
	return false, nil
}

// Release drops key so it can be claimed again.
func (s *Store) Release(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Keys[key]; !ok {
		return nil
	}
	delete(s.state.Keys, key)
	return s.save()
}

// Active returns how many claims have not yet expired.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UnixMilli()
	n := 0
	for _, expiry := range s.state.Keys {
		if expiry > now {
			n++
		}
	}
	return n
}

// Held reports whether key is currently claimed.
func (s *Store) Held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.state.Keys[key]
	return ok && expiry > s.now().UnixMilli()
}

// Prune removes expired keys and returns how many were dropped.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	count := 0
	for k, expiry := range s.state.Keys {
		if expiry <= now {
			delete(s.state.Keys, k)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, s.save()
}
