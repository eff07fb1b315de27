// Package session owns the process-wide session store. A session bundles
// one repository's index, chunk table, issues and summary; it is built
// under an exclusive handle, published atomically, and immutable after
// publish.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/desolveai/desolve/internal/chunker"
	"github.com/desolveai/desolve/internal/embed"
	"github.com/desolveai/desolve/internal/fetch"
	"github.com/desolveai/desolve/internal/index"
	"github.com/desolveai/desolve/internal/llm"
)

var (
	// ErrAlreadyBuilding means an ingestion for this key is in flight.
	ErrAlreadyBuilding = errors.New("session build already in progress")
	// ErrNotFound means no published session exists for the key.
	ErrNotFound = errors.New("session not found")
)

// Session is the published, immutable state for one ingested repository.
// The embedding provider and generation backend are fixed at ingestion
// time for the session's lifetime.
type Session struct {
	Key       string
	Repo      string
	Embedder  embed.Provider
	Backend   llm.Backend
	Index     index.Index
	Chunks    map[string]chunker.Chunk
	Issues    []fetch.Issue
	Summary   string
	CreatedAt time.Time
}

// Build is the exclusive write handle for one in-flight ingestion.
// Release must be called on every exit path; it is idempotent.
type Build struct {
	key     string
	store   *Store
	release sync.Once
}

// Key returns the session key this build owns.
func (b *Build) Key() string { return b.key }

// Release gives up build exclusivity without publishing. Safe to defer
// alongside a successful Publish.
func (b *Build) Release() {
	b.release.Do(func() {
		b.store.mu.Lock()
		delete(b.store.building, b.key)
		b.store.mu.Unlock()
	})
}

// Publish atomically installs the session for the build's key, replacing
// any prior session. The prior session's index is closed only after the
// swap, so a failed rebuild never destroys a working session.
func (b *Build) Publish(s *Session) {
	b.store.mu.Lock()
	old := b.store.sessions[b.key]
	b.store.sessions[b.key] = s
	b.store.mu.Unlock()
	b.Release()

	if old != nil && old.Index != nil {
		old.Index.Close()
	}
}

// Store holds all published sessions and in-flight builds.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	building map[string]struct{}
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		building: make(map[string]struct{}),
	}
}

// Create acquires the exclusive build handle for key. A second Create
// for the same key fails with ErrAlreadyBuilding until the first handle
// is released or published.
func (s *Store) Create(key string) (*Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.building[key]; busy {
		return nil, ErrAlreadyBuilding
	}
	s.building[key] = struct{}{}
	return &Build{key: key, store: s}, nil
}

// Get returns the published session for key.
func (s *Store) Get(key string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes the session for key and releases its resources.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if sess.Index != nil {
		return sess.Index.Close()
	}
	return nil
}

// Keys returns the keys of all published sessions.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		out = append(out, k)
	}
	return out
}
