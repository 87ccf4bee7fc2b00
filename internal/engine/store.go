package engine

import (
	"sync"

	"github.com/genricoloni/podlink/internal/domain"
)

// Store holds the single shared PlaybackState. Readers always get a whole snapshot.
type Store struct {
	mu    sync.RWMutex
	state domain.PlaybackState
}

// NewStore creates a store with nothing playing and the volume unknown
func NewStore() *Store {
	return &Store{state: domain.PlaybackState{VolumePercent: domain.VolumeUnavailable}}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() domain.PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn atomically and returns the resulting snapshot
func (s *Store) Update(fn func(*domain.PlaybackState)) domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.state
}
