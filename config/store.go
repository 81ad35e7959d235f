package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published version of the settings.
type Snapshot struct {
	Version  uint64   `json:"version"`
	Settings Settings `json:"settings"`
}

// Persister saves and restores settings across restarts (optional).
type Persister interface {
	SaveSettings(ctx context.Context, data []byte) error
	LoadSettings(ctx context.Context) ([]byte, bool, error)
}

// Store publishes immutable settings snapshots. Readers call Load once per
// operation and never see a half-applied update.
type Store struct {
	cur     atomic.Pointer[Snapshot]
	persist Persister

	mu        sync.Mutex // serializes writers and listener registration
	listeners []func(Snapshot)

	saveMu sync.Mutex // serializes saves; saved is the last persisted version
	saved  uint64
}

// NewStore creates a store at version 1. p may be nil.
func NewStore(initial Settings, p Persister) *Store {
	s := &Store{persist: p}
	s.cur.Store(&Snapshot{Version: 1, Settings: initial.clone()})
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() Snapshot {
	snap := *s.cur.Load()
	snap.Settings = snap.Settings.clone()
	return snap
}

// Swap validates next and publishes it as a new version. Listeners run
// synchronously after the swap.
func (s *Store) Swap(next Settings) (Snapshot, error) {
	if err := next.Validate(); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	snap := Snapshot{Version: s.cur.Load().Version + 1, Settings: next.clone()}
	s.cur.Store(&snap)
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()

	if s.persist != nil {
		s.saveLatest()
	}
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

// OnChange registers fn to be called after every successful Swap.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Restore loads persisted settings, if any, and publishes them. It
// returns true when settings were restored.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	if s.persist == nil {
		return false, nil
	}
	data, ok, err := s.persist.LoadSettings(ctx)
	if err != nil || !ok {
		return false, err
	}
	next := s.Load().Settings
	if err := json.Unmarshal(data, &next); err != nil {
		return false, fmt.Errorf("config: decode persisted settings: %w", err)
	}
	if _, err := s.Swap(next); err != nil {
		return false, fmt.Errorf("config: persisted settings: %w", err)
	}
	log.Printf("[config] restored persisted settings")
	return true, nil
}

// saveLatest persists the current snapshot unless a newer or equal version
// was already saved, so concurrent swaps never leave an older version behind.
func (s *Store) saveLatest() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	snap := s.cur.Load()
	if snap.Version <= s.saved {
		return
	}
	data, err := json.Marshal(snap.Settings)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.persist.SaveSettings(ctx, data); err != nil {
		log.Printf("[config] WARNING: failed to persist settings: %v", err)
		return
	}
	s.saved = snap.Version
}
