// Package store keeps the latest known state of every vehicle that has
// ever broadcast.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/ukydev/platoon-telemetry/internal/models"
)

// Store holds one VehicleState per vehicle id. Writes are last-writer-wins:
// a late, older packet overwrites newer state. Entries are only removed by
// EvictBefore.
type Store struct {
	mu       sync.RWMutex
	vehicles map[int32]models.VehicleState
}

// New creates an empty store.
func New() *Store {
	return &Store{vehicles: make(map[int32]models.VehicleState)}
}

// Merge inserts or overwrites the state for rec.ID.
func (s *Store) Merge(rec models.TelemetryRecord, receivedAt time.Time) {
	s.mu.Lock()
	s.vehicles[rec.ID] = models.StateFromRecord(rec, receivedAt)
	s.mu.Unlock()
}

// Get returns the state for id.
func (s *Store) Get(id int32) (models.VehicleState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.vehicles[id]
	return st, ok
}

// ActiveSince returns the ids last seen at or after cutoff, ascending.
func (s *Store) ActiveSince(cutoff time.Time) []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int32, 0, len(s.vehicles))
	for id, st := range s.vehicles {
		if !st.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// All returns every known id regardless of staleness, ascending.
func (s *Store) All() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int32, 0, len(s.vehicles))
	for id := range s.vehicles {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Snapshot returns a copy of every entry taken under a single lock.
func (s *Store) Snapshot() map[int32]models.VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int32]models.VehicleState, len(s.vehicles))
	for id, st := range s.vehicles {
		out[id] = st
	}
	return out
}

// Len returns the number of known vehicles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// EvictBefore deletes entries last seen before cutoff and returns their ids.
func (s *Store) EvictBefore(cutoff time.Time) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []int32
	for id, st := range s.vehicles {
		if st.LastSeen.Before(cutoff) {
			delete(s.vehicles, id)
			evicted = append(evicted, id)
		}
	}
	sortIDs(evicted)
	return evicted
}

func sortIDs(ids []int32) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
