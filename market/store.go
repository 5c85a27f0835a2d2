package market

import (
	"sync"
	"time"

	"ox-maker-go/metrics"
)

// Store holds the most recent snapshot per instrument. The feed writes
// concurrently; the reconciliation loop reads once per tick. Writes are
// last-write-wins, no merging.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewStore() *Store {
	return &Store{snapshots: make(map[string]Snapshot)}
}

// Update replaces the stored snapshot unconditionally.
func (s *Store) Update(snap Snapshot) {
	if snap.Instrument == "" {
		return
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.snapshots[snap.Instrument] = snap
	s.mu.Unlock()
	metrics.UpdateSnapshot(snap.Instrument, snap.Mid(), snap.RelativeSpread())
}

// Get returns the latest snapshot for an instrument.
func (s *Store) Get(instrument string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[instrument]
	return snap, ok
}

// IsFresh reports whether the instrument has a snapshot no older than maxAge.
func (s *Store) IsFresh(instrument string, now time.Time, maxAge time.Duration) bool {
	s.mu.RLock()
	snap, ok := s.snapshots[instrument]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return now.Sub(snap.UpdatedAt) <= maxAge
}

// All returns a copy of the current snapshot set. The copy keeps a tick's
// decisions consistent while the feed keeps writing.
func (s *Store) All() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.snapshots))
	for k, v := range s.snapshots {
		out[k] = v
	}
	return out
}

// Len returns the number of instruments with at least one snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
