package session

import (
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/genloop/core"
)

// ErrSelectionNotFound is returned when a pending selection is unknown,
// already consumed or expired.
var ErrSelectionNotFound = errors.New("selection not found or expired")

// DefaultPendingTTL is how long a paused selection waits for a human choice.
const DefaultPendingTTL = 30 * time.Minute

// PendingStoreOptions configures a PendingStore.
type PendingStoreOptions struct {
	TTL time.Duration
	Now func() time.Time
}

// PendingStore is a volatile, process local store of paused two-phase
// selections. It is safe for concurrent access. Stored and returned
// selections are cloned so callers never share history slices.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]core.PendingSelection
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingStore constructs an empty store.
func NewPendingStore(optFns ...func(o *PendingStoreOptions)) *PendingStore {
	opts := PendingStoreOptions{TTL: DefaultPendingTTL, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PendingStore{
		entries: make(map[string]core.PendingSelection),
		ttl:     opts.TTL,
		now:     opts.Now,
	}
}

// Put stores p under p.ID, replacing any previous entry with the same id.
// A zero CreatedAt is set to the store clock.
func (s *PendingStore) Put(p core.PendingSelection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.entries[p.ID] = clonePending(p)
}

// Take removes and returns the selection. A selection can be taken once.
func (s *PendingStore) Take(id string) (core.PendingSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	p, ok := s.entries[id]
	if !ok {
		return core.PendingSelection{}, ErrSelectionNotFound
	}
	delete(s.entries, id)
	return clonePending(p), nil
}

// Discard drops the selection and returns the history as it was before the
// paused request was made.
func (s *PendingStore) Discard(id string) (core.History, error) {
	p, err := s.Take(id)
	if err != nil {
		return nil, err
	}
	return p.History, nil
}

// ExpiresAt reports when p will be swept. It is zero when entries never
// expire.
func (s *PendingStore) ExpiresAt(p core.PendingSelection) time.Time {
	if s.ttl <= 0 || p.CreatedAt.IsZero() {
		return time.Time{}
	}
	return p.CreatedAt.Add(s.ttl)
}

// Len reports the number of live selections.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

// sweepLocked drops expired entries; caller must hold the lock.
func (s *PendingStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, p := range s.entries {
		if p.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

func clonePending(p core.PendingSelection) core.PendingSelection {
	p.History = p.History.Clone()
	if p.Candidates != nil {
		candidates := make([]core.Image, len(p.Candidates))
		copy(candidates, p.Candidates)
		p.Candidates = candidates
	}
	return p
}
