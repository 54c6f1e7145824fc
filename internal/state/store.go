// Package state holds the canonical display state and its single mutation path.
package state

import (
	"sync"
	"sync/atomic"

	"onairsync/internal/apperr"
)

// Store owns the current *State. Writers are serialized by mu; readers load
// the published pointer without locking.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[State]

	subMu  sync.Mutex
	subs   map[uint64]chan *State
	nextID uint64
}

// NewStore publishes initial as revision 0.
func NewStore(initial *State) *Store {
	s := &Store{subs: make(map[uint64]chan *State)}
	st := initial.Clone()
	st.Revision = 0
	s.current.Store(st)
	return s
}

// Snapshot returns the current immutable state. Callers must not modify it.
func (s *Store) Snapshot() *State {
	return s.current.Load()
}

// Revision returns the current revision.
func (s *Store) Revision() uint64 {
	return s.current.Load().Revision
}

// Apply runs mutate on a private copy of the current state. If mutate fails
// nothing is published. If the copy equals the current state the revision
// stays unchanged. Otherwise the copy is published as revision+1 and every
// subscriber is notified.
func (s *Store) Apply(mutate func(*State) error) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return cur.Revision, false, err
	}
	if !next.sameLayout(cur) {
		return cur.Revision, false, apperr.InvalidTransition("slot count and timer ids are fixed at startup")
	}
	if next.equal(cur) {
		return cur.Revision, false, nil
	}
	next.Revision = cur.Revision + 1
	s.current.Store(next)
	s.notify(next)
	return next.Revision, true, nil
}

// Subscribe returns a channel that always holds at most the latest published
// state. A slow reader skips intermediate revisions but never misses the
// newest one. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan *State, func()) {
	ch := make(chan *State, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// notify runs under mu, so states reach each channel in revision order.
func (s *Store) notify(st *State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// drop the stale pending state
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
