package cache

import (
	"context"
	"sync"
	"time"
)

// entry stores a cached value, its absolute expiry and its tags.
type entry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
	tags      []string
}

// Store is the in-process entry store. A single RWMutex guards both the
// entries map and the tag index.
type Store struct {
	mu     sync.RWMutex
	clock  Clock
	items  map[string]*entry
	tags   *TagIndex
	closed bool

	// epoch moves on every Delete, RemoveMatching and Flush. A fill that
	// started before the move may hold data the removal meant to scrub.
	epoch uint64
}

// NewStore constructs an empty store. A nil clock selects SystemClock.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Store{
		clock: clock,
		items: make(map[string]*entry),
		tags:  NewTagIndex(),
	}
}

// Get implements Backend.Get. An entry at or past its expiry is never
// returned, whether or not the sweeper has run; it is removed here.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, ErrClosed
	}
	e, ok := s.items[key]
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	if !s.clock.Now().Before(e.expiresAt) {
		s.mu.RUnlock()
		s.mu.Lock()
		// re-check: a concurrent Set may have refreshed the key
		if cur, ok := s.items[key]; ok && !s.clock.Now().Before(cur.expiresAt) {
			s.removeLocked(key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	out := append([]byte(nil), e.value...)
	s.mu.RUnlock()
	return out, true, nil
}

// Set implements Backend.Set.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.setLocked(key, value, ttl, tags)
	return nil
}

// Epoch returns the current removal epoch. Capture it before reading the
// source of truth and hand it to SetIfEpoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// SetIfEpoch stores the entry only if no removal happened since epoch was
// read. It reports whether the entry was stored.
func (s *Store) SetIfEpoch(_ context.Context, key string, value []byte, ttl time.Duration, tags []string, epoch uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.epoch != epoch {
		return false, nil
	}
	s.setLocked(key, value, ttl, tags)
	return true, nil
}

func (s *Store) setLocked(key string, value []byte, ttl time.Duration, tags []string) {
	// old associations go first so a retagged key never lingers in a stale bucket
	if _, exists := s.items[key]; exists {
		s.removeLocked(key)
	}

	now := s.clock.Now()
	e := &entry{
		value:     append([]byte(nil), value...),
		createdAt: now,
		expiresAt: now.Add(ttl),
		tags:      append([]string(nil), tags...),
	}
	s.items[key] = e
	for _, tag := range e.tags {
		s.tags.Associate(tag, key)
	}
}

// Delete implements Backend.Delete.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.epoch++
	s.removeLocked(key)
	return nil
}

// RemoveMatching implements Backend.RemoveMatching. Matching and removal
// happen in one critical section. Matches that had already expired are
// dropped but not reported, since Get no longer returns them.
func (s *Store) RemoveMatching(_ context.Context, patterns []*Pattern) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.epoch++

	matched := make(map[string]struct{})
	for _, p := range patterns {
		if p.IsLiteral() {
			if _, ok := s.items[p.String()]; ok {
				matched[p.String()] = struct{}{}
			}
		} else {
			for key := range s.items {
				if p.Match(key) {
					matched[key] = struct{}{}
				}
			}
		}
		for key := range s.tags.KeysForPattern(p) {
			matched[key] = struct{}{}
		}
	}

	now := s.clock.Now()
	removed := make([]string, 0, len(matched))
	for key := range matched {
		e, ok := s.items[key]
		if !ok {
			continue
		}
		live := now.Before(e.expiresAt)
		s.removeLocked(key)
		if live {
			removed = append(removed, key)
		}
	}
	return removed, nil
}

// Flush implements Backend.Flush. Only unexpired entries are counted.
func (s *Store) Flush(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.epoch++
	now := s.clock.Now()
	n := 0
	for _, e := range s.items {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	s.items = make(map[string]*entry)
	s.tags.Reset()
	return n, nil
}

// Close implements Backend.Close. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = make(map[string]*entry)
	s.tags.Reset()
	return nil
}

// SweepExpired removes at most limit expired entries (limit <= 0 means no
// limit) and reports how many it removed.
func (s *Store) SweepExpired(now time.Time, limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.items {
		if limit > 0 && removed >= limit {
			break
		}
		if !now.Before(e.expiresAt) {
			s.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Len counts entries that have not yet expired.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	n := 0
	for _, e := range s.items {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// TagCount returns the number of tags with at least one key.
func (s *Store) TagCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags.Len()
}

// KeysForTag exposes the tag index read path under the store lock.
func (s *Store) KeysForTag(tag string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.tags.KeysForTag(tag)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// checkConsistency returns the first violation of the entry/tag invariant,
// or "" when both directions agree.
func (s *Store) checkConsistency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, e := range s.items {
		for _, tag := range e.tags {
			if !s.tags.Has(tag, key) {
				return "entry " + key + " missing from tag " + tag
			}
		}
	}
	for _, tag := range s.tags.Tags() {
		for key := range s.tags.KeysForTag(tag) {
			e, ok := s.items[key]
			if !ok {
				return "tag " + tag + " references absent key " + key
			}
			if !containsString(e.tags, tag) {
				return "tag " + tag + " references key " + key + " without that tag"
			}
		}
	}
	return ""
}

// removeLocked deletes key and its tag memberships. Caller holds s.mu.
func (s *Store) removeLocked(key string) bool {
	e, ok := s.items[key]
	if !ok {
		return false
	}
	for _, tag := range e.tags {
		s.tags.Disassociate(tag, key)
	}
	delete(s.items, key)
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ Backend = (*Store)(nil)
