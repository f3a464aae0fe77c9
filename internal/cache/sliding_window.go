// DLGuard - Download Abuse Protection and IP Ban Management
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dlguard

package cache

import (
	"sync"
	"time"
)

// SlidingWindowStore counts timestamped entries per key over a trailing
// window. Unlike a bucketed counter it can release a single entry, which is
// what a reservation needs when the reserved download is later recorded.
//
// Memory is O(live entries); expired entries are pruned lazily on access and
// in bulk by CleanupInactive.
type SlidingWindowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time // per key, oldest first
	window  time.Duration
	maxKeys int // 0 = unlimited
	now     func() time.Time
}

// NewSlidingWindowStore creates a store whose entries live for window.
func NewSlidingWindowStore(window time.Duration, maxKeys int) *SlidingWindowStore {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &SlidingWindowStore{
		entries: make(map[string][]time.Time),
		window:  window,
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

// Add records one entry for key.
func (s *SlidingWindowStore) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.prune(key, now)
	if live == nil && s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
		s.evictOne()
	}
	s.entries[key] = append(live, now)
}

// Release removes the oldest live entry for key. It reports whether an entry
// was removed.
func (s *SlidingWindowStore) Release(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.prune(key, s.now())
	if len(live) == 0 {
		return false
	}
	if len(live) == 1 {
		delete(s.entries, key)
		return true
	}
	s.entries[key] = live[1:]
	return true
}

// Count returns the number of live entries for key.
func (s *SlidingWindowStore) Count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.prune(key, s.now())))
}

// Len returns the number of keys with entries, including expired ones not
// yet pruned.
func (s *SlidingWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Total returns the number of live entries across all keys.
func (s *SlidingWindowStore) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var total int64
	for key := range s.entries {
		total += int64(len(s.prune(key, now)))
	}
	return total
}

// CleanupInactive drops keys whose entries have all expired and returns the
// number of keys removed.
func (s *SlidingWindowStore) CleanupInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key := range s.entries {
		if s.prune(key, now) == nil {
			removed++
		}
	}
	return removed
}

// Clear removes every entry.
func (s *SlidingWindowStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]time.Time)
}

// prune drops expired entries for key and returns what is left (nil when
// nothing is). Must be called with lock held.
func (s *SlidingWindowStore) prune(key string, now time.Time) []time.Time {
	list, ok := s.entries[key]
	if !ok {
		return nil
	}
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(list) && !list[i].After(cutoff) {
		i++
	}
	if i == len(list) {
		delete(s.entries, key)
		return nil
	}
	if i > 0 {
		list = list[i:]
		s.entries[key] = list
	}
	return list
}

// evictOne removes an arbitrary key when at capacity. Must be called with
// lock held.
func (s *SlidingWindowStore) evictOne() {
	for key := range s.entries {
		delete(s.entries, key)
		return
	}
}
