// Package dedup prevents reprocessing of files the engine has already seen.
//
// Polling re-lists the entire remote folder every cycle, so without a
// seen-set every file would be downloaded and relayed again each cycle. The
// KnownSet's only job is avoiding that reprocessing; it is not a precise
// recency tracker, which is why eviction is a coarse oldest-half drop rather
// than strict LRU.
package dedup

import (
	"fmt"
	"sync"
	"time"
)

// KnownSet is a bounded set of file IDs processed in the current watch
// session. When the set grows past max, the oldest half is evicted.
type KnownSet struct {
	mu    sync.Mutex
	max   int
	ids   map[string]struct{}
	order []string // insertion order, oldest first
}

// NewKnownSet creates a set bounded at max entries.
func NewKnownSet(max int) *KnownSet {
	if max < 2 {
		max = 2
	}
	return &KnownSet{
		max: max,
		ids: make(map[string]struct{}),
	}
}

// Add marks an ID as seen. Adding an already-known ID is a no-op.
func (s *KnownSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.ids) > s.max {
		cut := len(s.order) / 2
		for _, old := range s.order[:cut] {
			delete(s.ids, old)
		}
		s.order = append([]string(nil), s.order[cut:]...)
	}
}

// Contains reports whether an ID has been seen.
func (s *KnownSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Remove forgets an ID so a later cycle retries the file.
func (s *KnownSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the current set size.
func (s *KnownSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Fingerprint derives the dedup key for a local filesystem event.
func Fingerprint(name string, size int64, modTime time.Time) string {
	return fmt.Sprintf("%s|%d|%d", name, size, modTime.UnixNano())
}

// FingerprintCache collapses duplicate filesystem events (a create
// immediately followed by a write-finish) into one processing pass. Entries
// expire after a fixed TTL via a periodic sweep.
type FingerprintCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewFingerprintCache creates a cache with the given TTL.
func NewFingerprintCache(ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Seen records a fingerprint and reports whether it was already present and
// unexpired.
func (c *FingerprintCache) Seen(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.entries[fp]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.entries[fp] = now
	return false
}

// Forget drops a fingerprint so the next matching event is processed again.
func (c *FingerprintCache) Forget(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
}

// Sweep drops expired entries and returns how many were removed.
func (c *FingerprintCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for fp, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached fingerprints, expired or not.
func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
