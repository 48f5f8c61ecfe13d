// Package watermark holds the per-container high-water marks of observed
// last-modified times.
package watermark

import (
	"sync"
	"time"

	"github.com/dagucloud/blobtrigger/internal/core/blob"
)

// Entry pairs a tracked container with the latest last-modified time
// observed for any of its objects.
type Entry struct {
	Container blob.Container `json:"container"`
	Watermark time.Time      `json:"watermark"`
}

// Set is an ordered list of entries addressed by index. Indices are stable:
// entries are only ever appended, never removed or reordered, so a poll that
// iterates by index is not disturbed by containers added mid-pass.
//
// Each entry has a single writer, the scan of its own container. The mutex
// only protects the backing slice against concurrent Append.
type Set struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// New returns a set tracking the given containers from EpochStart.
func New(containers ...blob.Container) *Set {
	s := &Set{index: make(map[string]int, len(containers))}
	for _, c := range containers {
		s.Append(c)
	}
	return s
}

// Append starts tracking c from EpochStart and returns its index. Appending a
// container that is already tracked returns the existing index unchanged.
func (s *Set) Append(c blob.Container) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[c.Name]; ok {
		return i
	}
	s.entries = append(s.entries, Entry{Container: c, Watermark: blob.EpochStart})
	i := len(s.entries) - 1
	s.index[c.Name] = i
	return i
}

// Len returns the number of tracked containers.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// At returns a copy of the entry at index i. It panics if i is out of range.
func (s *Set) At(i int) Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[i]
}

// Advance overwrites the watermark at index i and returns the stored value.
// A value older than the current watermark is ignored.
func (s *Set) Advance(i int, t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &s.entries[i]
	if t.After(e.Watermark) {
		e.Watermark = t
	}
	return e.Watermark
}

// Lookup returns the index of the named container.
func (s *Set) Lookup(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[name]
	return i, ok
}

// Entries returns a snapshot of every entry in index order.
func (s *Set) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
