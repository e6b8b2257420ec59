package peer

import (
	"sync"

	"github.com/mjffraser/dfd/wire"
)

// FileEntry is one locally-held file available to seed.
type FileEntry struct {
	Path string
	Size uint64
}

// SharedFiles is the seeder's view of locally-held files, shared between
// the command handler (which adds/removes entries as files are indexed or
// dropped) and seeder connections (which only read it). Readers take an
// immutable snapshot under the mutex rather than holding a reference into
// mutable state (spec.md §9 "Cyclic ownership").
type SharedFiles struct {
	mu    sync.Mutex
	files map[wire.FileID]FileEntry
}

// NewSharedFiles returns an empty set.
func NewSharedFiles() *SharedFiles {
	return &SharedFiles{files: make(map[wire.FileID]FileEntry)}
}

// Add publishes fileID as locally available at path with the given size.
func (s *SharedFiles) Add(fileID wire.FileID, entry FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[wire.FileID]FileEntry, len(s.files)+1)
	for k, v := range s.files {
		next[k] = v
	}
	next[fileID] = entry
	s.files = next
}

// Remove unpublishes fileID, if present.
func (s *SharedFiles) Remove(fileID wire.FileID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return
	}
	next := make(map[wire.FileID]FileEntry, len(s.files)-1)
	for k, v := range s.files {
		if k != fileID {
			next[k] = v
		}
	}
	s.files = next
}

// Lookup returns the entry for fileID and whether it was present. It reads
// from a point-in-time snapshot of the map taken under the mutex; later
// Add/Remove calls never mutate that snapshot.
func (s *SharedFiles) Lookup(fileID wire.FileID) (FileEntry, bool) {
	s.mu.Lock()
	snapshot := s.files
	s.mu.Unlock()
	entry, ok := snapshot[fileID]
	return entry, ok
}
