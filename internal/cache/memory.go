package cache

import (
	"sync"
)

// MemoryBackend is an in-memory session backend for testing.
type MemoryBackend struct {
	entries map[string]*SessionEntry
	mu      sync.RWMutex
}

// NewMemoryBackend creates a new in-memory session backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*SessionEntry),
	}
}

// Path returns a dummy path for profile.
func (b *MemoryBackend) Path(profile string) string {
	return "memory://" + profile
}

// Read returns a copy of the entry for profile or nil if absent.
func (b *MemoryBackend) Read(profile string) *SessionEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if entry, ok := b.entries[profile]; ok {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// Write stores a copy of entry.
func (b *MemoryBackend) Write(entry *SessionEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entryCopy := *entry
	b.entries[entry.Profile] = &entryCopy
	return nil
}

// Delete removes the entry for profile.
func (b *MemoryBackend) Delete(profile string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, profile)
	return nil
}

// Len returns the number of stored entries (for testing).
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Seed adds entries directly (for testing).
func (b *MemoryBackend) Seed(entries ...*SessionEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		entryCopy := *entry
		b.entries[entry.Profile] = &entryCopy
	}
}
