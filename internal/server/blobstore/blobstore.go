// Package blobstore keeps attachment bytes, addressed by content hash so
// identical evidence is stored once.
package blobstore

import (
	"context"
	"sync"
)

type Store interface {
	// Put stores data under hash unless it is already present and returns
	// the location of the blob.
	Put(ctx context.Context, hash, mimeType string, data []byte) (string, error)
}

// Key is the object key of a blob.
func Key(hash string) string {
	if len(hash) < 2 {
		return "attachments/" + hash
	}
	return "attachments/" + hash[:2] + "/" + hash
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	puts  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, hash, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(hash)
	if _, ok := m.blobs[key]; !ok {
		m.blobs[key] = append([]byte(nil), data...)
		m.puts++
	}
	return "mem://" + key, nil
}

// Get returns a stored blob.
func (m *MemoryStore) Get(hash string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[Key(hash)]
	return b, ok
}

// Writes returns how many blobs were actually written.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
