package credstore

import (
	"context"
	"sync"
)

type memoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory builds a process-local store. Nothing survives a restart; useful
// for tests and for sessions that must not touch disk.
func NewMemory() *KVStore {
	return &KVStore{b: &memoryBackend{values: make(map[string]string)}}
}

func (m *memoryBackend) get(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryBackend) set(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memoryBackend) del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
