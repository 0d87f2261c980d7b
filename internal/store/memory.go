package store

import (
	"context"
	"encoding/json"
	"sync"
)

type memoryDoc struct {
	body    []byte
	version int64
}

// MemoryBackend keeps root documents in process. Documents are stored encoded
// so Load always hands out a private copy.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]memoryDoc)}
}

func (m *MemoryBackend) Load(_ context.Context, root string) (map[string]any, int64, error) {
	m.mu.RLock()
	d, ok := m.docs[root]
	m.mu.RUnlock()

	if !ok {
		return nil, 0, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(d.body, &doc); err != nil {
		return nil, 0, err
	}

	return doc, d.version, nil
}

func (m *MemoryBackend) Swap(_ context.Context, root string, doc map[string]any, version int64) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[root].version != version {
		return false, nil
	}

	m.docs[root] = memoryDoc{body: body, version: version + 1}
	return true, nil
}
