// Package queue provides the durable offline mutation queue.
package queue

import (
	"encoding/json"
	"sync"

	"github.com/fieldsync/fieldsync/internal/models"
)

// MemoryPersistence is an in-memory Persistence implementation for tests and
// non-durable targets. Items are deep-copied through a JSON round trip so a
// stored array cannot alias live store state.
type MemoryPersistence struct {
	mu         sync.Mutex
	partitions map[string][]byte
}

// NewMemoryPersistence creates an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{partitions: make(map[string][]byte)}
}

// Load implements Persistence.
func (m *MemoryPersistence) Load(key string) ([]*models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.partitions[key]
	if !ok {
		return nil, nil
	}
	var items []*models.QueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Save implements Persistence.
func (m *MemoryPersistence) Save(key string, items []*models.QueueItem) error {
	if items == nil {
		items = []*models.QueueItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions[key] = raw
	return nil
}
