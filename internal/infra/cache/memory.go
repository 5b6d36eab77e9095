// Package cache хранит ключи уже отправленных элементов без даты.
package cache

import (
	"context"
	"sync"

	"rss-mail-digest/internal/domain"
)

// MemorySeenSet множество ключей в памяти процесса.
type MemorySeenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

var _ domain.SeenSet = (*MemorySeenSet)(nil)

// NewMemory создаёт пустое множество.
func NewMemory() *MemorySeenSet {
	return &MemorySeenSet{keys: make(map[string]struct{})}
}

// MarkIfNew добавляет ключ.
func (m *MemorySeenSet) MarkIfNew(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

// Forget удаляет ключ.
func (m *MemorySeenSet) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
