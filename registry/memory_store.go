package registry

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and standalone mode
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*Service
	health   map[string][]HealthRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string]*Service),
		health:   make(map[string][]HealthRecord),
	}
}

func (m *MemoryStore) SaveService(ctx context.Context, svc *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.Name] = svc.clone()
	return nil
}

func (m *MemoryStore) DeleteService(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, name)
	delete(m.health, name)
	return nil
}

func (m *MemoryStore) LoadAll(ctx context.Context) ([]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.clone())
	}
	return out, nil
}

func (m *MemoryStore) AppendHealth(ctx context.Context, name string, record HealthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.health[name], record)
	// Keep a bounded history per service
	if len(history) > maxHealthHistory {
		history = history[len(history)-maxHealthHistory:]
	}
	m.health[name] = history
	return nil
}

func (m *MemoryStore) HealthHistory(ctx context.Context, name string, limit int) ([]HealthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.health[name]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]HealthRecord, len(history))
	copy(out, history)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
