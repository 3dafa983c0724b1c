package kv

import (
	"context"
	"sync"
)

// Memory es el driver in-process. Un RWMutex global alcanza: el store de
// identidad serializa writers por registro encima de este contrato.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // collection → key → doc
}

// NewMemory crea un store vacío.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := col[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (m *Memory) Save(_ context.Context, collection, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.data[collection]
	if !ok {
		col = make(map[string][]byte)
		m.data[collection] = col
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	col[key] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.data[collection]; ok {
		delete(col, key)
	}
	return nil
}

func (m *Memory) List(_ context.Context, collection string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.data[collection]))
	for k, v := range m.data[collection] {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
