package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps the artifact in process memory. Nothing survives a restart;
// it exists for development and tests.
type Memory struct {
	mu       sync.RWMutex
	data     []byte
	exists   bool
	archived [][]byte
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, fmt.Errorf("storage: read memory artifact: %w", ErrNotExist)
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.exists = true
	return nil
}

func (m *Memory) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.exists = false
	return nil
}

func (m *Memory) Archive(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, append([]byte(nil), data...))
	return nil
}

// Archived returns copies of everything passed to Archive.
func (m *Memory) Archived() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.archived))
	for i, b := range m.archived {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

var (
	_ Backend  = (*Memory)(nil)
	_ Archiver = (*Memory)(nil)
)
