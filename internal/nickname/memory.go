package nickname

import (
	"context"
	"sync"
)

// Memory is a single-process Registry. Its contents are lost on restart,
// which only forgets collisions between connections that no longer exist.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Reserve(_ context.Context, nickname string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[nickname]; ok {
		return false, nil
	}
	m.held[nickname] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, nickname string) error {
	m.mu.Lock()
	delete(m.held, nickname)
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsAvailable(_ context.Context, nickname string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.held[nickname]
	return !ok, nil
}

// Len returns the number of held nicknames.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
