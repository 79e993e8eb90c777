package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// DefaultRetain caps how many messages per room the memory and Redis
// backends keep regardless of age.
const DefaultRetain = 500

// Memory keeps everything in process. It is the default driver for
// development and the backend used by tests.
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]protocol.ChatMessage
	rooms    map[string]*Room
	retain   int
}

func NewMemory(retain int) *Memory {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Memory{
		messages: make(map[string][]protocol.ChatMessage),
		rooms:    make(map[string]*Room),
		retain:   retain,
	}
}

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Append(_ context.Context, msg *protocol.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := append(m.messages[msg.RoomID], *msg)
	if len(log) > m.retain {
		log = append([]protocol.ChatMessage(nil), log[len(log)-m.retain:]...)
	}
	m.messages[msg.RoomID] = log
	return nil
}

func (m *Memory) Recent(_ context.Context, roomID string, limit int) ([]protocol.ChatMessage, error) {
	limit = clampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[roomID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]protocol.ChatMessage(nil), log...), nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for roomID, log := range m.messages {
		i := 0
		for i < len(log) && log[i].CreatedAt.Before(before) {
			i++
		}
		removed += int64(i)
		if i == len(log) {
			delete(m.messages, roomID)
			continue
		}
		m.messages[roomID] = log[i:]
	}
	return removed, nil
}

func (m *Memory) EnsureRoom(_ context.Context, slug string) (*Room, error) {
	s, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[s]; ok {
		cp := *r
		return &cp, nil
	}
	r := &Room{ID: ulid.Make().String(), Slug: s, CreatedAt: time.Now().UTC()}
	m.rooms[s] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) GetRoom(_ context.Context, slug string) (*Room, error) {
	s, err := NormalizeSlug(slug)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[s]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}
