package signaling

import (
	"context"
	"slices"
	"sync"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

// Source is anything that yields server events until it is closed.
type Source interface {
	Incoming() <-chan *protocol.Message
}

type subscription struct {
	types map[string]struct{}
	fn    func(*protocol.Message)
}

func (s *subscription) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Handler routes incoming server events to subscribers. Callbacks run on
// the handler goroutine, in subscription order, and must not block.
type Handler struct {
	source Source

	mu   sync.Mutex
	subs map[int]*subscription
	next int

	done chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(source Source) *Handler {
	return &Handler{
		source: source,
		subs:   make(map[int]*subscription),
		done:   make(chan struct{}),
	}
}

// On registers fn for the given event types, or for every event when none
// are given. The returned function unsubscribes.
func (h *Handler) On(fn func(*protocol.Message), types ...string) (unsubscribe func()) {
	sub := &subscription{fn: fn, types: make(map[string]struct{}, len(types))}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Expect waits for the next event of one of the given types.
func (h *Handler) Expect(ctx context.Context, types ...string) (*protocol.Message, error) {
	got := make(chan *protocol.Message, 1)
	unsubscribe := h.On(func(msg *protocol.Message) {
		select {
		case got <- msg:
		default:
		}
	}, types...)
	defer unsubscribe()

	select {
	case msg := <-got:
		return msg, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start routes events until the source closes. Run it in its own goroutine.
func (h *Handler) Start() {
	defer close(h.done)

	for msg := range h.source.Incoming() {
		for _, sub := range h.matching(msg.Type) {
			sub.fn(msg)
		}
	}
}

// Done is closed after the source has closed and every event was routed.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

func (h *Handler) matching(t string) []*subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]int, 0, len(h.subs))
	for id, sub := range h.subs {
		if sub.wants(t) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]*subscription, len(ids))
	for i, id := range ids {
		out[i] = h.subs[id]
	}
	return out
}
