// Package transcript keeps the client's view of a room conversation.
//
// Sent messages are shown immediately as pending entries. When the server
// echoes one back, the echo replaces the pending entry instead of appearing
// twice. A Transcript is not safe for concurrent use.
package transcript

import (
	"time"

	"github.com/Medal-OF-Owner/Chatlet/internal/protocol"
)

const (
	// DuplicateWindow is how far apart a pending entry and its echo may be
	// stamped and still be treated as the same message.
	DuplicateWindow = 5 * time.Second

	DefaultLimit = 500
)

type Kind int

const (
	KindMessage Kind = iota
	KindNotice
)

type Entry struct {
	Kind    Kind
	Message protocol.ChatMessage
	Pending bool
}

type Transcript struct {
	entries []Entry
	ids     map[string]struct{}
	limit   int
	now     func() time.Time
}

func New(limit int) *Transcript {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Transcript{
		ids:   make(map[string]struct{}),
		limit: limit,
		now:   time.Now,
	}
}

// AddPending records a message the local user just sent.
func (t *Transcript) AddPending(nickname, content string) {
	t.append(Entry{
		Pending: true,
		Message: protocol.ChatMessage{
			Nickname:  nickname,
			Content:   content,
			CreatedAt: t.now().UTC(),
		},
	})
}

// Confirm adds a message received from the server. It reports false when
// the message was already known by ID. A matching pending entry is
// replaced in place.
func (t *Transcript) Confirm(m protocol.ChatMessage) bool {
	if m.ID != "" {
		if _, seen := t.ids[m.ID]; seen {
			return false
		}
		t.ids[m.ID] = struct{}{}
	}

	for i := range t.entries {
		e := &t.entries[i]
		if e.Pending && isEcho(e.Message, m) {
			e.Message, e.Pending = m, false
			return true
		}
	}
	t.append(Entry{Message: m})
	return true
}

// LoadHistory confirms each message in order, oldest first.
func (t *Transcript) LoadHistory(msgs []protocol.ChatMessage) {
	for _, m := range msgs {
		t.Confirm(m)
	}
}

// Notice adds a line that is not a chat message, such as a join.
func (t *Transcript) Notice(text string) {
	t.append(Entry{
		Kind:    KindNotice,
		Message: protocol.ChatMessage{Content: text, CreatedAt: t.now().UTC()},
	})
}

func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int { return len(t.entries) }

func (t *Transcript) append(e Entry) {
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.limit; over > 0 {
		for _, old := range t.entries[:over] {
			delete(t.ids, old.Message.ID)
		}
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
}

func isEcho(pending, m protocol.ChatMessage) bool {
	if pending.Nickname != m.Nickname || pending.Content != m.Content {
		return false
	}
	dt := m.CreatedAt.Sub(pending.CreatedAt)
	if dt < 0 {
		dt = -dt
	}
	return dt < DuplicateWindow
}
